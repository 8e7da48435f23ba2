package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/priceal/generalized-method-of-moments/domain/core"
)

func TestGetCodeFromDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{core.NewInputError("x", "bad"), CodeInvalidInput},
		{core.NewDimensionError("w", 2, 3), CodeInvalidInput},
		{fmt.Errorf("wrapped: %w", core.ErrSingularCovariance), CodeNumerical},
		{core.ErrNotConverged, CodeNotConverged},
		{core.NewSizeNotInTableError(7, []int{5, 10}), CodeTable},
		{stderrors.New("boom"), CodeInternalError},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, GetCode(c.err), "%v", c.err)
	}
}

func TestWrapKeepsInnerCode(t *testing.T) {
	err := Wrap(ConfigInvalid("order out of range"), "validation failed")
	assert.Equal(t, CodeConfigInvalid, GetCode(err))
	assert.Equal(t, "validation failed: order out of range", err.Error())

	err = Wrapf(core.ErrNotConverged, "start %d", 2)
	assert.Equal(t, CodeNotConverged, GetCode(err))
	assert.True(t, stderrors.Is(err, core.ErrNotConverged))

	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, ExitCode(InvalidInput("x")))
	assert.Equal(t, 2, ExitCode(ConfigInvalid("x")))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("%w: limit", core.ErrNotConverged)))
	assert.Equal(t, 1, ExitCode(core.ErrSingularCovariance))
	assert.Equal(t, 1, ExitCode(InternalError("x")))
}
