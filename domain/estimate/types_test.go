package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

func TestTausSortedDoesNotMutate(t *testing.T) {
	taus := Taus{30, 10, 20}
	assert.Equal(t, Taus{10, 20, 30}, taus.Sorted())
	assert.Equal(t, Taus{30, 10, 20}, taus)
	assert.Equal(t, 10.0, taus.Min())
	assert.Equal(t, 3, taus.Steps())
}

func TestTausValidate(t *testing.T) {
	assert.NoError(t, Taus{1, 2}.Validate())
	assert.Error(t, Taus{}.Validate())
	assert.Error(t, Taus{1, 0}.Validate())
	assert.Error(t, Taus{-1}.Validate())
}

func TestTausEquivalentIgnoresOrder(t *testing.T) {
	assert.True(t, Taus{10, 50}.Equivalent(Taus{50, 10}, 0))
	assert.True(t, Taus{10, 50}.Equivalent(Taus{50.01, 10}, 1e-3))
	assert.False(t, Taus{10, 50}.Equivalent(Taus{50, 11}, 1e-3))
	assert.False(t, Taus{10}.Equivalent(Taus{10, 10}, 1))
}

func TestOrderSelectionResolve(t *testing.T) {
	assert.Equal(t, cumulant.FirstN(2), Order(2).Resolve(1))
	assert.Equal(t, cumulant.FirstN(3), Order(1).Resolve(3), "order raised to the step count")

	m, _ := cumulant.MaskOf(2, 3)
	assert.Equal(t, m, Mask(m).Resolve(2))
	assert.Equal(t, cumulant.FirstN(3), Mask(m).Resolve(3), "too few orders widens the mask")

	assert.Equal(t, "order 2", Order(2).String())
	assert.Equal(t, "orders {2,3}", Mask(m).String())
}

func TestResultConverged(t *testing.T) {
	assert.True(t, Result{Status: StatusConverged}.Converged())
	assert.False(t, Result{Status: StatusNotConverged}.Converged())
}
