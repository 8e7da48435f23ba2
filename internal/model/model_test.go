package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

func TestCumulantsOneStep(t *testing.T) {
	k := Cumulants([]float64{10})
	want := []float64{10, 100, 2000, 60000, 2.4e6, 1.2e8}
	for i, w := range want {
		assert.InEpsilon(t, w, k[i], 1e-12, "order %d", i+1)
	}
}

func TestCumulantsAreAdditive(t *testing.T) {
	a := Cumulants([]float64{2})
	b := Cumulants([]float64{7})
	ab := Cumulants([]float64{7, 2})
	for i := range ab {
		assert.InEpsilon(t, a[i]+b[i], ab[i], 1e-12)
	}
}

func TestJacobian(t *testing.T) {
	m, _ := cumulant.MaskOf(1, 3)
	j := Jacobian([]float64{2, 5}, m)
	r, c := j.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, c)
	assert.Equal(t, 1.0, j.At(0, 0))
	assert.Equal(t, 1.0, j.At(0, 1))
	// d(2 tau^3)/d tau = 6 tau^2
	assert.Equal(t, 24.0, j.At(1, 0))
	assert.Equal(t, 150.0, j.At(1, 1))
}

func TestCostZeroAtTruth(t *testing.T) {
	taus := []float64{3, 8}
	mask := cumulant.FirstN(4)
	obs := Cumulants(taus).Select(mask)
	cost, err := Cost(taus, obs, identityW(4), mask)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cost)

	grad, err := Gradient(taus, obs, identityW(4), mask)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, grad)
}

func TestCostNonNegativeAndSymmetricInSteps(t *testing.T) {
	mask := cumulant.FirstN(3)
	w := pdWeight()
	obs := []float64{12, 80, 900}
	for _, taus := range [][]float64{{1, 1}, {2, 9}, {4, 30}, {0.5, 100}} {
		c1, err := Cost(taus, obs, w, mask)
		require.NoError(t, err)
		c2, err := Cost([]float64{taus[1], taus[0]}, obs, w, mask)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c1, 0.0)
		assert.InDelta(t, c1, c2, 1e-12*math.Max(1, c1))
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	mask := cumulant.FirstN(3)
	obs := []float64{12, 80, 900}
	weights := map[string]mat.Matrix{
		"symmetric":  pdWeight(),
		"asymmetric": mat.NewDense(3, 3, []float64{1, 0.3, 0, 0, 2, 0.1, 0.2, 0, 0.5}),
	}
	for name, w := range weights {
		p, err := NewProblem(obs, w, mask)
		require.NoError(t, err)

		taus := []float64{2.5, 6}
		grad := make([]float64, 2)
		p.Gradient(grad, taus)
		for i := range taus {
			h := 1e-6 * taus[i]
			up := append([]float64(nil), taus...)
			dn := append([]float64(nil), taus...)
			up[i] += h
			dn[i] -= h
			fd := (p.Cost(up) - p.Cost(dn)) / (2 * h)
			assert.InEpsilon(t, fd, grad[i], 1e-5, "%s d/dtau%d", name, i)
		}
	}
}

func TestProblemRejectsShapeMismatch(t *testing.T) {
	mask := cumulant.FirstN(2)
	_, err := NewProblem([]float64{1, 2, 3}, identityW(2), mask)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = NewProblem([]float64{1, 2}, identityW(3), mask)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = NewProblem(nil, identityW(1), 0)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = Residual([]float64{1}, []float64{1}, mask)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestResidualSign(t *testing.T) {
	g, err := Residual([]float64{2}, []float64{1, 1}, cumulant.FirstN(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3}, g)
}

func identityW(n int) *mat.SymDense {
	w := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		w.SetSym(i, i, 1)
	}
	return w
}

func pdWeight() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		2, 0.5, 0.1,
		0.5, 1, 0.2,
		0.1, 0.2, 0.5,
	})
}
