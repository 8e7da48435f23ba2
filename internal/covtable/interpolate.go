package covtable

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	cumulants "github.com/priceal/generalized-method-of-moments/internal/cumulant"
)

// Interpolate returns the cumulant covariance for a two-step chain with decay
// times taus and sample size n, restricted to mask.
//
// The sample size must be a grid size. The ratio max/min is linearly
// interpolated between its bracketing grid ratios and clamped to the grid
// edges; entry (i,j) is then rescaled by min(tau)^(i+j+2).
func (t *Table) Interpolate(taus []float64, n int, mask cumulant.OrderMask) (*mat.SymDense, error) {
	if len(taus) != 2 {
		return nil, core.NewInputError("taus", fmt.Sprintf("table interpolation is two-step only, got %d steps", len(taus)))
	}
	if err := estimate.Taus(taus).Validate(); err != nil {
		return nil, core.NewInputError("taus", err.Error())
	}
	if mask.Highest() > t.orders {
		return nil, fmt.Errorf("%w: order %d requested, table holds orders 1..%d", core.ErrDimensionMismatch, mask.Highest(), t.orders)
	}

	lo, hi := math.Min(taus[0], taus[1]), math.Max(taus[0], taus[1])
	s := hi / lo

	si, ok := t.sizeIndex(n)
	if !ok {
		return nil, core.NewSizeNotInTableError(n, t.sizes)
	}

	a, b, w := t.bracket(s)
	lower, upper := t.cov[si][a], t.cov[si][b]
	scaled := mat.NewSymDense(t.orders, nil)
	for i := 0; i < t.orders; i++ {
		for j := i; j < t.orders; j++ {
			v := (1-w)*lower.At(i, j) + w*upper.At(i, j)
			scaled.SetSym(i, j, v*math.Pow(lo, float64(i+j+2)))
		}
	}
	return cumulants.Restrict(scaled, mask)
}

// Covariance implements ports.CovarianceLookup.
func (t *Table) Covariance(taus []float64, n int, mask cumulant.OrderMask) (*mat.SymDense, error) {
	return t.Interpolate(taus, n, mask)
}

// bracket returns the grid indices around s and the weight of the upper one.
func (t *Table) bracket(s float64) (lower, upper int, weight float64) {
	last := len(t.ratios) - 1
	switch {
	case s <= t.ratios[0]:
		return 0, 0, 0
	case s >= t.ratios[last]:
		return last, last, 0
	}
	j := sort.SearchFloat64s(t.ratios, s)
	if t.ratios[j] == s {
		return j, j, 0
	}
	return j - 1, j, (s - t.ratios[j-1]) / (t.ratios[j] - t.ratios[j-1])
}
