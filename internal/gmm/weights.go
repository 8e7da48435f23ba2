package gmm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	cumulants "github.com/priceal/generalized-method-of-moments/internal/cumulant"
)

// maxCondition bounds the condition number of the correlation matrix that is
// inverted for full weighting.
const maxCondition = 1e14

// moments are the observed cumulants and the weight matrix of one estimation.
type moments struct {
	observed []float64
	weight   mat.Symmetric
	mask     cumulant.OrderMask
}

// prepare computes the observed cumulants and the weight matrix for the
// chosen scheme. start is the initial guess; only Monte-Carlo and
// interpolated weighting depend on it.
func (e *Estimator) prepare(ctx context.Context, sample []float64, start estimate.Taus, mask cumulant.OrderMask, opts Options) (*moments, error) {
	copts := cumulants.Options{Mask: mask, BiasCorrect: opts.BiasCorrect, Workers: e.cfg.Workers}

	var (
		k   cumulant.Vector
		cov *mat.SymDense
		err error
	)
	switch w := opts.Weighting.(type) {
	case Identity:
		if k, err = cumulants.Compute(sample, copts); err != nil {
			return nil, err
		}
		return &moments{observed: k.Select(mask), weight: identity(mask.Count()), mask: mask}, nil
	case Jackknife:
		k, cov, err = cumulants.Jackknife(ctx, sample, copts)
	case MonteCarlo:
		if w.Source == nil {
			return nil, core.NewInputError("weighting", "monte-carlo weighting needs a dwell-time source")
		}
		if k, err = cumulants.Compute(sample, copts); err != nil {
			return nil, err
		}
		cov, err = cumulants.MonteCarloCovariance(ctx, w.Source, start, len(sample), w.trials(), copts)
	case Interpolated:
		if w.Table == nil {
			return nil, core.NewInputError("weighting", "interpolated weighting needs a covariance table")
		}
		if k, err = cumulants.Compute(sample, copts); err != nil {
			return nil, err
		}
		cov, err = w.Table.Covariance(start, len(sample), mask)
	case nil:
		return nil, core.NewInputError("weighting", "no weighting scheme given")
	default:
		return nil, core.NewInputError("weighting", fmt.Sprintf("unsupported scheme %T", w))
	}
	if err != nil {
		return nil, err
	}
	if err := mask.CheckDim("covariance", cov.SymmetricDim(), cov.SymmetricDim()); err != nil {
		return nil, err
	}

	weight, err := WeightMatrix(cov, opts.Diagonal)
	if err != nil {
		return nil, fmt.Errorf("%s weighting over orders %s: %w", opts.Weighting.Name(), mask, err)
	}
	return &moments{observed: k.Select(mask), weight: weight, mask: mask}, nil
}

func identity(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

// WeightMatrix inverts a cumulant covariance. With diagonal set only the
// variances are inverted. Full inversion goes through the correlation matrix
// so cumulants of very different magnitude do not spoil the conditioning.
func WeightMatrix(cov mat.Symmetric, diagonal bool) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	scale := make([]float64, n)
	for i := range scale {
		v := cov.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: variance of order index %d is %v", core.ErrSingularCovariance, i, v)
		}
		scale[i] = 1 / math.Sqrt(v)
	}

	if diagonal {
		w := mat.NewSymDense(n, nil)
		for i, s := range scale {
			w.SetSym(i, i, s*s)
		}
		return w, nil
	}

	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, cov.At(i, j)*scale[i]*scale[j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(corr); !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", core.ErrSingularCovariance)
	}
	if c := chol.Cond(); c > maxCondition || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: condition number %.3g", core.ErrSingularCovariance, c)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSingularCovariance, err)
	}

	w := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := inv.At(i, j) * scale[i] * scale[j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: weight[%d,%d]=%v", core.ErrNonFinite, i, j, v)
			}
			w.SetSym(i, j, v)
		}
	}
	return w, nil
}
