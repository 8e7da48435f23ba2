// Package cumulant estimates sample cumulants of dwell-time data and the
// sampling covariance of those estimates.
package cumulant

import (
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// Options controls a cumulant computation.
type Options struct {
	Mask        cumulant.OrderMask // orders returned by covariance estimates
	BiasCorrect bool               // finite-sample correction for orders 2-4
	Workers     int                // jackknife parallelism; 0 means GOMAXPROCS
}

// DefaultOptions returns orders 1-4 with bias correction.
func DefaultOptions() Options {
	return Options{Mask: cumulant.FirstN(4), BiasCorrect: true}
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// MinSampleSize is the smallest sample the estimator accepts.
func MinSampleSize(biasCorrect bool) int {
	if biasCorrect {
		// k4 correction divides by N-3
		return 4
	}
	return 2
}

// Compute returns the six sample cumulants of sample. The mask is not applied;
// callers select orders with Vector.Select.
func Compute(sample []float64, opts Options) (cumulant.Vector, error) {
	if err := validateSample(sample, MinSampleSize(opts.BiasCorrect)); err != nil {
		return cumulant.Vector{}, err
	}
	mean, m, n := centralMoments(sample, -1)
	return fromMoments(mean, m, n, opts.BiasCorrect), nil
}

func validateSample(sample []float64, min int) error {
	if len(sample) < min {
		return fmt.Errorf("%w: need at least %d dwell times, got %d", core.ErrInsufficientData, min, len(sample))
	}
	for i, x := range sample {
		if !(x > 0) || math.IsInf(x, 0) {
			return core.NewSampleError(i, x)
		}
	}
	return nil
}

// centralMoments returns the mean and the 1/N central moments m[2]..m[6],
// leaving out index skip (or nothing when skip < 0).
func centralMoments(sample []float64, skip int) (float64, [cumulant.MaxOrder + 1]float64, int) {
	var m [cumulant.MaxOrder + 1]float64
	n := 0
	var sum float64
	for i, x := range sample {
		if i == skip {
			continue
		}
		sum += x
		n++
	}
	mean := sum / float64(n)
	for i, x := range sample {
		if i == skip {
			continue
		}
		d := x - mean
		p := d * d
		for k := 2; k <= cumulant.MaxOrder; k++ {
			m[k] += p
			p *= d
		}
	}
	for k := 2; k <= cumulant.MaxOrder; k++ {
		m[k] /= float64(n)
	}
	return mean, m, n
}

// fromMoments converts central moments to cumulants. With biasCorrect the
// orders 2-4 use the unbiased k-statistics; orders 5 and 6 always use the
// moment identities, which carry no small-sample correction.
func fromMoments(mean float64, m [cumulant.MaxOrder + 1]float64, n int, biasCorrect bool) cumulant.Vector {
	m2, m3, m4, m5, m6 := m[2], m[3], m[4], m[5], m[6]
	k := cumulant.Vector{mean}
	if biasCorrect {
		N := float64(n)
		k[1] = m2 * N / (N - 1)
		k[2] = m3 * N * N / ((N - 1) * (N - 2))
		k[3] = (m4*(N+1) - 3*m2*m2*(N-1)) * N * N / ((N - 1) * (N - 2) * (N - 3))
	} else {
		k[1] = m2
		k[2] = m3
		k[3] = m4 - 3*m2*m2
	}
	k[4] = m5 - 10*m3*m2
	k[5] = m6 - 15*m4*m2 - 10*m3*m3 + 30*m2*m2*m2
	return k
}

// Restrict copies the rows and columns of full that belong to the active
// orders. full is indexed from order 1.
func Restrict(full mat.Symmetric, mask cumulant.OrderMask) (*mat.SymDense, error) {
	dim := full.SymmetricDim()
	if mask.Count() == 0 {
		return nil, core.NewInputError("orders", "no cumulant orders selected")
	}
	if mask.Highest() > dim {
		return nil, fmt.Errorf("%w: order %d requested from a %dx%d covariance", core.ErrDimensionMismatch, mask.Highest(), dim, dim)
	}
	orders := mask.Orders()
	out := mat.NewSymDense(len(orders), nil)
	for i, a := range orders {
		for j := i; j < len(orders); j++ {
			out.SetSym(i, j, full.At(a-1, orders[j]-1))
		}
	}
	return out, nil
}

func checkFinite(what string, m mat.Matrix) error {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d,%d]=%v", core.ErrNonFinite, what, i, j, v)
			}
		}
	}
	return nil
}
