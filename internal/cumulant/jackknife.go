package cumulant

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// Jackknife returns the sample cumulants together with the covariance of the
// N leave-one-out cumulant vectors, restricted to opts.Mask.
//
// The covariance uses 1/N normalization. Each replicate takes the central
// moments of its N-1 observations but keeps the full-sample N in the bias
// correction. Replicates are computed in parallel.
func Jackknife(ctx context.Context, sample []float64, opts Options) (cumulant.Vector, *mat.SymDense, error) {
	if err := validateSample(sample, MinSampleSize(opts.BiasCorrect)); err != nil {
		return cumulant.Vector{}, nil, err
	}
	mean, m, n := centralMoments(sample, -1)
	k := fromMoments(mean, m, n, opts.BiasCorrect)

	replicates, err := leaveOneOut(ctx, sample, opts)
	if err != nil {
		return cumulant.Vector{}, nil, err
	}

	cov := PopulationCovariance(replicates)
	if err := checkFinite("jackknife covariance", cov); err != nil {
		return cumulant.Vector{}, nil, err
	}
	restricted, err := Restrict(cov, opts.Mask)
	if err != nil {
		return cumulant.Vector{}, nil, err
	}
	return k, restricted, nil
}

// leaveOneOut returns an N x MaxOrder matrix whose row i holds the cumulants of
// the sample without observation i.
func leaveOneOut(ctx context.Context, sample []float64, opts Options) (*mat.Dense, error) {
	n := len(sample)
	replicates := mat.NewDense(n, cumulant.MaxOrder, nil)

	workers := opts.workers()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				mean, m, _ := centralMoments(sample, i)
				k := fromMoments(mean, m, n, opts.BiasCorrect)
				// rows are disjoint between workers
				replicates.SetRow(i, k[:])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replicates, nil
}

// PopulationCovariance returns the covariance of the rows of x with 1/N
// normalization, i.e. (N-1)/N times the unbiased estimate.
func PopulationCovariance(x mat.Matrix) *mat.SymDense {
	r, c := x.Dims()
	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, x, nil)
	cov.ScaleSym(float64(r-1)/float64(r), cov)
	return cov
}

// SampleCovariance returns the unbiased (1/(N-1)) covariance of the rows of x.
func SampleCovariance(x mat.Matrix) *mat.SymDense {
	_, c := x.Dims()
	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return cov
}
