package cumulant

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// DefaultTrials is the Monte-Carlo trial count used when none is given.
const DefaultTrials = 500

// MonteCarloCovariance estimates the covariance of the sample cumulants at a
// hypothesized parameter set by simulating trials samples of size n. The
// covariance across trials uses 1/(trials-1) normalization.
func MonteCarloCovariance(ctx context.Context, src ports.DwellTimeSource, taus []float64, n, trials int, opts Options) (*mat.SymDense, error) {
	full, err := monteCarloFull(ctx, src, taus, n, trials, opts.BiasCorrect, cumulant.MaxOrder)
	if err != nil {
		return nil, err
	}
	return Restrict(full, opts.Mask)
}

// MonteCarloFull is MonteCarloCovariance over orders 1..orders without masking.
func MonteCarloFull(ctx context.Context, src ports.DwellTimeSource, taus []float64, n, trials, orders int, biasCorrect bool) (*mat.SymDense, error) {
	if orders < 1 || orders > cumulant.MaxOrder {
		return nil, core.NewInputError("orders", fmt.Sprintf("%d outside 1..%d", orders, cumulant.MaxOrder))
	}
	return monteCarloFull(ctx, src, taus, n, trials, biasCorrect, orders)
}

func monteCarloFull(ctx context.Context, src ports.DwellTimeSource, taus []float64, n, trials int, biasCorrect bool, orders int) (*mat.SymDense, error) {
	if src == nil {
		return nil, core.NewInputError("source", "Monte-Carlo covariance needs a dwell-time source")
	}
	if trials < 2 {
		return nil, core.NewInputError("trials", fmt.Sprintf("need at least 2, got %d", trials))
	}
	if n < MinSampleSize(biasCorrect) {
		return nil, fmt.Errorf("%w: Monte-Carlo sample size %d", core.ErrInsufficientData, n)
	}

	k := mat.NewDense(trials, orders, nil)
	for t := 0; t < trials; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		times, err := src.SampleN(taus, n)
		if err != nil {
			return nil, fmt.Errorf("simulating trial %d: %w", t, err)
		}
		mean, m, size := centralMoments(times, -1)
		v := fromMoments(mean, m, size, biasCorrect)
		k.SetRow(t, v[:orders])
	}

	cov := SampleCovariance(k)
	if err := checkFinite("monte-carlo covariance", cov); err != nil {
		return nil, err
	}
	return cov, nil
}
