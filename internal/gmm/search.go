package gmm

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
)

// GlobalSearch runs Estimate from every start and returns the sorted decay
// times of the lowest-cost run. See GlobalSearchResult.
func (e *Estimator) GlobalSearch(ctx context.Context, sample []float64, starts []estimate.Taus, opts Options) (estimate.Taus, error) {
	best, err := e.GlobalSearchResult(ctx, sample, starts, opts)
	return best.Taus, err
}

// GlobalSearchResult runs one local search per start and returns the run with
// the minimum cost, ties going to the earliest start. Runs that stopped on a
// limit still compete; runs that failed outright are skipped. If the winner did
// not converge its result is returned with an error wrapping
// core.ErrNotConverged.
func (e *Estimator) GlobalSearchResult(ctx context.Context, sample []float64, starts []estimate.Taus, opts Options) (estimate.Result, error) {
	if len(starts) == 0 {
		return estimate.Result{}, core.NewInputError("starts", "at least one initial guess required")
	}
	steps := starts[0].Steps()
	for i, s := range starts {
		if s.Steps() != steps {
			return estimate.Result{}, core.NewInputError("starts", fmt.Sprintf("start %d has %d steps, want %d", i, s.Steps(), steps))
		}
	}
	// starts are validated one by one so a bad start is skipped, not fatal
	mask, err := resolveOrders(steps, opts)
	if err != nil {
		return estimate.Result{}, err
	}

	// start-independent weightings share one set of moments
	var shared *moments
	if !dependsOnStart(opts.Weighting) {
		if shared, err = e.prepare(ctx, sample, starts[0], mask, opts); err != nil {
			return estimate.Result{}, err
		}
	}

	type outcome struct {
		res estimate.Result
		err error
	}
	outcomes := make([]outcome, len(starts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.searchWorkers(opts))
	for i, start := range starts {
		g.Go(func() error {
			if err := start.Validate(); err != nil {
				outcomes[i].err = core.NewInputError(fmt.Sprintf("start %d", i), err.Error())
				return nil
			}
			m := shared
			if m == nil {
				var err error
				if m, err = e.prepare(gctx, sample, start, mask, opts); err != nil {
					outcomes[i].err = err
					return nil
				}
			}
			res, err := e.minimize(gctx, m, start)
			outcomes[i] = outcome{res: res, err: err}
			// only cancellation aborts the other starts
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return estimate.Result{}, err
	}

	bestIdx := -1
	var firstErr error
	for i, o := range outcomes {
		if o.err != nil && !errors.Is(o.err, core.ErrNotConverged) {
			if firstErr == nil {
				firstErr = fmt.Errorf("start %v: %w", []float64(starts[i]), o.err)
			}
			continue
		}
		if bestIdx < 0 || o.res.Cost < outcomes[bestIdx].res.Cost {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return estimate.Result{}, firstErr
	}

	best := outcomes[bestIdx]
	e.logger.Debug("global search over %d starts: best start %v cost=%.6g", len(starts), []float64(starts[bestIdx]), best.res.Cost)
	return best.res, best.err
}

// searchWorkers returns the parallelism for multi-start runs. Monte-Carlo
// weighting draws from a single source, so its starts run one at a time.
func (e *Estimator) searchWorkers(opts Options) int {
	if _, ok := opts.Weighting.(MonteCarlo); ok {
		return 1
	}
	if e.cfg.Workers > 0 {
		return e.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}
