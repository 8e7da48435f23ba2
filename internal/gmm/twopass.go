package gmm

import (
	"context"
	"fmt"

	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// TwoPassConfig describes a coarse global search followed by refinements with
// table-interpolated weighting started from the coarse estimate.
type TwoPassConfig struct {
	FirstOrder   int   // order of the diagonal jackknife global search
	RefineOrders []int // orders of each full interpolated refinement
	Table        ports.CovarianceLookup
	BiasCorrect  bool
}

// DefaultTwoPassConfig searches at order 2 and refines at orders 3 and 4.
func DefaultTwoPassConfig(table ports.CovarianceLookup) TwoPassConfig {
	return TwoPassConfig{
		FirstOrder:   2,
		RefineOrders: []int{3, 4},
		Table:        table,
		BiasCorrect:  true,
	}
}

// TwoPassResult holds the coarse estimate and one refinement per order.
type TwoPassResult struct {
	First   estimate.Result
	Refined []estimate.Result
}

// TwoPass runs the two-step workflow: a diagonal jackknife global search, then
// a full interpolated-weight estimate per refinement order. A refinement that
// stops on a limit is kept and reported through the returned error.
func (e *Estimator) TwoPass(ctx context.Context, sample []float64, starts []estimate.Taus, cfg TwoPassConfig) (TwoPassResult, error) {
	var out TwoPassResult
	first, err := e.GlobalSearchResult(ctx, sample, starts, Options{
		Orders:      estimate.Order(cfg.FirstOrder),
		Diagonal:    true,
		Weighting:   Jackknife{},
		BiasCorrect: cfg.BiasCorrect,
	})
	if first.Taus == nil {
		return out, fmt.Errorf("first pass: %w", err)
	}
	out.First = first
	warn := err

	for _, order := range cfg.RefineOrders {
		res, err := e.Estimate(ctx, sample, first.Taus, Options{
			Orders:      estimate.Order(order),
			Weighting:   Interpolated{Table: cfg.Table},
			BiasCorrect: cfg.BiasCorrect,
		})
		if res.Taus == nil {
			return out, fmt.Errorf("refinement at order %d: %w", order, err)
		}
		if err != nil && warn == nil {
			warn = fmt.Errorf("refinement at order %d: %w", order, err)
		}
		out.Refined = append(out.Refined, res)
	}
	return out, warn
}
