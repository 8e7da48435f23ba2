package covtable

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	cumulants "github.com/priceal/generalized-method-of-moments/internal/cumulant"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// BuildConfig describes the grid to simulate.
type BuildConfig struct {
	SampleSizes []int
	Ratios      []float64
	Orders      int  // cumulant orders per matrix, default 4
	Trials      int  // Monte-Carlo trials per cell, default cumulants.DefaultTrials
	BiasCorrect bool
	Seed        uint64
	Workers     int // 0 means GOMAXPROCS
}

// UnitRatios returns the canonical ratio grid 1, 2, ..., n.
func UnitRatios(n int) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = float64(i + 1)
	}
	return r
}

// Build simulates every grid cell at decay times [1, ratio]. Cell k uses the
// source factory(Seed+k), so a build is reproducible regardless of scheduling.
func Build(ctx context.Context, cfg BuildConfig, factory ports.SourceFactory) (*Table, error) {
	if factory == nil {
		return nil, core.NewInputError("factory", "a dwell-time source factory is required")
	}
	if cfg.Orders == 0 {
		cfg.Orders = 4
	}
	if cfg.Trials == 0 {
		cfg.Trials = cumulants.DefaultTrials
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	tensor := make([][][][]float64, len(cfg.SampleSizes))
	for i := range tensor {
		tensor[i] = make([][][]float64, len(cfg.Ratios))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, n := range cfg.SampleSizes {
		for j, ratio := range cfg.Ratios {
			seed := cfg.Seed + uint64(i*len(cfg.Ratios)+j)
			g.Go(func() error {
				cov, err := cumulants.MonteCarloFull(gctx, factory(seed), []float64{1, ratio}, n, cfg.Trials, cfg.Orders, cfg.BiasCorrect)
				if err != nil {
					return fmt.Errorf("cell N=%d ratio=%g: %w", n, ratio, err)
				}
				tensor[i][j] = toRows(cov)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(cfg.SampleSizes, cfg.Ratios, tensor)
}
