// Package experiment sweeps the estimator over simulated data sets and
// summarizes the spread of the estimates.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	"github.com/priceal/generalized-method-of-moments/internal"
	"github.com/priceal/generalized-method-of-moments/internal/gmm"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// Method is one named estimation configuration applied to every trial.
//
// A two-pass method ignores Weighting and Diagonal: it runs a diagonal
// jackknife global search at the sweep order, then an interpolated
// refinement per RefineOrders entry, and reports a cell for every pass.
type Method struct {
	Name         string `mapstructure:"name" json:"name"`
	Weighting    string `mapstructure:"weighting" json:"weighting"` // iden, jack, mc or int
	Diagonal     bool   `mapstructure:"diagonal" json:"diagonal"`
	TwoPass      bool   `mapstructure:"two_pass" json:"two_pass"`
	RefineOrders []int  `mapstructure:"refine_orders" json:"refine_orders,omitempty"` // default 3 and 4
}

// Pass labels of a two-pass method's cells.
const (
	StageFirst  = "first"
	StageRefine = "refine"
)

// passes returns the order of every reported pass of m.
func (m Method) passes(order int) []int {
	if !m.TwoPass {
		return []int{order}
	}
	return append([]int{order}, m.refineOrders()...)
}

func (m Method) refineOrders() []int {
	if len(m.RefineOrders) == 0 {
		return []int{3, 4}
	}
	return m.RefineOrders
}

// Sweep is a grid of simulation settings. Every combination of true decay
// times, sample size and order is simulated Trials times and each simulated
// sample is analysed by every method.
type Sweep struct {
	Taus        [][]float64 `mapstructure:"taus" json:"taus"`
	SampleSizes []int       `mapstructure:"sample_sizes" json:"sample_sizes"`
	Orders      []int       `mapstructure:"orders" json:"orders"`
	Trials      int         `mapstructure:"trials" json:"trials"`
	Starts      [][]float64 `mapstructure:"starts" json:"starts"`
	Methods     []Method    `mapstructure:"methods" json:"methods"`
	BiasCorrect bool        `mapstructure:"bias_correct" json:"bias_correct"`
	MCTrials    int         `mapstructure:"mc_trials" json:"mc_trials"`
	Seed        uint64      `mapstructure:"seed" json:"seed"`
	RunID       string      `mapstructure:"run_id" json:"run_id,omitempty"` // fixed report id, generated when empty
}

// Validate checks the sweep for obvious shape errors.
func (s Sweep) Validate() error {
	switch {
	case len(s.Taus) == 0:
		return core.NewInputError("sweep.taus", "at least one parameter set required")
	case len(s.SampleSizes) == 0:
		return core.NewInputError("sweep.sample_sizes", "at least one sample size required")
	case len(s.Orders) == 0:
		return core.NewInputError("sweep.orders", "at least one order required")
	case s.Trials <= 0:
		return core.NewInputError("sweep.trials", "must be positive")
	case len(s.Starts) == 0:
		return core.NewInputError("sweep.starts", "at least one initial guess required")
	case len(s.Methods) == 0:
		return core.NewInputError("sweep.methods", "at least one method required")
	}
	steps := len(s.Starts[0])
	for _, taus := range s.Taus {
		if len(taus) != steps {
			return core.NewInputError("sweep.taus", fmt.Sprintf("%v has %d steps, starts have %d", taus, len(taus), steps))
		}
		if err := estimate.Taus(taus).Validate(); err != nil {
			return core.NewInputError("sweep.taus", err.Error())
		}
	}
	for _, m := range s.Methods {
		for _, o := range m.RefineOrders {
			if o < 1 || o > 6 {
				return core.NewInputError("sweep.methods", fmt.Sprintf("%s: refine order %d out of range 1..6", m.Name, o))
			}
		}
	}
	return nil
}

// Cell is the outcome of one (taus, N, order, method) combination.
type Cell struct {
	Taus         []float64 `json:"taus"`
	SampleSize   int       `json:"sample_size"`
	Order        int       `json:"order"`
	Method       string    `json:"method"`
	Stage        string    `json:"stage,omitempty"` // pass of a two-pass method
	Steps        []Summary `json:"steps"` // per sorted step, smallest decay time first
	Failures     int       `json:"failures"`
	NotConverged int       `json:"not_converged"`
}

// Report is the result of a sweep.
type Report struct {
	ID      core.RunID    `json:"id"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Cells   []Cell        `json:"cells"`
}

// Runner executes sweeps. Trials run concurrently, bounded by a shared semaphore.
type Runner struct {
	estimator *gmm.Estimator
	factory   ports.SourceFactory
	table     ports.CovarianceLookup
	sem       *semaphore.Weighted
	logger    *internal.Logger
}

// NewRunner creates a runner. table may be nil when no method uses
// interpolated weighting. workers <= 0 means GOMAXPROCS.
func NewRunner(est *gmm.Estimator, factory ports.SourceFactory, table ports.CovarianceLookup, workers int, logger *internal.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Runner{
		estimator: est,
		factory:   factory,
		table:     table,
		sem:       semaphore.NewWeighted(int64(workers)),
		logger:    logger.WithComponent("experiment"),
	}
}

// trialOutcome holds the sorted estimates of one trial per method and pass.
type trialOutcome struct {
	estimates [][][]float64 // [method][pass][step], nil on failure
	converged [][]bool
}

// Run executes the sweep.
func (r *Runner) Run(ctx context.Context, sweep Sweep) (*Report, error) {
	if err := sweep.Validate(); err != nil {
		return nil, err
	}
	id := core.NewRunID()
	if sweep.RunID != "" {
		parsed, err := core.ParseRunID(sweep.RunID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	report := &Report{ID: id, Started: time.Now()}
	r.logger.Info("sweep %s: %d parameter sets x %d sizes x %d orders x %d trials", report.ID,
		len(sweep.Taus), len(sweep.SampleSizes), len(sweep.Orders), sweep.Trials)

	starts := make([]estimate.Taus, len(sweep.Starts))
	for i, s := range sweep.Starts {
		starts[i] = estimate.Taus(s)
	}

	config := 0
	for _, taus := range sweep.Taus {
		for _, n := range sweep.SampleSizes {
			for _, order := range sweep.Orders {
				r.logger.Info("sweep %s: taus=%v N=%d order=%d", report.ID, taus, n, order)
				outcomes, err := r.runTrials(ctx, sweep, taus, n, order, starts, uint64(config))
				if err != nil {
					return nil, err
				}
				cells, err := summarizeCells(sweep.Methods, taus, n, order, outcomes)
				if err != nil {
					return nil, err
				}
				report.Cells = append(report.Cells, cells...)
				config++
			}
		}
	}
	report.Elapsed = time.Since(report.Started)
	r.logger.Info("sweep %s finished in %s", report.ID, report.Elapsed)
	return report, nil
}

func (r *Runner) runTrials(ctx context.Context, sweep Sweep, taus []float64, n, order int, starts []estimate.Taus, config uint64) ([]trialOutcome, error) {
	outcomes := make([]trialOutcome, sweep.Trials)
	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < sweep.Trials; t++ {
		seed := sweep.Seed + config*uint64(sweep.Trials) + uint64(t)
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer r.sem.Release(1)

			out, err := r.trial(gctx, sweep, taus, n, order, starts, seed)
			if err != nil {
				return err
			}
			outcomes[t] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// trial simulates one sample and analyses it with every method. Estimation
// failures are recorded, not returned; only simulation and configuration
// errors abort the sweep.
func (r *Runner) trial(ctx context.Context, sweep Sweep, taus []float64, n, order int, starts []estimate.Taus, seed uint64) (trialOutcome, error) {
	src := r.factory(seed)
	times, err := src.SampleN(taus, n)
	if err != nil {
		return trialOutcome{}, err
	}

	out := trialOutcome{
		estimates: make([][][]float64, len(sweep.Methods)),
		converged: make([][]bool, len(sweep.Methods)),
	}
	for i, m := range sweep.Methods {
		passes := len(m.passes(order))
		out.estimates[i] = make([][]float64, passes)
		out.converged[i] = make([]bool, passes)
		if m.TwoPass {
			if err := r.twoPass(ctx, sweep, m, times, order, starts, out.estimates[i], out.converged[i]); err != nil {
				return trialOutcome{}, err
			}
			continue
		}

		w, err := gmm.ParseWeighting(m.Weighting, sweep.MCTrials, src, r.table)
		if err != nil {
			return trialOutcome{}, fmt.Errorf("method %q: %w", m.Name, err)
		}
		res, err := r.estimator.GlobalSearchResult(ctx, times, starts, gmm.Options{
			Orders:      estimate.Order(order),
			Diagonal:    m.Diagonal,
			Weighting:   w,
			BiasCorrect: sweep.BiasCorrect,
		})
		if ctx.Err() != nil {
			return trialOutcome{}, ctx.Err()
		}
		if err != nil && !errors.Is(err, core.ErrNotConverged) {
			r.logger.Debug("method %s seed %d: %v", m.Name, seed, err)
			continue
		}
		out.estimates[i][0] = res.Taus
		out.converged[i][0] = res.Converged()
	}
	return out, nil
}

// twoPass runs a two-pass method and records every pass that produced an
// estimate. Only a missing table and cancellation are returned.
func (r *Runner) twoPass(ctx context.Context, sweep Sweep, m Method, times []float64, order int, starts []estimate.Taus, estimates [][]float64, converged []bool) error {
	if r.table == nil {
		return core.NewInputError("method "+m.Name, "two-pass method needs a covariance table")
	}
	res, err := r.estimator.TwoPass(ctx, times, starts, gmm.TwoPassConfig{
		FirstOrder:   order,
		RefineOrders: m.refineOrders(),
		Table:        r.table,
		BiasCorrect:  sweep.BiasCorrect,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		r.logger.Debug("method %s: %v", m.Name, err)
	}
	if res.First.Taus == nil {
		return nil
	}
	estimates[0], converged[0] = res.First.Taus, res.First.Converged()
	for j, refined := range res.Refined {
		estimates[j+1], converged[j+1] = refined.Taus, refined.Converged()
	}
	return nil
}

func summarizeCells(methods []Method, taus []float64, n, order int, outcomes []trialOutcome) ([]Cell, error) {
	var cells []Cell
	for mi, m := range methods {
		for pi, passOrder := range m.passes(order) {
			cell := Cell{Taus: taus, SampleSize: n, Order: passOrder, Method: m.Name}
			if m.TwoPass {
				cell.Stage = StageRefine
				if pi == 0 {
					cell.Stage = StageFirst
				}
			}
			perStep := make([][]float64, len(taus))
			for _, o := range outcomes {
				est := o.estimates[mi][pi]
				if est == nil {
					cell.Failures++
					continue
				}
				if !o.converged[mi][pi] {
					cell.NotConverged++
				}
				for s, v := range est {
					perStep[s] = append(perStep[s], v)
				}
			}
			if len(perStep[0]) > 0 {
				cell.Steps = make([]Summary, len(taus))
				for s, values := range perStep {
					sum, err := Summarize(values)
					if err != nil {
						return nil, err
					}
					cell.Steps[s] = sum
				}
			}
			cells = append(cells, cell)
		}
	}
	return cells, nil
}
