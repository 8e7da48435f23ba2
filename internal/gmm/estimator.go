// Package gmm estimates the decay times of an n-step exponential chain from
// dwell-time samples by the generalized method of moments over cumulants.
package gmm

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	"github.com/priceal/generalized-method-of-moments/internal"
	"github.com/priceal/generalized-method-of-moments/internal/model"
)

// Config bounds the local optimizer and the estimator's parallelism.
type Config struct {
	GradientTol   float64       // gradient infinity-norm threshold
	MaxIterations int           // major BFGS iterations per local search
	MaxRuntime    time.Duration // wall-clock budget per local search, 0 for none
	Workers       int           // parallel starts and jackknife workers, 0 means GOMAXPROCS
}

// DefaultConfig returns the settings used by the batch experiments.
func DefaultConfig() Config {
	return Config{
		GradientTol:   1e-8,
		MaxIterations: 1000,
	}
}

// Options selects the moment conditions and weighting of one estimation.
type Options struct {
	Orders      estimate.OrderSelection
	Diagonal    bool
	Weighting   Weighting
	BiasCorrect bool
}

// DefaultOptions uses as many orders as steps, full jackknife weighting and
// bias-corrected cumulants.
func DefaultOptions() Options {
	return Options{
		Orders:      estimate.Order(1),
		Weighting:   Jackknife{},
		BiasCorrect: true,
	}
}

// Estimator runs weighted GMM minimizations. It holds no per-call state and
// is safe for concurrent use.
type Estimator struct {
	cfg    Config
	logger *internal.Logger
}

// NewEstimator creates an estimator; a nil logger uses internal.DefaultLogger.
func NewEstimator(cfg Config, logger *internal.Logger) *Estimator {
	def := DefaultConfig()
	if cfg.GradientTol <= 0 {
		cfg.GradientTol = def.GradientTol
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Estimator{cfg: cfg, logger: logger.WithComponent("gmm")}
}

// resolve validates the initial guess and returns the active orders.
func resolve(initial estimate.Taus, opts Options) (cumulant.OrderMask, error) {
	if err := initial.Validate(); err != nil {
		return 0, core.NewInputError("initial guess", err.Error())
	}
	return resolveOrders(initial.Steps(), opts)
}

// resolveOrders returns the active orders for a chain of the given length.
func resolveOrders(steps int, opts Options) (cumulant.OrderMask, error) {
	if steps > cumulant.MaxOrder {
		return 0, core.NewInputError("initial guess", fmt.Sprintf("%d steps need more than %d cumulants", steps, cumulant.MaxOrder))
	}
	return opts.Orders.Resolve(steps), nil
}

// Estimate minimizes the GMM cost from initial and returns the decay times
// sorted ascending with the minimized cost. If the optimizer stops on a limit
// the populated result is returned together with an error wrapping
// core.ErrNotConverged.
func (e *Estimator) Estimate(ctx context.Context, sample []float64, initial estimate.Taus, opts Options) (estimate.Result, error) {
	mask, err := resolve(initial, opts)
	if err != nil {
		return estimate.Result{}, err
	}
	m, err := e.prepare(ctx, sample, initial, mask, opts)
	if err != nil {
		return estimate.Result{}, err
	}
	return e.minimize(ctx, m, initial)
}

func (e *Estimator) minimize(ctx context.Context, m *moments, initial estimate.Taus) (estimate.Result, error) {
	p, err := model.NewProblem(m.observed, m.weight, m.mask)
	if err != nil {
		return estimate.Result{}, err
	}

	problem := optimize.Problem{
		Func: p.Cost,
		Grad: p.Gradient,
	}
	settings := &optimize.Settings{
		GradientThreshold: e.cfg.GradientTol,
		MajorIterations:   e.cfg.MaxIterations,
		Runtime:           e.cfg.MaxRuntime,
		Recorder:          contextRecorder{ctx: ctx},
	}

	x0 := make([]float64, len(initial))
	copy(x0, initial)
	res, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return estimate.Result{}, ctxErr
	}
	if res == nil {
		return estimate.Result{}, fmt.Errorf("%w: %v", core.ErrOptimizerFailed, err)
	}
	if floats.HasNaN(res.X) || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return estimate.Result{}, fmt.Errorf("%w: non-finite optimum (F=%v, x=%v)", core.ErrOptimizerFailed, res.F, res.X)
	}

	out := estimate.Result{
		Taus:        estimate.Taus(res.X).Sorted(),
		Cost:        res.F,
		Status:      estimate.StatusConverged,
		Orders:      m.mask,
		Iterations:  res.Stats.MajorIterations,
		Evaluations: res.Stats.FuncEvaluations,
	}

	switch {
	case err != nil && !settled(p, res.X, res.F, e.cfg.GradientTol):
		out.Status = estimate.StatusNotConverged
		out.Reason = err.Error()
	case err != nil:
		e.logger.Debug("line search stalled at a stationary point from %v: %v", []float64(initial), err)
	case !converged(res.Status):
		out.Status = estimate.StatusNotConverged
		out.Reason = res.Status.String()
	}
	e.logger.Debug("start %v -> %v cost=%.6g status=%s iterations=%d", []float64(initial), []float64(out.Taus), out.Cost, res.Status, out.Iterations)

	if !out.Converged() {
		e.logger.Warn("local search from %v stopped without converging: %s", []float64(initial), out.Reason)
		return out, fmt.Errorf("%w: %s", core.ErrNotConverged, out.Reason)
	}
	return out, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence,
		optimize.MethodConverge, optimize.Success, optimize.FunctionThreshold:
		return true
	default:
		return false
	}
}

// settled reports whether x is stationary relative to the scale of the
// problem. The gradient, measured against the largest decay time, must be
// within tol of the larger of the cost and the cost at zero decay times.
// BFGS line searches stall at such points once the absolute gradient
// threshold is below the float resolution of cumulants of order three and up.
func settled(p *model.Problem, x []float64, f, tol float64) bool {
	grad := make([]float64, len(x))
	p.Gradient(grad, x)
	if floats.HasNaN(grad) {
		return false
	}
	g := math.Max(floats.Max(grad), -floats.Min(grad))
	step := math.Max(math.Abs(floats.Max(x)), 1)
	scale := math.Max(math.Max(math.Abs(f), p.Cost(make([]float64, len(x)))), 1)
	return g*step <= tol*scale
}

// contextRecorder aborts the minimization once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error {
	return r.ctx.Err()
}

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
