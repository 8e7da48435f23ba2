package estimate

import (
	"fmt"
	"math"
	"sort"

	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// Taus is a set of decay times, one per reaction step. Steps are exchangeable,
// so the slice order carries no meaning; Sorted is the presentation form.
type Taus []float64

// Steps returns the number of reaction steps.
func (t Taus) Steps() int {
	return len(t)
}

// Sorted returns an ascending copy.
func (t Taus) Sorted() Taus {
	out := make(Taus, len(t))
	copy(out, t)
	sort.Float64s(out)
	return out
}

// Min returns the smallest decay time.
func (t Taus) Min() float64 {
	m := math.Inf(1)
	for _, v := range t {
		m = math.Min(m, v)
	}
	return m
}

// Validate checks that every decay time is positive and finite.
func (t Taus) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("no decay times")
	}
	for i, v := range t {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("tau[%d]=%v must be positive and finite", i, v)
		}
	}
	return nil
}

// Equivalent compares two parameter sets as multisets within a relative tolerance.
func (t Taus) Equivalent(other Taus, relTol float64) bool {
	if len(t) != len(other) {
		return false
	}
	a, b := t.Sorted(), other.Sorted()
	for i := range a {
		scale := math.Max(math.Abs(a[i]), math.Abs(b[i]))
		if math.Abs(a[i]-b[i]) > relTol*scale {
			return false
		}
	}
	return true
}

// Status describes how a local minimization ended.
type Status string

const (
	StatusConverged    Status = "converged"
	StatusNotConverged Status = "not_converged"
)

// Result is the outcome of one local GMM minimization.
type Result struct {
	Taus        Taus               `json:"taus"` // ascending
	Cost        float64            `json:"cost"`
	Status      Status             `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	Orders      cumulant.OrderMask `json:"orders"`
	Iterations  int                `json:"iterations"`
	Evaluations int                `json:"evaluations"`
}

// Converged reports whether the optimizer met its convergence criterion.
func (r Result) Converged() bool {
	return r.Status == StatusConverged
}

// OrderSelection names the cumulant orders an estimation uses: either the
// first N orders or an explicit mask.
type OrderSelection struct {
	n    int
	mask cumulant.OrderMask
}

// Order selects cumulant orders 1..n.
func Order(n int) OrderSelection {
	return OrderSelection{n: n}
}

// Mask selects an explicit set of orders.
func Mask(m cumulant.OrderMask) OrderSelection {
	return OrderSelection{mask: m}
}

// Resolve returns the concrete mask for a model with the given number of steps.
// An integer order below the step count is raised to it, and a mask with too few
// orders is replaced by the first `steps` orders.
func (s OrderSelection) Resolve(steps int) cumulant.OrderMask {
	if s.n > 0 {
		n := s.n
		if n < steps {
			n = steps
		}
		return cumulant.FirstN(n)
	}
	return s.mask.Widen(steps)
}

func (s OrderSelection) String() string {
	if s.n > 0 {
		return fmt.Sprintf("order %d", s.n)
	}
	return "orders " + s.mask.String()
}
