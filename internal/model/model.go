// Package model holds the theoretical cumulants of an n-step irreversible
// exponential chain and the GMM cost built on them.
package model

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// factorial[k] = k!
var factorial = [cumulant.MaxOrder + 1]float64{1, 1, 2, 6, 24, 120, 720}

// Cumulants returns the exact cumulants of a sum of independent exponentials
// with means taus: kappa_k = (k-1)! * sum tau_i^k.
func Cumulants(taus []float64) cumulant.Vector {
	var v cumulant.Vector
	for _, tau := range taus {
		p := tau
		for k := 1; k <= cumulant.MaxOrder; k++ {
			v[k-1] += factorial[k-1] * p
			p *= tau
		}
	}
	return v
}

// Jacobian returns d kappa_k / d tau_i = k! * tau_i^(k-1) for the active
// orders, one row per order.
func Jacobian(taus []float64, mask cumulant.OrderMask) *mat.Dense {
	orders := mask.Orders()
	j := mat.NewDense(len(orders), len(taus), nil)
	for r, k := range orders {
		for i, tau := range taus {
			j.Set(r, i, factorial[k]*pow(tau, k-1))
		}
	}
	return j
}

func pow(x float64, n int) float64 {
	p := 1.0
	for ; n > 0; n-- {
		p *= x
	}
	return p
}

// Residual returns the theoretical minus the observed cumulants for the active orders.
func Residual(taus []float64, observed []float64, mask cumulant.OrderMask) ([]float64, error) {
	if len(observed) != mask.Count() {
		return nil, core.NewDimensionError("observed cumulants", mask.Count(), len(observed))
	}
	g := Cumulants(taus).Select(mask)
	floats.Sub(g, observed)
	return g, nil
}

// Cost returns the quadratic form g' W g of the residual g.
func Cost(taus []float64, observed []float64, w mat.Matrix, mask cumulant.OrderMask) (float64, error) {
	p, err := NewProblem(observed, w, mask)
	if err != nil {
		return 0, err
	}
	return p.Cost(taus), nil
}

// Gradient returns 2 g' W J, the derivative of Cost with respect to taus.
func Gradient(taus []float64, observed []float64, w mat.Matrix, mask cumulant.OrderMask) ([]float64, error) {
	p, err := NewProblem(observed, w, mask)
	if err != nil {
		return nil, err
	}
	grad := make([]float64, len(taus))
	p.Gradient(grad, taus)
	return grad, nil
}

// Problem binds observed cumulants, a weight matrix and an order mask so the
// cost and gradient can be evaluated repeatedly by an optimizer.
type Problem struct {
	observed *mat.VecDense
	w        mat.Matrix
	mask     cumulant.OrderMask
}

// NewProblem validates the shapes of observed and w against mask.
func NewProblem(observed []float64, w mat.Matrix, mask cumulant.OrderMask) (*Problem, error) {
	d := mask.Count()
	if d == 0 {
		return nil, core.NewInputError("orders", "no cumulant orders selected")
	}
	if len(observed) != d {
		return nil, core.NewDimensionError("observed cumulants", d, len(observed))
	}
	r, c := w.Dims()
	if err := mask.CheckDim("weight matrix", r, c); err != nil {
		return nil, err
	}
	obs := make([]float64, d)
	copy(obs, observed)
	return &Problem{observed: mat.NewVecDense(d, obs), w: w, mask: mask}, nil
}

// Mask returns the active orders.
func (p *Problem) Mask() cumulant.OrderMask {
	return p.mask
}

func (p *Problem) residual(taus []float64) *mat.VecDense {
	g := mat.NewVecDense(p.mask.Count(), Cumulants(taus).Select(p.mask))
	g.SubVec(g, p.observed)
	return g
}

// Cost evaluates g' W g.
func (p *Problem) Cost(taus []float64) float64 {
	g := p.residual(taus)
	return mat.Inner(g, p.w, g)
}

// Gradient writes g'(W + W')J into grad, which is 2 g' W J for symmetric W.
func (p *Problem) Gradient(grad, taus []float64) {
	g := p.residual(taus)
	var wg, wtg mat.VecDense
	wg.MulVec(p.w, g)
	wtg.MulVec(p.w.T(), g)
	wg.AddVec(&wg, &wtg)
	var out mat.VecDense
	out.MulVec(Jacobian(taus, p.mask).T(), &wg)
	for i := range grad {
		grad[i] = out.AtVec(i)
	}
}
