package ports

import (
	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// CovarianceLookup resolves a precomputed cumulant covariance for a parameter
// set and sample size, restricted to the active orders.
type CovarianceLookup interface {
	Covariance(taus []float64, n int, mask cumulant.OrderMask) (*mat.SymDense, error)
}
