package gmm

import (
	"fmt"
	"strings"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	cumulants "github.com/priceal/generalized-method-of-moments/internal/cumulant"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// Weighting selects where the cumulant covariance behind the GMM weight
// matrix comes from. The set of variants is closed: Identity, Jackknife,
// MonteCarlo and Interpolated.
type Weighting interface {
	Name() string
	weighting()
}

// Identity weights every active cumulant equally.
type Identity struct{}

// Jackknife estimates the covariance from the sample by leave-one-out resampling.
type Jackknife struct{}

// MonteCarlo simulates Trials samples at the initial guess. Source is used
// sequentially and must not be shared with other goroutines.
type MonteCarlo struct {
	Trials int
	Source ports.DwellTimeSource
}

// Interpolated reads the covariance from a precomputed table (two-step only).
type Interpolated struct {
	Table ports.CovarianceLookup
}

func (Identity) weighting()     {}
func (Jackknife) weighting()    {}
func (MonteCarlo) weighting()   {}
func (Interpolated) weighting() {}

func (Identity) Name() string     { return "iden" }
func (Jackknife) Name() string    { return "jack" }
func (MonteCarlo) Name() string   { return "mc" }
func (Interpolated) Name() string { return "int" }

func (m MonteCarlo) trials() int {
	if m.Trials > 0 {
		return m.Trials
	}
	return cumulants.DefaultTrials
}

// dependsOnStart reports whether the weight matrix must be rebuilt for each
// initial guess.
func dependsOnStart(w Weighting) bool {
	switch w.(type) {
	case MonteCarlo, Interpolated:
		return true
	default:
		return false
	}
}

// ParseWeighting maps a scheme name to a Weighting. Monte-Carlo and
// interpolated weighting take their collaborators from src and table.
func ParseWeighting(name string, trials int, src ports.DwellTimeSource, table ports.CovarianceLookup) (Weighting, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "iden", "identity":
		return Identity{}, nil
	case "jack", "jackknife":
		return Jackknife{}, nil
	case "mc", "montecarlo", "monte-carlo":
		if src == nil {
			return nil, core.NewInputError("weighting", "monte-carlo weighting needs a dwell-time source")
		}
		return MonteCarlo{Trials: trials, Source: src}, nil
	case "int", "interp", "interpolated":
		if table == nil {
			return nil, core.NewInputError("weighting", "interpolated weighting needs a covariance table")
		}
		return Interpolated{Table: table}, nil
	default:
		return nil, core.NewInputError("weighting", fmt.Sprintf("unknown scheme %q", name))
	}
}
