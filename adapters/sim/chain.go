package sim

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// Chain simulates dwell times of an irreversible chain A -> B -> C -> ... where
// step i waits an exponential time with mean taus[i].
type Chain struct {
	src rand.Source
}

// NewChain creates a chain simulator with a deterministic PCG stream.
func NewChain(seed uint64) *Chain {
	return &Chain{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Factory returns a SourceFactory producing independent chains.
func Factory() ports.SourceFactory {
	return func(seed uint64) ports.DwellTimeSource {
		return NewChain(seed)
	}
}

func (c *Chain) steps(taus []float64) ([]distuv.Exponential, error) {
	if len(taus) == 0 {
		return nil, core.NewInputError("taus", "at least one step required")
	}
	dists := make([]distuv.Exponential, len(taus))
	for i, tau := range taus {
		if !(tau > 0) {
			return nil, core.NewInputError("taus", fmt.Sprintf("step %d mean time %v must be positive", i, tau))
		}
		dists[i] = distuv.Exponential{Rate: 1 / tau, Src: c.src}
	}
	return dists, nil
}

// SampleOne returns one total dwell time.
func (c *Chain) SampleOne(taus []float64) (float64, error) {
	dists, err := c.steps(taus)
	if err != nil {
		return 0, err
	}
	return draw(dists), nil
}

// SampleN returns n independent total dwell times.
func (c *Chain) SampleN(taus []float64, n int) ([]float64, error) {
	if n < 0 {
		return nil, core.NewInputError("n", "must be non-negative")
	}
	dists, err := c.steps(taus)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for j := range out {
		out[j] = draw(dists)
	}
	return out, nil
}

func draw(dists []distuv.Exponential) float64 {
	var t float64
	for _, d := range dists {
		t += d.Rand()
	}
	return t
}
