// Package testkit provides deterministic dwell-time fixtures for tests.
package testkit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/priceal/generalized-method-of-moments/adapters/sim"
	"github.com/priceal/generalized-method-of-moments/ports"
)

// TestKit hands out independently seeded dwell-time sources
type TestKit struct {
	factory ports.SourceFactory
	seed    uint64
}

// NewTestKit creates a kit whose sources derive from seed
func NewTestKit(seed uint64) *TestKit {
	return &TestKit{factory: sim.Factory(), seed: seed}
}

// Factory returns the source factory behind the kit
func (k *TestKit) Factory() ports.SourceFactory {
	return k.factory
}

// Source returns the next source. Sources are not shared between calls.
func (k *TestKit) Source() ports.DwellTimeSource {
	k.seed++
	return k.factory(k.seed)
}

// Sample simulates n dwell times of a chain with mean step times taus
func (k *TestKit) Sample(taus []float64, n int) ([]float64, error) {
	return k.Source().SampleN(taus, n)
}

// SyntheticTensor builds a symmetric, positive definite covariance tensor
// [size][ratio][order][order]. Entry values scale with (size index + 1) and
// the ratio so interpolation results can be predicted exactly.
func SyntheticTensor(sizes []int, ratios []float64, orders int) [][][][]float64 {
	tensor := make([][][][]float64, len(sizes))
	for si := range sizes {
		tensor[si] = make([][][]float64, len(ratios))
		for ri, r := range ratios {
			m := make([][]float64, orders)
			for i := range m {
				m[i] = make([]float64, orders)
				for j := range m[i] {
					m[i][j] = SyntheticEntry(si, r, i, j)
				}
			}
			tensor[si][ri] = m
		}
	}
	return tensor
}

// SyntheticEntry is the value SyntheticTensor stores at (size index, ratio, i, j)
func SyntheticEntry(sizeIndex int, ratio float64, i, j int) float64 {
	base := 0.1 * float64(i+j+1)
	if i == j {
		base = float64(3 + 2*i)
	}
	return float64(sizeIndex+1) * ratio * base
}

// WriteCSV writes values as a single CSV column under header and returns the path
func WriteCSV(dir, name, header string, values []float64) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{header}); err != nil {
		return "", err
	}
	for _, v := range values {
		if err := w.Write([]string{strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}
