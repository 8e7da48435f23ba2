package cumulant

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/internal/testkit"
)

// replicateCumulants evaluates the cumulants of rest from scratch, using
// the full-sample size n in the k2-k4 correction factors.
func replicateCumulants(rest []float64, n int, biasCorrect bool) cumulant.Vector {
	var mean float64
	for _, x := range rest {
		mean += x / float64(len(rest))
	}
	var m2, m3, m4, m5, m6 float64
	for _, x := range rest {
		d := x - mean
		m2 += math.Pow(d, 2) / float64(len(rest))
		m3 += math.Pow(d, 3) / float64(len(rest))
		m4 += math.Pow(d, 4) / float64(len(rest))
		m5 += math.Pow(d, 5) / float64(len(rest))
		m6 += math.Pow(d, 6) / float64(len(rest))
	}
	k := cumulant.Vector{mean, m2, m3, m4 - 3*m2*m2, m5 - 10*m3*m2, m6 - 15*m4*m2 - 10*m3*m3 + 30*m2*m2*m2}
	if biasCorrect {
		N := float64(n)
		k[1] = m2 * N / (N - 1)
		k[2] = m3 * N * N / ((N - 1) * (N - 2))
		k[3] = (m4*(N+1) - 3*m2*m2*(N-1)) * N * N / ((N - 1) * (N - 2) * (N - 3))
	}
	return k
}

// naiveJackknife recomputes every leave-one-out vector and forms the 1/N
// covariance by hand.
func naiveJackknife(sample []float64, biasCorrect bool) *mat.SymDense {
	n := len(sample)
	reps := make([]cumulant.Vector, n)
	for i := range sample {
		rest := append(append([]float64(nil), sample[:i]...), sample[i+1:]...)
		reps[i] = replicateCumulants(rest, n, biasCorrect)
	}
	var mean cumulant.Vector
	for _, r := range reps {
		for k := range r {
			mean[k] += r[k] / float64(n)
		}
	}
	cov := mat.NewSymDense(cumulant.MaxOrder, nil)
	for a := 0; a < cumulant.MaxOrder; a++ {
		for b := a; b < cumulant.MaxOrder; b++ {
			var s float64
			for _, r := range reps {
				s += (r[a] - mean[a]) * (r[b] - mean[b])
			}
			cov.SetSym(a, b, s/float64(n))
		}
	}
	return cov
}

func TestJackknifeMatchesLeaveOneOut(t *testing.T) {
	sample, err := testkit.NewTestKit(11).Sample([]float64{2, 5}, 40)
	require.NoError(t, err)

	for _, bc := range []bool{true, false} {
		k, cov, err := Jackknife(context.Background(), sample, Options{Mask: cumulant.FirstN(4), BiasCorrect: bc, Workers: 3})
		require.NoError(t, err)

		direct, err := Compute(sample, Options{BiasCorrect: bc})
		require.NoError(t, err)
		assert.Equal(t, direct, k)

		want := naiveJackknife(sample, bc)
		require.Equal(t, 4, cov.SymmetricDim())
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				tol := 1e-8 * math.Sqrt(want.At(i, i)*want.At(j, j))
				assert.InDelta(t, want.At(i, j), cov.At(i, j), tol, "bias=%v [%d,%d]", bc, i, j)
			}
		}
	}
}

func TestJackknifeWorkerCountDoesNotChangeResult(t *testing.T) {
	sample, err := testkit.NewTestKit(5).Sample([]float64{1, 3}, 57)
	require.NoError(t, err)

	_, one, err := Jackknife(context.Background(), sample, Options{Mask: cumulant.FirstN(3), BiasCorrect: true, Workers: 1})
	require.NoError(t, err)
	_, many, err := Jackknife(context.Background(), sample, Options{Mask: cumulant.FirstN(3), BiasCorrect: true, Workers: 8})
	require.NoError(t, err)
	assert.True(t, mat.Equal(one, many))
}

func TestJackknifeMaskSelectsOrders(t *testing.T) {
	sample, err := testkit.NewTestKit(9).Sample([]float64{4}, 30)
	require.NoError(t, err)

	_, full, err := Jackknife(context.Background(), sample, Options{Mask: cumulant.FirstN(3)})
	require.NoError(t, err)
	m, _ := cumulant.MaskOf(1, 3)
	_, part, err := Jackknife(context.Background(), sample, Options{Mask: m})
	require.NoError(t, err)

	assert.Equal(t, full.At(0, 0), part.At(0, 0))
	assert.Equal(t, full.At(0, 2), part.At(0, 1))
	assert.Equal(t, full.At(2, 2), part.At(1, 1))
}

func TestJackknifeSmallestSample(t *testing.T) {
	_, _, err := Jackknife(context.Background(), []float64{1, 2, 4}, Options{Mask: cumulant.FirstN(2), BiasCorrect: true})
	assert.True(t, errors.Is(err, core.ErrInsufficientData))

	// replicates keep N=4 in the correction: k2 replicates are 4/3 of
	// 168/27, 222/27, 258/27 and 42/27
	_, cov, err := Jackknife(context.Background(), []float64{1, 2, 4, 8}, Options{Mask: cumulant.FirstN(4), BiasCorrect: true})
	require.NoError(t, err)
	assert.InDelta(t, 460.0/576, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 428976.0/26244, cov.At(1, 1), 1e-9)
	want := naiveJackknife([]float64{1, 2, 4, 8}, true)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			tol := 1e-8 * math.Sqrt(want.At(i, i)*want.At(j, j))
			assert.InDelta(t, want.At(i, j), cov.At(i, j), tol, "[%d,%d]", i, j)
		}
	}
}

func TestJackknifeCancelled(t *testing.T) {
	sample, err := testkit.NewTestKit(1).Sample([]float64{1}, 100)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = Jackknife(ctx, sample, Options{Mask: cumulant.FirstN(2)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPopulationCovarianceScaling(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 1,
		3, 5,
		6, 4,
	})
	pop := PopulationCovariance(x)
	unbiased := SampleCovariance(x)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, unbiased.At(i, j)*3/4, pop.At(i, j), 1e-12)
		}
	}
}
