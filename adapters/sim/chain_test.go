package sim

import (
	"errors"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceal/generalized-method-of-moments/domain/core"
)

func TestChainMomentsMatchSumOfExponentials(t *testing.T) {
	taus := []float64{10, 40}
	times, err := NewChain(7).SampleN(taus, 200000)
	require.NoError(t, err)

	mean, _ := stats.Mean(times)
	variance, _ := stats.Variance(times)
	// mean = sum tau, variance = sum tau^2
	assert.InEpsilon(t, 50.0, mean, 0.02)
	assert.InEpsilon(t, 1700.0, variance, 0.05)
	for _, x := range times {
		require.Greater(t, x, 0.0)
	}
}

func TestChainDeterministicPerSeed(t *testing.T) {
	a, err := NewChain(3).SampleN([]float64{1, 2}, 10)
	require.NoError(t, err)
	b, err := NewChain(3).SampleN([]float64{1, 2}, 10)
	require.NoError(t, err)
	c, err := NewChain(4).SampleN([]float64{1, 2}, 10)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestChainRejectsBadInput(t *testing.T) {
	c := NewChain(1)
	_, err := c.SampleOne([]float64{1, 0})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
	_, err = c.SampleN(nil, 3)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
	_, err = c.SampleN([]float64{1}, -1)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestFactorySeedsIndependently(t *testing.T) {
	f := Factory()
	x, err := f(1).SampleOne([]float64{5})
	require.NoError(t, err)
	y, err := f(1).SampleOne([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, x, y)
}
