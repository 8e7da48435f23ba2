package gmm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	"github.com/priceal/generalized-method-of-moments/internal/covtable"
	"github.com/priceal/generalized-method-of-moments/internal/testkit"
)

func TestTwoPass(t *testing.T) {
	kit := testkit.NewTestKit(50)
	table, err := covtable.Build(context.Background(), covtable.BuildConfig{
		SampleSizes: []int{400},
		Ratios:      covtable.UnitRatios(8),
		Orders:      4,
		Trials:      300,
		BiasCorrect: true,
		Seed:        3,
	}, kit.Factory())
	require.NoError(t, err)

	sample, err := kit.Sample([]float64{10, 30}, 400)
	require.NoError(t, err)

	e := quietEstimator(DefaultConfig())
	cfg := DefaultTwoPassConfig(table)
	res, err := e.TwoPass(context.Background(), sample, []estimate.Taus{{5, 20}, {20, 60}}, cfg)
	requireUsable(t, err)

	assert.Equal(t, cumulant.FirstN(2), res.First.Orders)
	require.Len(t, res.Refined, 2)
	assert.Equal(t, cumulant.FirstN(3), res.Refined[0].Orders)
	assert.Equal(t, cumulant.FirstN(4), res.Refined[1].Orders)
	for _, r := range res.Refined {
		require.Len(t, r.Taus, 2)
		assert.Greater(t, r.Taus[0], 0.0)
		assert.LessOrEqual(t, r.Taus[0], r.Taus[1])
	}
}

func TestTwoPassSizeMissingFromTable(t *testing.T) {
	sizes, ratios := []int{50}, []float64{1, 2, 3}
	table, err := covtable.New(sizes, ratios, testkit.SyntheticTensor(sizes, ratios, 4))
	require.NoError(t, err)
	sample, err := testkit.NewTestKit(1).Sample([]float64{1, 2}, 80)
	require.NoError(t, err)

	e := quietEstimator(DefaultConfig())
	res, err := e.TwoPass(context.Background(), sample, []estimate.Taus{{1, 3}}, DefaultTwoPassConfig(table))
	require.Error(t, err)
	assert.NotNil(t, res.First.Taus, "first pass result is kept")
	assert.Empty(t, res.Refined)
}
