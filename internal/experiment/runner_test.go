package experiment

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceal/generalized-method-of-moments/adapters/sim"
	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/internal"
	"github.com/priceal/generalized-method-of-moments/internal/covtable"
	"github.com/priceal/generalized-method-of-moments/internal/gmm"
	"github.com/priceal/generalized-method-of-moments/internal/testkit"
)

func smallSweep() Sweep {
	return Sweep{
		Taus:        [][]float64{{10}},
		SampleSizes: []int{100, 400},
		Orders:      []int{2},
		Trials:      6,
		Starts:      [][]float64{{5}, {20}},
		Methods: []Method{
			{Name: "identity", Weighting: "iden"},
			{Name: "diag-jack", Weighting: "jack", Diagonal: true},
		},
		BiasCorrect: true,
		MCTrials:    50,
		Seed:        1,
	}
}

func newTestRunner(workers int) *Runner {
	logger := internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	est := gmm.NewEstimator(gmm.DefaultConfig(), logger)
	return NewRunner(est, sim.Factory(), nil, workers, logger)
}

func TestRunnerRun(t *testing.T) {
	report, err := newTestRunner(2).Run(context.Background(), smallSweep())
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Cells, 4, "2 sizes x 1 order x 2 methods")

	for _, c := range report.Cells {
		require.Len(t, c.Steps, 1)
		assert.Equal(t, 6, c.Steps[0].Count+c.Failures)
		assert.InEpsilon(t, 10.0, c.Steps[0].Mean, 0.5, "%s N=%d", c.Method, c.SampleSize)
	}
	assert.Equal(t, "identity", report.Cells[0].Method)
	assert.Equal(t, 100, report.Cells[0].SampleSize)
	assert.Equal(t, 400, report.Cells[3].SampleSize)
}

func TestRunnerIsReproducible(t *testing.T) {
	a, err := newTestRunner(1).Run(context.Background(), smallSweep())
	require.NoError(t, err)
	b, err := newTestRunner(4).Run(context.Background(), smallSweep())
	require.NoError(t, err)

	require.Len(t, b.Cells, len(a.Cells))
	for i := range a.Cells {
		assert.Equal(t, a.Cells[i].Steps, b.Cells[i].Steps)
	}
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRunnerFixedRunID(t *testing.T) {
	sweep := smallSweep()
	sweep.SampleSizes = []int{100}
	sweep.RunID = "fig3-rerun"
	report, err := newTestRunner(2).Run(context.Background(), sweep)
	require.NoError(t, err)
	assert.Equal(t, core.RunID("fig3-rerun"), report.ID)

	sweep.RunID = "   "
	_, err = newTestRunner(2).Run(context.Background(), sweep)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRunnerUnknownMethodAborts(t *testing.T) {
	sweep := smallSweep()
	sweep.Methods = []Method{{Name: "bad", Weighting: "int"}}
	_, err := newTestRunner(1).Run(context.Background(), sweep)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func twoPassSweep() Sweep {
	return Sweep{
		Taus:        [][]float64{{2, 4}},
		SampleSizes: []int{60},
		Orders:      []int{2},
		Trials:      4,
		Starts:      [][]float64{{1, 3}, {3, 6}},
		Methods: []Method{
			{Name: "diag-jack", Weighting: "jack", Diagonal: true},
			{Name: "2pass", TwoPass: true},
		},
		BiasCorrect: true,
		Seed:        3,
	}
}

func TestRunnerTwoPassMethod(t *testing.T) {
	sizes, ratios := []int{60}, covtable.UnitRatios(4)
	table, err := covtable.New(sizes, ratios, testkit.SyntheticTensor(sizes, ratios, 4))
	require.NoError(t, err)

	logger := internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	runner := NewRunner(gmm.NewEstimator(gmm.DefaultConfig(), logger), sim.Factory(), table, 2, logger)
	report, err := runner.Run(context.Background(), twoPassSweep())
	require.NoError(t, err)
	require.Len(t, report.Cells, 4, "one plain cell and three two-pass cells")

	plain := report.Cells[0]
	assert.Equal(t, "diag-jack", plain.Method)
	assert.Empty(t, plain.Stage)

	wantStages := []string{StageFirst, StageRefine, StageRefine}
	wantOrders := []int{2, 3, 4}
	for i, c := range report.Cells[1:] {
		assert.Equal(t, "2pass", c.Method)
		assert.Equal(t, wantStages[i], c.Stage)
		assert.Equal(t, wantOrders[i], c.Order)
		if len(c.Steps) > 0 {
			require.Len(t, c.Steps, 2)
			assert.Equal(t, 4, c.Steps[0].Count+c.Failures)
		} else {
			assert.Equal(t, 4, c.Failures)
		}
	}
	require.NotEmpty(t, report.Cells[1].Steps, "first pass")
}

func TestRunnerTwoPassNeedsTable(t *testing.T) {
	_, err := newTestRunner(1).Run(context.Background(), twoPassSweep())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestSweepValidate(t *testing.T) {
	assert.NoError(t, smallSweep().Validate())

	s := smallSweep()
	s.Taus = [][]float64{{1, 2}}
	assert.True(t, errors.Is(s.Validate(), core.ErrInvalidInput), "step count mismatch")

	s = smallSweep()
	s.Trials = 0
	assert.True(t, errors.Is(s.Validate(), core.ErrInvalidInput))

	s = smallSweep()
	s.Methods = nil
	assert.True(t, errors.Is(s.Validate(), core.ErrInvalidInput))

	s = smallSweep()
	s.Taus = [][]float64{{-1}}
	assert.True(t, errors.Is(s.Validate(), core.ErrInvalidInput))

	s = twoPassSweep()
	s.Methods[1].RefineOrders = []int{3, 7}
	assert.True(t, errors.Is(s.Validate(), core.ErrInvalidInput))
}
