package ports

// DwellTimeSource draws total completion times of an irreversible chain of
// exponential steps with the given mean step times.
//
// Implementations are not required to be safe for concurrent use; give each
// worker its own source.
type DwellTimeSource interface {
	// SampleOne returns one dwell time, the sum of one exponential draw per step
	SampleOne(taus []float64) (float64, error)

	// SampleN returns n independent dwell times
	SampleN(taus []float64, n int) ([]float64, error)
}

// SourceFactory creates independent, deterministically seeded sources.
type SourceFactory func(seed uint64) DwellTimeSource
