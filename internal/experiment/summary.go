package experiment

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Summary holds the descriptive statistics reported for a set of estimates.
type Summary struct {
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	MeanDev float64 `json:"mean_dev"` // mean absolute deviation from the mean
	StdDev  float64 `json:"std_dev"`  // population standard deviation
	StdErr  float64 `json:"std_err"`  // StdDev / sqrt(Count)
}

// Summarize computes the mean, mean deviation, standard deviation and
// standard error of values.
func Summarize(values []float64) (Summary, error) {
	data := stats.LoadRawData(values)
	mean, err := stats.Mean(data)
	if err != nil {
		return Summary{}, err
	}
	std, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return Summary{}, err
	}

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - mean)
	}
	meanDev, err := stats.Mean(deviations)
	if err != nil {
		return Summary{}, err
	}

	n := len(values)
	return Summary{
		Count:   n,
		Mean:    mean,
		MeanDev: meanDev,
		StdDev:  std,
		StdErr:  std / math.Sqrt(float64(n)),
	}, nil
}
