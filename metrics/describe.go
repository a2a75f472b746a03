package metrics

import (
	"github.com/montanaflynn/stats"
)

// Description summarizes a series of values, such as epoch times or per-tile scores.
type Description struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Describe returns the description of 'xs'. An empty series gives all zeros.
func Describe(xs []float64) Description {
	if len(xs) == 0 {
		return Description{}
	}

	data := stats.Float64Data(xs)
	d := Description{Count: len(xs)}
	d.Mean, _ = data.Mean()
	d.Median, _ = data.Median()
	d.StdDev, _ = data.StandardDeviation()
	d.Min, _ = data.Min()
	d.Max, _ = data.Max()
	return d
}

// Sum returns the total of 'xs'.
func Sum(xs []float64) float64 {
	s, _ := stats.Sum(xs)
	return s
}
