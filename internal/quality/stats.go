package quality

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats describes the label distribution of a training set
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Describe computes Stats over labels
func Describe(labels []float64) Stats {
	if len(labels) == 0 {
		return Stats{}
	}

	mean, std := stat.PopMeanStdDev(labels, nil)
	if math.IsNaN(std) {
		std = 0
	}

	return Stats{
		Count: len(labels),
		Min:   floats.Min(labels),
		Max:   floats.Max(labels),
		Mean:  mean,
		Std:   std,
	}
}
