// Package model holds the quality regressors, their trainers, evaluation and
// persistence.
package model

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
)

// Algorithm names a model family
type Algorithm string

const (
	AlgorithmLinear   Algorithm = "linear"
	AlgorithmEnsemble Algorithm = "ensemble"
	AlgorithmNeural   Algorithm = "neural"
)

// Model predicts a quality score from a vector built against FeatureNames.
// Vectors built against any other name order produce meaningless output.
type Model interface {
	Algorithm() Algorithm
	FeatureNames() []string
	Predict(x []float64) float64
}

// Dataset is the (X, y) contract every trainer consumes
type Dataset struct {
	X     [][]float64
	Y     []float64
	Names []string
}

// Validate checks shape agreement
func (d Dataset) Validate() error {
	if len(d.X) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("dataset has %d rows but %d labels", len(d.X), len(d.Y))
	}
	for i, row := range d.X {
		if len(row) != len(d.Names) {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(d.Names))
		}
	}
	return nil
}

// Subset returns the rows at idx
func (d Dataset) Subset(idx []int) Dataset {
	return Dataset{
		X:     features.Subset(d.X, idx),
		Y:     features.Subset(d.Y, idx),
		Names: d.Names,
	}
}

// Trainer fits a Model to a dataset
type Trainer interface {
	Algorithm() Algorithm
	Train(ctx context.Context, ds Dataset) (Model, error)
}

// Options carries hyperparameters for every trainer family
type Options struct {
	Linear   LinearOptions
	Ensemble EnsembleOptions
	Neural   NeuralOptions
}

// DefaultOptions returns the default hyperparameters of every family
func DefaultOptions() Options {
	return Options{
		Linear:   DefaultLinearOptions(),
		Ensemble: DefaultEnsembleOptions(),
		Neural:   DefaultNeuralOptions(),
	}
}

// Factory builds a trainer from options
type Factory func(opts Options) Trainer

var registry = map[Algorithm]Factory{
	AlgorithmLinear:   func(opts Options) Trainer { return NewLinearTrainer(opts.Linear) },
	AlgorithmEnsemble: func(opts Options) Trainer { return NewEnsembleTrainer(opts.Ensemble) },
	AlgorithmNeural:   func(opts Options) Trainer { return NewNeuralTrainer(opts.Neural) },
}

// NewTrainer returns the trainer registered for algorithm
func NewTrainer(algorithm Algorithm, opts Options) (Trainer, error) {
	factory, ok := registry[algorithm]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	return factory(opts), nil
}

// Algorithms lists registered algorithms in a stable order
func Algorithms() []Algorithm {
	out := make([]Algorithm, 0, len(registry))
	for alg := range registry {
		out = append(out, alg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PredictAll runs m over every row
func PredictAll(m Model, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Predict(row)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for j := range a {
		sum += a[j] * b[j]
	}
	return sum
}
