package model

import (
	"context"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
)

// LinearOptions are the SGD hyperparameters
type LinearOptions struct {
	LearningRate  float64         `json:"learningRate"`
	Epochs        int             `json:"epochs"`
	L2            float64         `json:"l2"`
	TargetMSE     float64         `json:"targetMse"`
	Normalization features.Method `json:"normalization"`
}

// DefaultLinearOptions returns lr 0.01, 1000 epochs, L2 0.01, no scaling
func DefaultLinearOptions() LinearOptions {
	return LinearOptions{
		LearningRate:  0.01,
		Epochs:        1000,
		L2:            0.01,
		TargetMSE:     0.001,
		Normalization: features.MethodNone,
	}
}

// LinearModel is an L2-regularized linear regressor
type LinearModel struct {
	Weights       []float64               `json:"weights"`
	Bias          float64                 `json:"bias"`
	Names         []string                `json:"featureNames"`
	Normalization *features.Normalization `json:"normalization,omitempty"`
	EpochsRun     int                     `json:"epochsRun"`
	FinalMSE      float64                 `json:"finalMse"`
}

func (m *LinearModel) Algorithm() Algorithm   { return AlgorithmLinear }
func (m *LinearModel) FeatureNames() []string { return m.Names }

// Predict returns w·x + b clamped to [0.1, 1.0]. Diverged weights yield NaN.
func (m *LinearModel) Predict(x []float64) float64 {
	return clamp(m.raw(m.Normalization.Apply(x)), 0.1, 1.0)
}

func (m *LinearModel) raw(x []float64) float64 {
	return dot(m.Weights, x) + m.Bias
}

// LinearTrainer fits a LinearModel with per-example SGD
type LinearTrainer struct {
	opts LinearOptions
}

// NewLinearTrainer creates a linear trainer
func NewLinearTrainer(opts LinearOptions) *LinearTrainer {
	return &LinearTrainer{opts: opts}
}

func (t *LinearTrainer) Algorithm() Algorithm { return AlgorithmLinear }

// Train runs SGD from zero weights. Each example updates
// w[j] -= lr*(err*x[j] + l2*w[j]) and b -= lr*err, and training stops early
// once an epoch's mean squared error falls below TargetMSE. The input is
// never rescaled unless Normalization is set, so a large learning rate on
// raw counts can diverge.
func (t *LinearTrainer) Train(ctx context.Context, ds Dataset) (Model, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	norm := features.Fit(t.opts.Normalization, ds.X)
	X := norm.ApplyAll(ds.X)

	m := &LinearModel{
		Weights:       make([]float64, len(ds.Names)),
		Names:         append([]string(nil), ds.Names...),
		Normalization: norm,
	}
	lr, l2 := t.opts.LearningRate, t.opts.L2
	n := float64(len(X))

	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		total := 0.0
		for i, x := range X {
			err := m.raw(x) - ds.Y[i]
			total += err * err
			for j := range m.Weights {
				m.Weights[j] -= lr * (err*x[j] + l2*m.Weights[j])
			}
			m.Bias -= lr * err
		}

		m.EpochsRun = epoch + 1
		m.FinalMSE = total / n
		if m.FinalMSE < t.opts.TargetMSE {
			break
		}
	}

	return m, nil
}
