package model

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
)

// EnsembleOptions configure the similarity-weighted bootstrap ensemble
type EnsembleOptions struct {
	Trees         int             `json:"trees"`
	Seed          uint64          `json:"seed"`
	Normalization features.Method `json:"normalization"`
}

// DefaultEnsembleOptions returns 50 trees with a fixed seed
func DefaultEnsembleOptions() EnsembleOptions {
	return EnsembleOptions{
		Trees:         50,
		Seed:          42,
		Normalization: features.MethodNone,
	}
}

// SimilarityEnsembleModel averages similarity-weighted bootstrap members. It
// is not a decision forest: each member predicts the mean label of its
// bootstrap sample weighted by max(0, x·r) for every stored row r, clamped to
// [0.1, 1.0], or 0.5 when every similarity is zero.
type SimilarityEnsembleModel struct {
	Names         []string                `json:"featureNames"`
	Normalization *features.Normalization `json:"normalization,omitempty"`
	X             [][]float64             `json:"x"`
	Y             []float64               `json:"y"`
	Members       [][]int                 `json:"members"`
}

func (m *SimilarityEnsembleModel) Algorithm() Algorithm   { return AlgorithmEnsemble }
func (m *SimilarityEnsembleModel) FeatureNames() []string { return m.Names }

func (m *SimilarityEnsembleModel) Predict(x []float64) float64 {
	return m.predict(m.similarities(m.Normalization.Apply(x)))
}

func (m *SimilarityEnsembleModel) similarities(x []float64) []float64 {
	sims := make([]float64, len(m.X))
	for k, row := range m.X {
		sims[k] = math.Max(0, dot(x, row))
	}
	return sims
}

func (m *SimilarityEnsembleModel) predict(sims []float64) float64 {
	if len(m.Members) == 0 {
		return 0.5
	}

	total := 0.0
	for _, member := range m.Members {
		weighted, weight := 0.0, 0.0
		for _, k := range member {
			weighted += sims[k] * m.Y[k]
			weight += sims[k]
		}
		p := 0.5
		if weight > 0 {
			p = clamp(weighted/weight, 0.1, 1.0)
		}
		total += p
	}
	return total / float64(len(m.Members))
}

// FeatureImportance scales every stored value by 1.1, sums the absolute
// change in prediction per feature, and normalizes by the largest sum. It
// costs one prediction per stored cell.
func (m *SimilarityEnsembleModel) FeatureImportance(ctx context.Context) (map[string]float64, error) {
	sums := make([]float64, len(m.Names))
	for _, row := range m.X {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := m.predict(m.similarities(row))
		perturbed := make([]float64, len(row))
		for j := range row {
			copy(perturbed, row)
			perturbed[j] *= 1.1
			sums[j] += math.Abs(m.predict(m.similarities(perturbed)) - base)
		}
	}

	peak := 0.0
	for _, s := range sums {
		peak = math.Max(peak, s)
	}

	out := make(map[string]float64, len(m.Names))
	for j, name := range m.Names {
		if peak > 0 {
			out[name] = sums[j] / peak
		} else {
			out[name] = 0
		}
	}
	return out, nil
}

// EnsembleTrainer draws bootstrap samples for a SimilarityEnsembleModel
type EnsembleTrainer struct {
	opts EnsembleOptions
}

// NewEnsembleTrainer creates an ensemble trainer
func NewEnsembleTrainer(opts EnsembleOptions) *EnsembleTrainer {
	if opts.Trees < 1 {
		opts.Trees = 1
	}
	return &EnsembleTrainer{opts: opts}
}

func (t *EnsembleTrainer) Algorithm() Algorithm { return AlgorithmEnsemble }

// Train draws Trees bootstrap samples of n indexes with replacement
func (t *EnsembleTrainer) Train(ctx context.Context, ds Dataset) (Model, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	norm := features.Fit(t.opts.Normalization, ds.X)
	rng := rand.New(rand.NewPCG(t.opts.Seed, t.opts.Seed+1))
	n := len(ds.X)

	m := &SimilarityEnsembleModel{
		Names:         append([]string(nil), ds.Names...),
		Normalization: norm,
		X:             norm.ApplyAll(ds.X),
		Y:             append([]float64(nil), ds.Y...),
		Members:       make([][]int, t.opts.Trees),
	}
	for i := range m.Members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		member := make([]int, n)
		for k := range member {
			member[k] = rng.IntN(n)
		}
		m.Members[i] = member
	}

	return m, nil
}
