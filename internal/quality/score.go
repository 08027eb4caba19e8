// Package quality computes the heuristic repository quality label.
package quality

import (
	"math"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
)

const (
	minScore = 0.1
	maxScore = 1.0
)

// Weights are the coefficients of the quality heuristic
type Weights struct {
	Stars           float64
	Forks           float64
	Tests           float64
	CI              float64
	Readme          float64
	License         float64
	Description     float64
	Docker          float64
	Activity        float64
	CommunityHealth float64
	CodeQuality     float64
	CodeFileRatio   float64
	// Jitter scales the JitterFunc output into an additive offset
	Jitter float64
	// MaxIssuePenalty caps the open-issue penalty
	MaxIssuePenalty float64
}

// DefaultWeights returns the weights the quality model was trained against
func DefaultWeights() Weights {
	return Weights{
		Stars:           0.15,
		Forks:           0.15,
		Tests:           0.10,
		CI:              0.08,
		Readme:          0.05,
		License:         0.03,
		Description:     0.02,
		Docker:          0.02,
		Activity:        0.15,
		CommunityHealth: 0.05,
		CodeQuality:     0.10,
		CodeFileRatio:   0.10,
		Jitter:          0.15,
		MaxIssuePenalty: 0.1,
	}
}

// Scorer labels feature records
type Scorer struct {
	weights Weights
	jitter  JitterFunc
}

// NewScorer creates a scorer with default weights. A nil jitter means NoJitter.
func NewScorer(jitter JitterFunc) *Scorer {
	return NewScorerWithWeights(DefaultWeights(), jitter)
}

// NewScorerWithWeights creates a scorer with custom weights
func NewScorerWithWeights(weights Weights, jitter JitterFunc) *Scorer {
	if jitter == nil {
		jitter = NoJitter
	}
	return &Scorer{weights: weights, jitter: jitter}
}

// Score returns the quality of record in [0.1, 1.0]. Missing features count as 0.
func (s *Scorer) Score(record features.Record, repoID string) float64 {
	w := s.weights
	stars := record.Get("stars")
	forks := record.Get("forks")

	engagement := math.Min(1, math.Log10(math.Max(stars, 0)+1)/6)*w.Stars +
		math.Min(1, math.Log10(math.Max(forks, 0)+1)/5)*w.Forks

	indicators := record.Get("hasTests")*w.Tests +
		record.Get("hasCI")*w.CI +
		record.Get("hasReadme")*w.Readme +
		record.Get("hasLicense")*w.License +
		record.Get("hasDescription")*w.Description +
		record.Get("hasDocker")*w.Docker

	activity := record.Get("activityScore")*w.Activity +
		record.Get("communityHealth")*w.CommunityHealth

	code := record.Get("codeQualityScore")*w.CodeQuality +
		record.Get("codeFileRatio")*w.CodeFileRatio

	score := engagement + indicators + activity + code
	score += s.jitter(repoID) * w.Jitter

	if openIssues := record.Get("openIssues"); stars > 0 && openIssues > 0 {
		score -= math.Min(w.MaxIssuePenalty, openIssues/stars*2)
	}

	if math.IsNaN(score) {
		return minScore
	}
	return math.Max(minScore, math.Min(maxScore, score))
}

// Label derives examples from samples. The input is not modified.
func (s *Scorer) Label(samples []features.Sample) []features.Example {
	examples := make([]features.Example, 0, len(samples))
	for _, sample := range samples {
		examples = append(examples, features.Example{
			RepoID:   sample.ID(),
			Features: sample.Features,
			Quality:  s.Score(sample.Features, sample.ID()),
		})
	}
	return examples
}
