package rollout

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
)

// MinScored is the scored predictions each arm needs before a winner is named
const MinScored = 10

// ArmResult is one side of a running comparison
type ArmResult struct {
	Version        string           `json:"version"`
	Variant        database.Variant `json:"variant"`
	TrafficPercent int              `json:"traffic_percent"`
	Predictions    int              `json:"predictions"`
	Scored         int              `json:"scored"`
	Accuracy       float64          `json:"accuracy"`
	MAE            float64          `json:"mae"`
}

// Comparison reports how the candidate performs against the control since
// the candidate was promoted
type Comparison struct {
	Control   ArmResult `json:"control"`
	Candidate ArmResult `json:"candidate"`
	Since     time.Time `json:"since"`
	Ready     bool      `json:"ready"`
	Winner    string    `json:"winner,omitempty"`
}

// WinnerArm returns the registry entry of the winner, nil while not ready
func (c *Comparison) WinnerArm(arms Arms) *database.ModelVersion {
	switch {
	case c == nil || !c.Ready:
		return nil
	case c.Winner == arms.Candidate.ID:
		return arms.Candidate
	default:
		return arms.Control
	}
}

// Compare names a winner once both arms hold at least minScored scored
// predictions. Higher accuracy wins, then lower MAE; a full tie keeps the
// control. It returns nil when no candidate is being rolled out.
func Compare(arms Arms, results []database.VariantResult, minScored int) *Comparison {
	if arms.Control == nil || arms.Candidate == nil {
		return nil
	}

	byVersion := make(map[string]database.VariantResult, len(results))
	for _, r := range results {
		byVersion[r.ModelVersion] = r
	}

	c := &Comparison{
		Control:   armResult(arms.Control, database.VariantControl, byVersion[arms.Control.ID]),
		Candidate: armResult(arms.Candidate, database.VariantCandidate, byVersion[arms.Candidate.ID]),
		Since:     arms.Candidate.UpdatedAt,
	}
	c.Ready = c.Control.Scored >= minScored && c.Candidate.Scored >= minScored
	if !c.Ready {
		return c
	}

	c.Winner = c.Control.Version
	if beats(c.Candidate, c.Control) {
		c.Winner = c.Candidate.Version
	}
	return c
}

func armResult(v *database.ModelVersion, variant database.Variant, r database.VariantResult) ArmResult {
	return ArmResult{
		Version:        v.ID,
		Variant:        variant,
		TrafficPercent: v.TrafficPercent,
		Predictions:    r.Predictions,
		Scored:         r.Scored,
		Accuracy:       r.Accuracy(),
		MAE:            r.MAE(),
	}
}

func beats(a, b ArmResult) bool {
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	return a.MAE < b.MAE
}

// ResultSource reads the registry and what each version served
type ResultSource interface {
	ModelsByStatus(ctx context.Context, status database.ModelStatus) ([]database.ModelVersion, error)
	VariantResults(ctx context.Context, versions []string, since time.Time, tolerance float64) ([]database.VariantResult, error)
}

// Evaluate compares the arms of the current rollout. A prediction is correct
// when its observed quality lies within tolerance. The comparison is nil
// when only a control is serving.
func Evaluate(ctx context.Context, source ResultSource, tolerance float64) (Arms, *Comparison, error) {
	production, err := source.ModelsByStatus(ctx, database.StatusProduction)
	if err != nil {
		return Arms{}, nil, err
	}
	arms := FromProduction(production)
	if arms.Candidate == nil {
		return arms, nil, nil
	}

	results, err := source.VariantResults(ctx,
		[]string{arms.Control.ID, arms.Candidate.ID}, arms.Candidate.UpdatedAt, tolerance)
	if err != nil {
		return arms, nil, err
	}
	return arms, Compare(arms, results, MinScored), nil
}
