package rollout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArms() Arms {
	promoted := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Arms{
		Control:   &database.ModelVersion{ID: "old", TrafficPercent: 90},
		Candidate: &database.ModelVersion{ID: "new", TrafficPercent: 10, UpdatedAt: promoted},
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		control   database.VariantResult
		candidate database.VariantResult
		ready     bool
		winner    string
	}{
		{
			name:      "candidate below minimum",
			control:   database.VariantResult{Predictions: 40, Scored: 20, Correct: 10, TotalError: 4},
			candidate: database.VariantResult{Predictions: 12, Scored: 9, Correct: 9, TotalError: 0.1},
		},
		{
			name:      "candidate wins on accuracy",
			control:   database.VariantResult{Predictions: 40, Scored: 20, Correct: 10, TotalError: 2},
			candidate: database.VariantResult{Predictions: 15, Scored: 10, Correct: 8, TotalError: 2},
			ready:     true,
			winner:    "new",
		},
		{
			name:      "control wins on accuracy",
			control:   database.VariantResult{Predictions: 40, Scored: 20, Correct: 18, TotalError: 2},
			candidate: database.VariantResult{Predictions: 15, Scored: 10, Correct: 5, TotalError: 0.1},
			ready:     true,
			winner:    "old",
		},
		{
			name:      "equal accuracy falls back to mae",
			control:   database.VariantResult{Predictions: 20, Scored: 10, Correct: 5, TotalError: 2},
			candidate: database.VariantResult{Predictions: 20, Scored: 10, Correct: 5, TotalError: 1},
			ready:     true,
			winner:    "new",
		},
		{
			name:      "full tie keeps control",
			control:   database.VariantResult{Predictions: 20, Scored: 10, Correct: 5, TotalError: 1},
			candidate: database.VariantResult{Predictions: 20, Scored: 10, Correct: 5, TotalError: 1},
			ready:     true,
			winner:    "old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arms := testArms()
			tt.control.ModelVersion, tt.candidate.ModelVersion = "old", "new"

			c := Compare(arms, []database.VariantResult{tt.control, tt.candidate}, MinScored)
			require.NotNil(t, c)
			assert.Equal(t, tt.ready, c.Ready)
			assert.Equal(t, tt.winner, c.Winner)
			assert.Equal(t, arms.Candidate.UpdatedAt, c.Since)
			assert.Equal(t, database.VariantCandidate, c.Candidate.Variant)
			assert.Equal(t, 90, c.Control.TrafficPercent)

			winner := c.WinnerArm(arms)
			if !tt.ready {
				assert.Nil(t, winner)
				return
			}
			require.NotNil(t, winner)
			assert.Equal(t, tt.winner, winner.ID)
		})
	}
}

func TestCompare_NoCandidate(t *testing.T) {
	arms := Arms{Control: &database.ModelVersion{ID: "only", TrafficPercent: 100}}
	assert.Nil(t, Compare(arms, nil, MinScored))
	assert.Nil(t, (*Comparison)(nil).WinnerArm(arms))
}

type stubResults struct {
	production []database.ModelVersion
	results    []database.VariantResult
	err        error

	since     time.Time
	versions  []string
	tolerance float64
}

func (s *stubResults) ModelsByStatus(context.Context, database.ModelStatus) ([]database.ModelVersion, error) {
	return s.production, nil
}

func (s *stubResults) VariantResults(_ context.Context, versions []string, since time.Time, tolerance float64) ([]database.VariantResult, error) {
	s.versions, s.since, s.tolerance = versions, since, tolerance
	return s.results, s.err
}

func TestEvaluate(t *testing.T) {
	arms := testArms()
	source := &stubResults{
		production: []database.ModelVersion{*arms.Candidate, *arms.Control},
		results: []database.VariantResult{
			{ModelVersion: "old", Scored: 12, Correct: 6},
			{ModelVersion: "new", Scored: 11, Correct: 9},
		},
	}

	got, c, err := Evaluate(context.Background(), source, 0.15)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Candidate.ID)
	assert.Equal(t, []string{"old", "new"}, source.versions)
	assert.Equal(t, arms.Candidate.UpdatedAt, source.since)
	assert.Equal(t, 0.15, source.tolerance)
	require.NotNil(t, c)
	assert.Equal(t, "new", c.Winner)

	source.err = errors.New("disk full")
	_, _, err = Evaluate(context.Background(), source, 0.15)
	assert.Error(t, err)

	single := &stubResults{production: []database.ModelVersion{{ID: "only", TrafficPercent: 100}}}
	got, c, err = Evaluate(context.Background(), single, 0.15)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, "only", got.Control.ID)
	assert.Nil(t, single.versions)
}
