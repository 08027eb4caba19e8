package database

import (
	"context"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func TestRepository_PredictionRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	p := NewPrediction("v1", "owner/repo", 0.72, features.Record{"stars": 10.0, "hasTests": true}, VariantControl)
	require.NoError(t, repo.RecordPrediction(ctx, p))

	got, err := repo.GetPrediction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner/repo", got.RepoID)
	assert.Equal(t, 0.72, got.Predicted)
	assert.Equal(t, VariantControl, got.Variant)
	assert.Equal(t, 10.0, got.Features.Get("stars"))
	assert.Equal(t, 1.0, got.Features.Get("hasTests"))
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = repo.GetPrediction(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperrors.ToAppError(err).HTTPStatus)
}

func TestRepository_Feedback(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	p1 := NewPrediction("v1", "a/one", 0.4, features.Record{"stars": 1.0}, VariantControl)
	p2 := NewPrediction("v1", "b/two", 0.9, features.Record{"stars": 2.0}, VariantCandidate)
	require.NoError(t, repo.RecordPrediction(ctx, p1))
	require.NoError(t, repo.RecordPrediction(ctx, p2))

	older := NewFeedback(p1.ID, 0.3, "")
	older.CreatedAt = time.Now().Add(-time.Second)
	require.NoError(t, repo.RecordFeedback(ctx, older))
	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(p1.ID, 0.5, "review")))
	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(p2.ID, 0.8, "review")))

	err := repo.RecordFeedback(ctx, NewFeedback(uuid.New().String(), 0.5, ""))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperrors.ToAppError(err).HTTPStatus)

	count, err := repo.CountFeedbackSince(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountFeedbackSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	predicted, actual, err := repo.RecentFeedbackPairs(ctx, start, 2)
	require.NoError(t, err)
	assert.Len(t, predicted, 2)
	assert.Len(t, actual, 2)

	examples, err := repo.FeedbackExamples(ctx, start)
	require.NoError(t, err)
	require.Len(t, examples, 2)
	byRepo := map[string]features.Example{}
	for _, ex := range examples {
		assert.True(t, ex.Observed)
		byRepo[ex.RepoID] = ex
	}
	assert.Equal(t, 0.5, byRepo["a/one"].Quality)
	assert.Equal(t, 0.8, byRepo["b/two"].Quality)
	assert.Equal(t, 2.0, byRepo["b/two"].Features.Get("stars"))
}

func TestRepository_ModelRegistry(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	versions := []*ModelVersion{
		{ID: "old", Algorithm: "linear", Path: "linear-1.json", R2: 0.7, Status: StatusProduction, TrafficPercent: 100, TrainedAt: now.Add(-2 * time.Hour)},
		{ID: "new", Algorithm: "ensemble", Path: "ensemble-2.json", R2: 0.9, Status: StatusCandidate, TrainedAt: now.Add(-time.Hour)},
		{ID: "bad", Algorithm: "neural", Path: "neural-3.json", R2: 0.2, Status: StatusCandidate, TrainedAt: now},
	}
	for _, v := range versions {
		require.NoError(t, repo.RecordModelVersion(ctx, v))
	}

	require.NoError(t, repo.Promote(ctx, "new", 10))
	require.NoError(t, repo.Reject(ctx, "bad"))

	production, err := repo.ModelsByStatus(ctx, StatusProduction)
	require.NoError(t, err)
	require.Len(t, production, 2)
	assert.Equal(t, "new", production[0].ID)
	assert.Equal(t, 10, production[0].TrafficPercent)
	assert.Equal(t, "old", production[1].ID)
	assert.Equal(t, 90, production[1].TrafficPercent)

	require.NoError(t, repo.Promote(ctx, "new", 100))
	retired, err := repo.ModelsByStatus(ctx, StatusRetired)
	require.NoError(t, err)
	require.Len(t, retired, 1)
	assert.Equal(t, "old", retired[0].ID)

	all, err := repo.ListModelVersions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "bad", all[0].ID)
	assert.Equal(t, StatusRejected, all[0].Status)

	assert.Error(t, repo.Promote(ctx, "missing", 10))
	assert.Error(t, repo.Reject(ctx, "missing"))
}

func TestRepository_PromoteKeepsOneControl(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, repo.RecordModelVersion(ctx, &ModelVersion{
			ID:        id,
			Algorithm: "linear",
			Path:      id + ".json",
			Status:    StatusCandidate,
			TrainedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, repo.Promote(ctx, "v1", 100))
	require.NoError(t, repo.Promote(ctx, "v2", 10))
	require.NoError(t, repo.Promote(ctx, "v3", 10))

	production, err := repo.ModelsByStatus(ctx, StatusProduction)
	require.NoError(t, err)
	require.Len(t, production, 2)
	assert.Equal(t, "v3", production[0].ID)
	assert.Equal(t, 10, production[0].TrafficPercent)
	assert.Equal(t, "v1", production[1].ID)
	assert.Equal(t, 90, production[1].TrafficPercent)

	total := 0
	for _, v := range production {
		total += v.TrafficPercent
	}
	assert.Equal(t, 100, total)

	retired, err := repo.ModelsByStatus(ctx, StatusRetired)
	require.NoError(t, err)
	require.Len(t, retired, 1)
	assert.Equal(t, "v2", retired[0].ID)
	assert.Zero(t, retired[0].TrafficPercent)
}

func TestRepository_VariantResults(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	record := features.Record{"stars": 1.0}
	stale := NewPrediction("control", "z/stale", 0.5, record, VariantControl)
	stale.CreatedAt = since.Add(-time.Hour)
	require.NoError(t, repo.RecordPrediction(ctx, stale))
	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(stale.ID, 0.5, "")))

	hit := NewPrediction("control", "a/hit", 0.5, record, VariantControl)
	miss := NewPrediction("control", "b/miss", 0.5, record, VariantControl)
	unscored := NewPrediction("control", "c/open", 0.5, record, VariantControl)
	revised := NewPrediction("candidate", "d/revised", 0.6, record, VariantCandidate)
	for _, p := range []*Prediction{hit, miss, unscored, revised} {
		require.NoError(t, repo.RecordPrediction(ctx, p))
	}

	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(hit.ID, 0.55, "")))
	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(miss.ID, 0.9, "")))
	first := NewFeedback(revised.ID, 0.1, "")
	first.CreatedAt = time.Now().Add(-time.Second)
	require.NoError(t, repo.RecordFeedback(ctx, first))
	require.NoError(t, repo.RecordFeedback(ctx, NewFeedback(revised.ID, 0.62, "")))

	results, err := repo.VariantResults(ctx, []string{"control", "candidate", "idle"}, since, 0.15)
	require.NoError(t, err)
	require.Len(t, results, 3)

	control := results[0]
	assert.Equal(t, "control", control.ModelVersion)
	assert.Equal(t, 3, control.Predictions)
	assert.Equal(t, 2, control.Scored)
	assert.Equal(t, 1, control.Correct)
	assert.InDelta(t, 0.5, control.Accuracy(), 1e-9)
	assert.InDelta(t, (0.05+0.4)/2, control.MAE(), 1e-9)

	candidate := results[1]
	assert.Equal(t, 1, candidate.Scored, "only the newest feedback counts")
	assert.Equal(t, 1, candidate.Correct)
	assert.InDelta(t, 0.02, candidate.MAE(), 1e-9)

	assert.Equal(t, VariantResult{ModelVersion: "idle"}, results[2])
	assert.Zero(t, results[2].Accuracy())

	empty, err := repo.VariantResults(ctx, nil, since, 0.15)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
