package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/goccy/go-json"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) stmt(name string) (*sql.Stmt, error) {
	stmt, err := r.db.GetPreparedStatement(name)
	if err != nil {
		return nil, apperrors.NewInternalError("statement unavailable", err)
	}
	return stmt, nil
}

// RecordPrediction stores a served prediction with its feature snapshot
func (r *Repository) RecordPrediction(ctx context.Context, p *Prediction) error {
	snapshot, err := json.Marshal(p.Features)
	if err != nil {
		return apperrors.NewValidationError("features are not serializable", err.Error())
	}

	stmt, err := r.stmt("insert_prediction")
	if err != nil {
		return err
	}

	if _, err := stmt.ExecContext(ctx, p.ID, p.ModelVersion, p.RepoID, p.Predicted,
		string(snapshot), string(p.Variant), toMillis(p.CreatedAt)); err != nil {
		return apperrors.NewPersistenceError("prediction", err)
	}
	return nil
}

// GetPrediction loads a prediction by ID
func (r *Repository) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	stmt, err := r.stmt("get_prediction")
	if err != nil {
		return nil, err
	}

	var (
		p        Prediction
		snapshot string
		variant  string
		created  int64
	)
	err = stmt.QueryRowContext(ctx, id).Scan(&p.ID, &p.ModelVersion, &p.RepoID, &p.Predicted,
		&snapshot, &variant, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("prediction", id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("prediction", err)
	}

	if err := json.Unmarshal([]byte(snapshot), &p.Features); err != nil {
		return nil, apperrors.NewDataError("corrupt feature snapshot", err)
	}
	p.Variant = Variant(variant)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// RecordFeedback stores an observed quality for an existing prediction
func (r *Repository) RecordFeedback(ctx context.Context, f *Feedback) error {
	if _, err := r.GetPrediction(ctx, f.PredictionID); err != nil {
		return err
	}

	stmt, err := r.stmt("insert_feedback")
	if err != nil {
		return err
	}

	if _, err := stmt.ExecContext(ctx, f.ID, f.PredictionID, f.Actual, f.Source, toMillis(f.CreatedAt)); err != nil {
		return apperrors.NewPersistenceError("feedback", err)
	}
	return nil
}

// CountFeedbackSince counts feedback recorded at or after since
func (r *Repository) CountFeedbackSince(ctx context.Context, since time.Time) (int, error) {
	stmt, err := r.stmt("count_feedback_since")
	if err != nil {
		return 0, err
	}

	var count int
	if err := stmt.QueryRowContext(ctx, toMillis(since)).Scan(&count); err != nil {
		return 0, apperrors.NewPersistenceError("feedback", err)
	}
	return count, nil
}

// RecentFeedbackPairs returns up to limit (predicted, actual) pairs recorded at
// or after since, newest first
func (r *Repository) RecentFeedbackPairs(ctx context.Context, since time.Time, limit int) ([]float64, []float64, error) {
	stmt, err := r.stmt("feedback_pairs_since")
	if err != nil {
		return nil, nil, err
	}

	rows, err := stmt.QueryContext(ctx, toMillis(since), limit)
	if err != nil {
		return nil, nil, apperrors.NewPersistenceError("feedback", err)
	}
	defer rows.Close()

	var predicted, actual []float64
	for rows.Next() {
		var p, a float64
		if err := rows.Scan(&p, &a); err != nil {
			return nil, nil, apperrors.NewPersistenceError("feedback", err)
		}
		predicted = append(predicted, p)
		actual = append(actual, a)
	}
	return predicted, actual, rows.Err()
}

// FeedbackExamples turns feedback since the given time into observed training
// examples. The newest feedback per repository wins.
func (r *Repository) FeedbackExamples(ctx context.Context, since time.Time) ([]features.Example, error) {
	stmt, err := r.stmt("feedback_examples_since")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, toMillis(since))
	if err != nil {
		return nil, apperrors.NewPersistenceError("feedback", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var examples []features.Example
	for rows.Next() {
		var (
			repoID   string
			snapshot string
			actual   float64
		)
		if err := rows.Scan(&repoID, &snapshot, &actual); err != nil {
			return nil, apperrors.NewPersistenceError("feedback", err)
		}
		if _, dup := seen[repoID]; dup {
			continue
		}
		seen[repoID] = struct{}{}

		var record features.Record
		if err := json.Unmarshal([]byte(snapshot), &record); err != nil {
			return nil, apperrors.NewDataError(fmt.Sprintf("corrupt feature snapshot for %s", repoID), err)
		}
		examples = append(examples, features.Example{
			RepoID:   repoID,
			Features: record,
			Quality:  actual,
			Observed: true,
		})
	}
	return examples, rows.Err()
}

// RecordModelVersion registers a trained model
func (r *Repository) RecordModelVersion(ctx context.Context, v *ModelVersion) error {
	stmt, err := r.stmt("insert_model_version")
	if err != nil {
		return err
	}

	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}
	if _, err := stmt.ExecContext(ctx, v.ID, v.Algorithm, v.Path, v.R2, v.MAE, v.RMSE, v.Samples,
		string(v.Status), v.TrafficPercent, toMillis(v.TrainedAt), toMillis(v.UpdatedAt)); err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}
	return nil
}

// ModelsByStatus lists registry entries with the given status, newest first
func (r *Repository) ModelsByStatus(ctx context.Context, status ModelStatus) ([]ModelVersion, error) {
	stmt, err := r.stmt("get_models_by_status")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, string(status))
	if err != nil {
		return nil, apperrors.NewPersistenceError("model version", err)
	}
	defer rows.Close()
	return scanModelVersions(rows)
}

// ListModelVersions lists the whole registry, newest first
func (r *Repository) ListModelVersions(ctx context.Context, limit int) ([]ModelVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, algorithm, path, r2, mae, rmse, samples, status, traffic_percent, trained_at, updated_at
		FROM model_versions
		ORDER BY trained_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("model version", err)
	}
	defer rows.Close()
	return scanModelVersions(rows)
}

// Promote marks a version production at trafficPercent. A full rollout retires
// every other production version. A partial rollout keeps one control, the
// production version holding the most traffic, at the remaining traffic and
// retires the rest, so a superseded candidate never lingers in production.
func (r *Repository) Promote(ctx context.Context, id string, trafficPercent int) error {
	trafficPercent = max(0, min(100, trafficPercent))
	now := toMillis(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE model_versions SET status = ?, traffic_percent = ?, updated_at = ?
		WHERE id = ?
	`, string(StatusProduction), trafficPercent, now, id)
	if err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("model version", id)
	}

	control := id
	if trafficPercent < 100 {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM model_versions
			WHERE status = ? AND id != ?
			ORDER BY traffic_percent DESC, trained_at DESC
			LIMIT 1
		`, string(StatusProduction), id).Scan(&control)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			control = id
		case err != nil:
			return apperrors.NewPersistenceError("model version", err)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE model_versions SET traffic_percent = ?, updated_at = ?
				WHERE id = ?
			`, 100-trafficPercent, now, control); err != nil {
				return apperrors.NewPersistenceError("model version", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_versions SET status = ?, traffic_percent = 0, updated_at = ?
		WHERE status = ? AND id != ? AND id != ?
	`, string(StatusRetired), now, string(StatusProduction), id, control); err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}
	return nil
}

// VariantResults aggregates, per model version, the predictions served at or
// after since. A prediction is correct when its newest feedback lies within
// tolerance. Versions that served nothing are returned with zero counts.
func (r *Repository) VariantResults(ctx context.Context, versions []string, since time.Time, tolerance float64) ([]VariantResult, error) {
	if len(versions) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(versions)+2)
	args = append(args, tolerance)
	for _, v := range versions {
		args = append(args, v)
	}
	args = append(args, toMillis(since))

	query := fmt.Sprintf(`
		SELECT p.model_version,
			COUNT(*),
			COUNT(f.actual_value),
			COALESCE(SUM(CASE WHEN ABS(p.predicted_value - f.actual_value) <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(ABS(p.predicted_value - f.actual_value)), 0)
		FROM ml_predictions p
		LEFT JOIN ml_feedback f ON f.id = (
			SELECT id FROM ml_feedback WHERE prediction_id = p.id
			ORDER BY created_at DESC LIMIT 1
		)
		WHERE p.model_version IN (%s) AND p.created_at >= ?
		GROUP BY p.model_version
	`, strings.TrimSuffix(strings.Repeat("?,", len(versions)), ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("variant results", err)
	}
	defer rows.Close()

	found := make(map[string]VariantResult, len(versions))
	for rows.Next() {
		var v VariantResult
		if err := rows.Scan(&v.ModelVersion, &v.Predictions, &v.Scored, &v.Correct, &v.TotalError); err != nil {
			return nil, apperrors.NewPersistenceError("variant results", err)
		}
		found[v.ModelVersion] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("variant results", err)
	}

	results := make([]VariantResult, len(versions))
	for i, id := range versions {
		results[i] = found[id]
		results[i].ModelVersion = id
	}
	return results, nil
}

// Reject marks a version rejected
func (r *Repository) Reject(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE model_versions SET status = ?, traffic_percent = 0, updated_at = ?
		WHERE id = ?
	`, string(StatusRejected), toMillis(time.Now()), id)
	if err != nil {
		return apperrors.NewPersistenceError("model version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("model version", id)
	}
	return nil
}

func scanModelVersions(rows *sql.Rows) ([]ModelVersion, error) {
	var out []ModelVersion
	for rows.Next() {
		var (
			v       ModelVersion
			status  string
			trained int64
			updated int64
		)
		if err := rows.Scan(&v.ID, &v.Algorithm, &v.Path, &v.R2, &v.MAE, &v.RMSE, &v.Samples,
			&status, &v.TrafficPercent, &trained, &updated); err != nil {
			return nil, apperrors.NewPersistenceError("model version", err)
		}
		v.Status = ModelStatus(status)
		v.TrainedAt = fromMillis(trained)
		v.UpdatedAt = fromMillis(updated)
		out = append(out, v)
	}
	return out, rows.Err()
}
