package database

import (
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/google/uuid"
)

// ModelStatus is the registry lifecycle of a trained model
type ModelStatus string

const (
	StatusCandidate  ModelStatus = "candidate"
	StatusProduction ModelStatus = "production"
	StatusRejected   ModelStatus = "rejected"
	StatusRetired    ModelStatus = "retired"
)

// Variant identifies which side of an A/B rollout served a prediction
type Variant string

const (
	VariantControl   Variant = "control"
	VariantCandidate Variant = "candidate"
)

// Prediction is a served quality prediction and the features it was made from
type Prediction struct {
	ID           string          `json:"id" db:"id"`
	ModelVersion string          `json:"model_version" db:"model_version"`
	RepoID       string          `json:"repo" db:"repo_id"`
	Predicted    float64         `json:"predicted" db:"predicted_value"`
	Features     features.Record `json:"features" db:"features"`
	Variant      Variant         `json:"variant" db:"variant"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Feedback is an observed quality for an earlier prediction
type Feedback struct {
	ID           string    `json:"id" db:"id"`
	PredictionID string    `json:"prediction_id" db:"prediction_id"`
	Actual       float64   `json:"actual" db:"actual_value"`
	Source       string    `json:"source" db:"source"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ModelVersion is a registry entry for a persisted model envelope
type ModelVersion struct {
	ID             string      `json:"id" db:"id"`
	Algorithm      string      `json:"algorithm" db:"algorithm"`
	Path           string      `json:"path" db:"path"`
	R2             float64     `json:"r2" db:"r2"`
	MAE            float64     `json:"mae" db:"mae"`
	RMSE           float64     `json:"rmse" db:"rmse"`
	Samples        int         `json:"samples" db:"samples"`
	Status         ModelStatus `json:"status" db:"status"`
	TrafficPercent int         `json:"traffic_percent" db:"traffic_percent"`
	TrainedAt      time.Time   `json:"trained_at" db:"trained_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// VariantResult aggregates the predictions one model version served and the
// feedback they received. Only the newest feedback per prediction counts.
type VariantResult struct {
	ModelVersion string  `json:"model_version"`
	Predictions  int     `json:"predictions"`
	Scored       int     `json:"scored"`
	Correct      int     `json:"correct"`
	TotalError   float64 `json:"total_error"`
}

// Accuracy is the share of scored predictions within tolerance
func (v VariantResult) Accuracy() float64 {
	if v.Scored == 0 {
		return 0
	}
	return float64(v.Correct) / float64(v.Scored)
}

// MAE is the mean absolute error of the scored predictions
func (v VariantResult) MAE() float64 {
	if v.Scored == 0 {
		return 0
	}
	return v.TotalError / float64(v.Scored)
}

// NewPrediction creates a prediction with a generated ID
func NewPrediction(modelVersion, repoID string, predicted float64, record features.Record, variant Variant) *Prediction {
	return &Prediction{
		ID:           uuid.New().String(),
		ModelVersion: modelVersion,
		RepoID:       repoID,
		Predicted:    predicted,
		Features:     record,
		Variant:      variant,
		CreatedAt:    time.Now(),
	}
}

// NewFeedback creates a feedback entry with a generated ID
func NewFeedback(predictionID string, actual float64, source string) *Feedback {
	if source == "" {
		source = "api"
	}
	return &Feedback{
		ID:           uuid.New().String(),
		PredictionID: predictionID,
		Actual:       actual,
		Source:       source,
		CreatedAt:    time.Now(),
	}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
