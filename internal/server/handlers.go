package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/cache"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/rollout"
	"github.com/gin-gonic/gin"
)

const maxModelsListed = 200

// PredictRequest is the body of POST /api/v1/predict
type PredictRequest struct {
	Repo     string         `json:"repo" binding:"required"`
	UserID   string         `json:"userId"`
	Features map[string]any `json:"features" binding:"required"`
}

// PredictResponse is the answer to a prediction request
type PredictResponse struct {
	PredictionID string           `json:"predictionId"`
	Quality      float64          `json:"quality"`
	ModelVersion string           `json:"modelVersion"`
	Algorithm    string           `json:"algorithm"`
	Variant      database.Variant `json:"variant"`
	Cached       bool             `json:"cached"`
}

// FeedbackRequest is the body of POST /api/v1/feedback
type FeedbackRequest struct {
	PredictionID string   `json:"predictionId" binding:"required"`
	Actual       *float64 `json:"actual" binding:"required"`
	Source       string   `json:"source"`
}

func (s *Server) handlePredict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid prediction request", err.Error()))
		return
	}
	if len(req.Features) == 0 {
		_ = c.Error(apperrors.NewValidationError("features must not be empty"))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}

	served, variant, err := s.models.Route(userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	record := features.ExpandLanguage(features.Flatten(req.Features))

	key, err := cache.Key(served.Version.ID, record)
	if err != nil {
		_ = c.Error(apperrors.NewValidationError("features are not encodable", err.Error()))
		return
	}
	predicted, cached := s.cache.Get(key)
	if !cached {
		predicted = served.Model.Predict(features.Row(record, served.Model.FeatureNames()))
		if math.IsNaN(predicted) || math.IsInf(predicted, 0) {
			_ = c.Error(apperrors.NewInternalError("model produced a non-finite prediction", nil))
			return
		}
		s.cache.Set(key, predicted)
	}

	prediction := database.NewPrediction(served.Version.ID, req.Repo, predicted, record, variant)
	if err := s.store.RecordPrediction(c.Request.Context(), prediction); err != nil {
		_ = c.Error(err)
		return
	}
	s.metrics.Predictions.WithLabelValues(string(variant)).Inc()

	c.JSON(http.StatusOK, PredictResponse{
		PredictionID: prediction.ID,
		Quality:      predicted,
		ModelVersion: served.Version.ID,
		Algorithm:    served.Version.Algorithm,
		Variant:      variant,
		Cached:       cached,
	})
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid feedback request", err.Error()))
		return
	}
	actual := *req.Actual
	if math.IsNaN(actual) || actual < 0 || actual > 1 {
		_ = c.Error(apperrors.NewValidationError("actual must be within [0, 1]", actual))
		return
	}

	feedback := database.NewFeedback(req.PredictionID, actual, req.Source)
	if err := s.store.RecordFeedback(c.Request.Context(), feedback); err != nil {
		_ = c.Error(err)
		return
	}
	s.metrics.FeedbackReceived.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"feedbackId":   feedback.ID,
		"predictionId": feedback.PredictionID,
	})
}

func (s *Server) handleModels(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = c.Error(apperrors.NewValidationError("limit must be a positive integer", raw))
			return
		}
		limit = min(n, maxModelsListed)
	}

	versions, err := s.store.ListModelVersions(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	_, comparison, err := rollout.Evaluate(c.Request.Context(), s.store, s.options.ScoreTolerance)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"models":     versions,
		"serving":    s.models.Serving(),
		"comparison": comparison,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	response := gin.H{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"serving":     s.models.Serving(),
		"cache":       s.cache.Stats(),
		"compression": s.compressor.Stats(),
	}
	if s.limiter != nil {
		response["rate_limit"] = s.limiter.GetStats()
	}
	dependencies, down := s.checkDependencies(c.Request.Context())
	if len(dependencies) > 0 {
		response["dependencies"] = dependencies
	}
	for _, name := range down {
		s.logger.Warn("Dependency health check failed", "dependency", name, "error", dependencies[name].Error)
	}

	report, err := s.health.Check(c.Request.Context())
	if err != nil {
		s.logger.Warn("Model health check failed", "error", err)
		response["status"] = "unknown"
		response["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response["status"] = report.Status
	response["model_health"] = report
	if len(down) > 0 && report.Status == monitoring.HealthHealthy {
		response["status"] = monitoring.HealthDegraded
	}

	status := http.StatusOK
	if report.Status == monitoring.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
