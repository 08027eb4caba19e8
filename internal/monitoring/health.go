package monitoring

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// HealthStatus is the coarse health of the deployed model
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// HealthConfig holds thresholds for deriving health from feedback
type HealthConfig struct {
	Window           time.Duration `koanf:"window"`
	MaxSamples       int           `koanf:"max_samples"`
	MinSamples       int           `koanf:"min_samples"`
	Tolerance        float64       `koanf:"tolerance"`
	DegradedMissRate float64       `koanf:"degraded_miss_rate"`
	CriticalMissRate float64       `koanf:"critical_miss_rate"`
}

// DefaultHealthConfig returns the thresholds used when none are configured
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Window:           7 * 24 * time.Hour,
		MaxSamples:       1000,
		MinSamples:       20,
		Tolerance:        0.15,
		DegradedMissRate: 0.25,
		CriticalMissRate: 0.5,
	}
}

// HealthReport summarizes recent prediction error
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Samples   int          `json:"samples"`
	MissRate  float64      `json:"miss_rate"`
	MAE       float64      `json:"mae"`
	CheckedAt time.Time    `json:"checked_at"`
}

// FeedbackFunc returns paired predicted and observed values recorded since a time
type FeedbackFunc func(ctx context.Context, since time.Time, limit int) (predicted, actual []float64, err error)

// HealthChecker derives model health from prediction feedback
type HealthChecker struct {
	config   HealthConfig
	feedback FeedbackFunc
	metrics  *Metrics
	now      func() time.Time
}

// NewHealthChecker creates a checker; metrics may be nil
func NewHealthChecker(config HealthConfig, feedback FeedbackFunc, metrics *Metrics) *HealthChecker {
	return &HealthChecker{
		config:   config,
		feedback: feedback,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Check loads the feedback window and assesses it
func (h *HealthChecker) Check(ctx context.Context) (HealthReport, error) {
	since := h.now().Add(-h.config.Window)
	predicted, actual, err := h.feedback(ctx, since, h.config.MaxSamples)
	if err != nil {
		return HealthReport{}, err
	}

	report := Assess(h.config, predicted, actual)
	report.CheckedAt = h.now()

	if h.metrics != nil {
		h.metrics.SetHealth(report.Status)
	}

	return report, nil
}

// Status satisfies the retrain health source contract
func (h *HealthChecker) Status(ctx context.Context) (HealthStatus, error) {
	report, err := h.Check(ctx)
	if err != nil {
		return HealthHealthy, err
	}
	return report.Status, nil
}

// Assess classifies paired predictions. Windows smaller than MinSamples are healthy.
func Assess(config HealthConfig, predicted, actual []float64) HealthReport {
	n := min(len(predicted), len(actual))
	report := HealthReport{Status: HealthHealthy, Samples: n}
	if n == 0 {
		return report
	}

	absErr := make([]float64, n)
	misses := 0
	for i := 0; i < n; i++ {
		absErr[i] = math.Abs(predicted[i] - actual[i])
		if absErr[i] > config.Tolerance || math.IsNaN(absErr[i]) {
			misses++
		}
	}

	report.MAE = stat.Mean(absErr, nil)
	report.MissRate = float64(misses) / float64(n)

	if n < config.MinSamples {
		return report
	}

	switch {
	case report.MissRate > config.CriticalMissRate:
		report.Status = HealthCritical
	case report.MissRate > config.DegradedMissRate:
		report.Status = HealthDegraded
	}

	return report
}
