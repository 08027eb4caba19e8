package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for training, retraining and serving
type Metrics struct {
	registry *prometheus.Registry

	// Training
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	ModelR2          *prometheus.GaugeVec
	ModelMAE         *prometheus.GaugeVec
	TrainingSamples  prometheus.Gauge

	// Retraining
	RetrainDecisions *prometheus.CounterVec
	Deployments      *prometheus.CounterVec
	ModelHealth      *prometheus.GaugeVec

	// Serving
	Predictions         *prometheus.CounterVec
	FeedbackReceived    prometheus.Counter
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	RateLimitBlocks     prometheus.Counter
	RateLimitFallbacks  prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TrainingRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beastml_training_runs_total",
				Help: "Trainer runs by algorithm and outcome",
			},
			[]string{"algorithm", "outcome"},
		),
		TrainingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beastml_training_duration_seconds",
				Help:    "Wall time of one trainer run",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"algorithm"},
		),
		ModelR2: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beastml_model_r2",
				Help: "Held-out R² of the latest model per algorithm",
			},
			[]string{"algorithm"},
		),
		ModelMAE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beastml_model_mae",
				Help: "Held-out MAE of the latest model per algorithm",
			},
			[]string{"algorithm"},
		),
		TrainingSamples: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beastml_training_samples",
				Help: "Examples used by the latest training run",
			},
		),
		RetrainDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beastml_retrain_decisions_total",
				Help: "Retrain gate outcomes by reason",
			},
			[]string{"retrain", "reason"},
		),
		Deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beastml_deployments_total",
				Help: "Candidate models deployed or rejected",
			},
			[]string{"outcome"},
		),
		ModelHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beastml_model_health",
				Help: "1 for the current model health status, 0 otherwise",
			},
			[]string{"status"},
		),
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beastml_predictions_total",
				Help: "Predictions served by variant",
			},
			[]string{"variant"},
		),
		FeedbackReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beastml_feedback_total",
				Help: "Feedback records received",
			},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beastml_prediction_cache_hits_total",
				Help: "Prediction cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beastml_prediction_cache_misses_total",
				Help: "Prediction cache misses",
			},
		),
		RateLimitBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beastml_ratelimit_blocked_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		RateLimitFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beastml_ratelimit_fallback_total",
				Help: "Rate limit checks served by the in-memory limiter",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beastml_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beastml_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordTraining records a finished trainer run
func (m *Metrics) RecordTraining(algorithm string, duration time.Duration, r2, mae float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.TrainingRuns.WithLabelValues(algorithm, outcome).Inc()
	m.TrainingDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
	if err == nil {
		m.ModelR2.WithLabelValues(algorithm).Set(r2)
		m.ModelMAE.WithLabelValues(algorithm).Set(mae)
	}
}

// RecordDecision records one retrain gate evaluation
func (m *Metrics) RecordDecision(retrain bool, reason string) {
	m.RetrainDecisions.WithLabelValues(strconv.FormatBool(retrain), reason).Inc()
}

// SetHealth flips the health gauge to the given status
func (m *Metrics) SetHealth(status HealthStatus) {
	for _, s := range []HealthStatus{HealthHealthy, HealthDegraded, HealthCritical} {
		value := 0.0
		if s == status {
			value = 1
		}
		m.ModelHealth.WithLabelValues(string(s)).Set(value)
	}
}

// RecordRequest records one HTTP request
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
