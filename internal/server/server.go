// Package server exposes trained models over HTTP: predictions, feedback,
// the model registry, health and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/cache"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/middleware"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Store is the persistence the handlers need
type Store interface {
	VersionSource
	RecordPrediction(ctx context.Context, p *database.Prediction) error
	RecordFeedback(ctx context.Context, f *database.Feedback) error
	ListModelVersions(ctx context.Context, limit int) ([]database.ModelVersion, error)
	VariantResults(ctx context.Context, versions []string, since time.Time, tolerance float64) ([]database.VariantResult, error)
}

// Dependency is a backing service reported by /health
type Dependency interface {
	HealthCheck(ctx context.Context) error
	GetPoolStats() map[string]interface{}
}

// Options configures the HTTP surface
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Dependencies   map[string]Dependency
	CheckTimeout   time.Duration
	// ScoreTolerance is the error under which a rollout prediction is correct
	ScoreTolerance float64
}

// Server wires the handlers to their collaborators
type Server struct {
	models     *ModelSet
	store      Store
	cache      *cache.PredictionCache
	limiter    *ratelimit.RateLimiter
	health     *monitoring.HealthChecker
	metrics    *monitoring.Metrics
	logger     *monitoring.Logger
	compressor *middleware.Compressor
	options    Options
}

// New creates a server. The limiter may be nil to disable rate limiting.
func New(models *ModelSet, store Store, predictionCache *cache.PredictionCache, limiter *ratelimit.RateLimiter,
	health *monitoring.HealthChecker, metrics *monitoring.Metrics, logger *monitoring.Logger, options Options) *Server {
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 15 * time.Second
	}
	if options.CheckTimeout == 0 {
		options.CheckTimeout = 2 * time.Second
	}
	if options.ScoreTolerance == 0 {
		options.ScoreTolerance = monitoring.DefaultHealthConfig().Tolerance
	}
	return &Server{
		models:     models,
		store:      store,
		cache:      predictionCache,
		limiter:    limiter,
		health:     health,
		metrics:    metrics,
		logger:     logger,
		compressor: middleware.NewCompressor(middleware.DefaultCompressionConfig()),
		options:    options,
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.options.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-User-ID"},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(s.timeout())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/v1")
	api.Use(s.compressor.Handler())
	if s.limiter != nil {
		api.Use(s.limiter.IPRateLimitMiddleware())
	}
	api.POST("/predict", s.handlePredict)
	if s.limiter != nil {
		api.POST("/feedback", s.limiter.FeedbackRateLimitMiddleware(), s.handleFeedback)
	} else {
		api.POST("/feedback", s.handleFeedback)
	}
	api.GET("/models", s.handleModels)

	return r
}

// timeout bounds the request context
func (s *Server) timeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.options.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
