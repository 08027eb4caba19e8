package main

import (
	"context"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/config"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/quality"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/ratelimit"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/retrain"
)

const leaseKey = "beastml:retrain:lease"

// app holds the long-lived resources a command needs
type app struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
	db      *database.DB
	repo    *database.Repository
	redis   *ratelimit.RedisClient
}

func newApp(ctx context.Context, cfg *config.Config, logger *monitoring.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Data.Dir)
	if err != nil {
		return nil, apperrors.NewPersistenceError("database", apperrors.WrapError(err, "open %s", cfg.Data.Dir))
	}

	redisClient, err := ratelimit.NewRedisClient(ctx, ratelimit.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("Redis unavailable, continuing without it", "error", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		db:      db,
		repo:    database.NewRepository(db),
		redis:   redisClient,
	}, nil
}

func (a *app) Close() error {
	apperrors.SafeClose(a.redis, "redis")
	return a.db.Close()
}

func (a *app) healthChecker() *monitoring.HealthChecker {
	return monitoring.NewHealthChecker(a.cfg.Health, a.repo.RecentFeedbackPairs, a.metrics)
}

func (a *app) lease() retrain.Lease {
	if a.redis != nil && a.redis.IsEnabled() {
		return retrain.NewRedisLease(a.redis.GetClient(), leaseKey, a.cfg.Retrain.LeaseTTL)
	}
	return retrain.NewFileLease(a.cfg.Data.LockFile, a.cfg.Retrain.LeaseTTL)
}

func jitterFunc(name string) quality.JitterFunc {
	if name == "none" {
		return quality.NoJitter
	}
	return quality.HashJitter
}

// pipelineConfig maps configuration onto the retrain pipeline
func pipelineConfig(cfg *config.Config) retrain.Config {
	return retrain.Config{
		Gate: retrain.GateConfig{
			Interval:      cfg.Retrain.Interval,
			MinNewSamples: cfg.Retrain.MinNewSamples,
		},
		Algorithms:      cfg.Training.Algorithms(),
		Options:         cfg.Training.ModelOptions(),
		MinVariance:     cfg.Training.SelectionThreshold(),
		TestFraction:    cfg.Training.TestFraction,
		Seed:            cfg.Training.Seed,
		TrainingTimeout: cfg.Retrain.TrainingTimeout,
		DeployThreshold: cfg.Deploy.Threshold,
		TrafficPercent:  cfg.Deploy.TrafficPercent,
		CVFolds:         cfg.Training.CVFolds,
	}
}

func (a *app) pipeline(config retrain.Config) *retrain.Pipeline {
	data := &retrain.ScanData{
		Dir:      a.cfg.Data.TrainingDir,
		Scorer:   quality.NewScorer(jitterFunc(a.cfg.Training.Jitter)),
		Feedback: a.repo,
	}

	return retrain.NewPipeline(retrain.Deps{
		State:    retrain.NewFileStateStore(a.cfg.Data.StateFile),
		Lease:    a.lease(),
		Samples:  data,
		Data:     data,
		Health:   a.healthChecker(),
		Store:    model.NewFileStore(a.cfg.Data.ModelsDir),
		Registry: a.repo,
		Metrics:  a.metrics,
		Logger:   a.logger,
	}, config)
}

// withApp opens the app for the duration of fn
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("Failed to close resources", "error", err)
		}
	}()
	return fn(ctx, a)
}
