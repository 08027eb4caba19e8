package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/cache"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/ratelimit"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/scheduler"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var (
		withSchedule bool
		profiling    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions and collect feedback",
		Long: `Start the prediction API. The production model and any candidate under
rollout are loaded from the registry and reloaded when the models directory
changes.

Examples:
  beastml serve
  beastml serve --schedule`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, func(ctx context.Context, a *app) error {
				return serve(ctx, a, withSchedule, profiling)
			})
		},
	}

	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run the retrain scheduler in this process")
	cmd.Flags().BoolVar(&profiling, "pprof", false, "mount /debug/pprof endpoints")
	return cmd
}

func serve(ctx context.Context, a *app, withSchedule, profiling bool) error {
	gin.SetMode(gin.ReleaseMode)

	predictions := cache.NewPredictionCache(a.cfg.Server.CacheTTL, a.metrics)
	models := server.NewModelSet(model.NewFileStore(a.cfg.Data.ModelsDir), a.repo, a.logger, predictions.Clear)
	if err := models.Reload(ctx); err != nil {
		return err
	}

	limiter := ratelimit.NewRateLimiter(a.redis, ratelimit.Config{
		IPLimit:         a.cfg.Server.IPLimitPerMin,
		FeedbackLimit:   a.cfg.Server.FeedbackLimitPerMin,
		CleanupInterval: time.Hour,
	}, a.metrics)
	defer limiter.Close()

	srv := server.New(models, a.repo, predictions, limiter, a.healthChecker(), a.metrics, a.logger, server.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		RequestTimeout: a.cfg.Server.ReadTimeout,
		ScoreTolerance: a.cfg.Health.Tolerance,
		Dependencies: map[string]server.Dependency{
			"database": a.db,
			"redis":    a.redis,
		},
	})
	router := srv.Router()
	if profiling {
		a.logger.Info("Enabling performance profiling endpoints")
		router.GET("/debug/pprof/*filepath", gin.WrapF(pprof.Index))
		router.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		router.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		router.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		router.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	go func() {
		if err := models.Watch(ctx); err != nil {
			a.logger.Warn("Model watcher stopped", "error", err)
		}
	}()

	if withSchedule {
		sched, err := scheduler.New(a.cfg.Schedule.Cron, retrainTask(a), a.cfg.Retrain.TrainingTimeout, a.logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				a.logger.Warn("Failed to stop scheduler", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.SystemLogger("startup", "listening on :"+a.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.SystemLogger("shutdown", "draining HTTP connections")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("Server exited")
	return nil
}
