// Package scheduler runs the retrain pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

const jobName = "retrain"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is one scheduled unit of work
type Task func(ctx context.Context) error

// Validate parses a five-field cron expression
func Validate(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid cron expression", fmt.Sprintf("%q: %v", expr, err))
	}
	return schedule, nil
}

// NextRuns returns the next n activation times after from, in UTC
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := Validate(expr)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	t := from.UTC()
	for i := 0; i < n; i++ {
		t = schedule.Next(t)
		runs = append(runs, t)
	}
	return runs, nil
}

// Scheduler runs a task on a cron expression. A run that is still going when
// the next activation fires is not overlapped; the activation is skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	expr      string
	task      Task
	timeout   time.Duration
	logger    *monitoring.Logger
	job       gocron.Job
}

// New validates expr and registers task. timeout bounds each run; zero means
// no bound beyond the context passed to Start.
func New(expr string, task Task, timeout time.Duration, logger *monitoring.Logger) (*Scheduler, error) {
	if _, err := Validate(expr); err != nil {
		return nil, err
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create scheduler", err)
	}

	return &Scheduler{
		scheduler: scheduler,
		expr:      expr,
		task:      task,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Start registers the job and starts the scheduler. Runs use ctx as their
// parent until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(s.expr, false),
		gocron.NewTask(func() { s.run(ctx) }),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return apperrors.NewInternalError("failed to register retrain job", err)
	}
	s.job = job
	s.scheduler.Start()

	next, _ := job.NextRun()
	s.logger.Info("Retrain scheduler started", "cron", s.expr, "next_run", next)
	return nil
}

// RunNow executes the task immediately through the scheduler
func (s *Scheduler) RunNow() error {
	if s.job == nil {
		return apperrors.NewInternalError("scheduler not started", nil)
	}
	return s.job.RunNow()
}

// Stop waits for a running task and shuts the scheduler down
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return apperrors.NewInternalError("failed to stop scheduler", err)
	}
	s.logger.Info("Retrain scheduler stopped")
	return nil
}

func (s *Scheduler) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.task(ctx); err != nil {
		s.logger.Error("Scheduled retrain failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Info("Scheduled retrain finished", "duration_ms", time.Since(start).Milliseconds())
}
