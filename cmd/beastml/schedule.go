package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/retrain"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/scheduler"
	"github.com/spf13/cobra"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var (
		next   int
		runNow bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the retrain cycle on the configured cron schedule",
		Long: `Run the retrain cycle every time schedule.cron fires until interrupted.
Each run still passes through the retrain gate, so a schedule more frequent
than retrain.interval only retrains when enough new samples have arrived.

Examples:
  # Show the next five scheduled runs
  beastml schedule --next 5

  # Run now, then on schedule
  beastml schedule --run-now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if next > 0 {
				return printNextRuns(cmd, c.cfg.Schedule.Cron, next)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, func(ctx context.Context, a *app) error {
				sched, err := scheduler.New(a.cfg.Schedule.Cron, retrainTask(a), a.cfg.Retrain.TrainingTimeout, a.logger)
				if err != nil {
					return err
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				if runNow {
					if err := sched.RunNow(); err != nil {
						a.logger.Warn("Failed to trigger immediate run", "error", err)
					}
				}

				<-ctx.Done()
				return sched.Stop()
			})
		},
	}

	cmd.Flags().IntVar(&next, "next", 0, "print the next N run times and exit")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run the cycle once immediately after starting")
	return cmd
}

func printNextRuns(cmd *cobra.Command, expr string, n int) error {
	runs, err := scheduler.NextRuns(expr, time.Now().UTC(), n)
	if err != nil {
		return err
	}
	for _, t := range runs {
		fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
	}
	return nil
}

// retrainTask runs one gated retrain cycle, deploying per deploy.auto_deploy
func retrainTask(a *app) scheduler.Task {
	pipeline := a.pipeline(pipelineConfig(a.cfg))
	return func(ctx context.Context) error {
		report, err := pipeline.Run(ctx, retrain.RunOptions{Deploy: a.cfg.Deploy.AutoDeploy})
		if err != nil {
			return err
		}
		a.logger.Info("Scheduled retrain finished",
			"outcome", report.Outcome(),
			"reason", report.Decision.Reason,
			"version", report.Version)
		return nil
	}
}
