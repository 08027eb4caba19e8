// Command beastml trains, retrains and serves the repository quality model.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/config"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/spf13/cobra"
)

var version = "dev"

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			slog.Error("Command failed", "error", exit.err)
		}
		return exit.code
	}
	slog.Error("Command failed", "error", err)
	return 1
}

// cli is the state shared by every subcommand
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *monitoring.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "beastml",
		Short: "Repository quality model pipeline",
		Long: `beastml labels scanned repositories with the quality heuristic, trains
regression models on them, and keeps the deployed model fresh from user feedback.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = monitoring.NewLoggerWithWriter(cmd.ErrOrStderr(), monitoring.ParseLevel(cfg.Log.Level))
			slog.SetDefault(c.logger.Logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "beastml.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newRetrainCmd(c),
		newTrainCmd(c),
		newServeCmd(c),
		newScheduleCmd(c),
		newScanCmd(c),
		newRolloutCmd(c),
	)
	return root
}
