package main

import (
	"context"
	"fmt"
	"io"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/rollout"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// rolloutRegistry is what concluding a rollout needs from the registry
type rolloutRegistry interface {
	rollout.ResultSource
	Promote(ctx context.Context, id string, trafficPercent int) error
}

func newRolloutCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect or conclude the running candidate rollout",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Compare the candidate against the control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				_, comparison, err := rollout.Evaluate(ctx, a.repo, a.cfg.Health.Tolerance)
				if err != nil {
					return err
				}
				return printComparison(cmd.OutOrStdout(), comparison, asJSON)
			})
		},
	}

	conclude := &cobra.Command{
		Use:   "conclude",
		Short: "Promote the winner of the rollout to full traffic",
		Long: `Promote the better arm of the running rollout to 100% traffic and retire
the other. Each arm needs at least 10 scored predictions; until then the
command exits 1 without changing the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				store := model.NewFileStore(a.cfg.Data.ModelsDir)
				return concludeRollout(ctx, cmd.OutOrStdout(), a.repo, store, a.cfg.Health.Tolerance, asJSON)
			})
		},
	}

	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")
	cmd.AddCommand(status, conclude)
	return cmd
}

func concludeRollout(ctx context.Context, out io.Writer, registry rolloutRegistry, store *model.FileStore, tolerance float64, asJSON bool) error {
	arms, comparison, err := rollout.Evaluate(ctx, registry, tolerance)
	if err != nil {
		return err
	}
	if comparison == nil {
		return apperrors.NewValidationError("no rollout in progress")
	}
	if err := printComparison(out, comparison, asJSON); err != nil {
		return err
	}

	winner := comparison.WinnerArm(arms)
	if winner == nil {
		return &exitError{code: 1, err: fmt.Errorf("rollout not ready: each arm needs %d scored predictions", rollout.MinScored)}
	}

	if err := registry.Promote(ctx, winner.ID, 100); err != nil {
		return err
	}
	if err := store.Publish(winner.Path); err != nil {
		return apperrors.NewPersistenceError("latest model", err)
	}
	if !asJSON {
		fmt.Fprintf(out, "promoted %s to 100%% traffic\n", winner.ID)
	}
	return nil
}

func printComparison(out io.Writer, c *rollout.Comparison, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}

	if c == nil {
		fmt.Fprintln(out, "no rollout in progress")
		return nil
	}
	fmt.Fprintf(out, "rollout since %s\n", c.Since.Format(time.RFC3339))
	for _, arm := range []rollout.ArmResult{c.Control, c.Candidate} {
		fmt.Fprintf(out, "  %-9s %s %3d%% traffic, %d predictions, %d scored, accuracy %.3f, mae %.4f\n",
			arm.Variant, arm.Version, arm.TrafficPercent, arm.Predictions, arm.Scored, arm.Accuracy, arm.MAE)
	}
	if c.Ready {
		fmt.Fprintf(out, "winner: %s\n", c.Winner)
	} else {
		fmt.Fprintf(out, "waiting for %d scored predictions per arm\n", rollout.MinScored)
	}
	return nil
}
