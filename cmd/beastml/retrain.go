package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/retrain"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type retrainFlags struct {
	check  bool
	force  bool
	deploy bool
	json   bool
}

func newRetrainCmd(c *cli) *cobra.Command {
	flags := &retrainFlags{}

	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the model when the retrain conditions hold",
		Long: `Evaluate the retrain gate and, when it passes, train every configured
algorithm, keep the best candidate and optionally deploy it.

Examples:
  # Exit 0 when a retrain is recommended, 1 otherwise
  beastml retrain --check

  # Retrain now regardless of the gate and deploy the result
  beastml retrain --force --deploy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("deploy") {
				flags.deploy = c.cfg.Deploy.AutoDeploy
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runRetrain(ctx, cmd.OutOrStdout(), a.pipeline(pipelineConfig(a.cfg)), flags)
			})
		},
	}

	cmd.Flags().BoolVar(&flags.check, "check", false, "only report whether a retrain is recommended")
	cmd.Flags().BoolVar(&flags.force, "force", false, "bypass the time and sample gates")
	cmd.Flags().BoolVar(&flags.deploy, "deploy", false, "deploy the new model when it clears the threshold (default deploy.auto_deploy)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the run report as JSON")
	return cmd
}

func runRetrain(ctx context.Context, out io.Writer, pipeline *retrain.Pipeline, flags *retrainFlags) error {
	report, err := pipeline.Run(ctx, retrain.RunOptions{
		Force:     flags.force,
		Deploy:    flags.deploy,
		CheckOnly: flags.check,
	})
	if report != nil {
		if perr := printReport(out, report, flags.json); perr != nil {
			return perr
		}
	}
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	return checkExit(flags.check, report.Decision)
}

// checkExit maps a --check decision onto the exit status
func checkExit(check bool, decision retrain.Decision) error {
	if check && !decision.Retrain {
		return &exitError{code: 1}
	}
	return nil
}

func printReport(out io.Writer, report *retrain.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	d := report.Decision
	fmt.Fprintf(out, "decision: retrain=%t reason=%s new_samples=%d health=%s",
		d.Retrain, d.Reason, d.NewSamples, d.Health)
	if d.FirstRun {
		fmt.Fprint(out, " first_run=true")
	} else {
		fmt.Fprintf(out, " elapsed=%s", d.Elapsed.Round(time.Second))
	}
	fmt.Fprintln(out)

	for _, cand := range report.Candidates {
		if cand.Error != "" {
			fmt.Fprintf(out, "  %-9s failed: %s\n", cand.Algorithm, cand.Error)
			continue
		}
		fmt.Fprintf(out, "  %-9s %s (%s)\n", cand.Algorithm, cand.Metrics, cand.Duration.Round(time.Millisecond))
	}
	if report.Selected != nil {
		fmt.Fprintf(out, "selected: %s on %d samples, %d features\n",
			report.Selected.Algorithm, report.Samples, report.Features)
	}
	if cv := report.CrossValidation; cv != nil {
		fmt.Fprintf(out, "cross-validation: %d folds, r2 %.4f ± %.4f, mae %.4f\n",
			len(cv.Folds), cv.MeanR2, cv.StdR2, cv.MeanMAE)
	}
	if report.Version != "" {
		fmt.Fprintf(out, "model: %s -> %s\n", report.Version, report.ModelPath)
	}
	if report.Outcome() == retrain.PhaseDeployed {
		fmt.Fprintf(out, "deployed at %d%% traffic\n", report.TrafficPercent)
	}
	fmt.Fprintf(out, "outcome: %s\n", report.Outcome())
	return nil
}
