package main

import (
	"context"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/spf13/cobra"
)

func newTrainCmd(c *cli) *cobra.Command {
	var (
		algorithm string
		folds     int
		flags     = &retrainFlags{force: true}
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model from the scan batches now",
		Long: `Train unconditionally, bypassing the retrain gate. The trained model is
saved and registered as a candidate; pass --deploy to promote it when it
clears the deployment threshold.

Examples:
  beastml train --algorithm linear
  beastml train --algorithm ensemble --cv 10 --deploy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := pipelineConfig(c.cfg)
			if algorithm != "" {
				algs, err := parseAlgorithm(algorithm)
				if err != nil {
					return err
				}
				config.Algorithms = algs
			}
			if cmd.Flags().Changed("cv") {
				config.CVFolds = folds
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runRetrain(ctx, cmd.OutOrStdout(), a.pipeline(config), flags)
			})
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "", "linear, ensemble, neural or all (default training.algorithm)")
	cmd.Flags().IntVar(&folds, "cv", 0, "cross-validation folds for the selected model, 0 disables")
	cmd.Flags().BoolVar(&flags.deploy, "deploy", false, "deploy the model when it clears the threshold")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the run report as JSON")
	return cmd
}

func parseAlgorithm(name string) ([]model.Algorithm, error) {
	if name == "all" {
		return model.Algorithms(), nil
	}
	for _, alg := range model.Algorithms() {
		if string(alg) == name {
			return []model.Algorithm{alg}, nil
		}
	}
	return nil, apperrors.NewValidationError("unknown algorithm: " + name)
}
