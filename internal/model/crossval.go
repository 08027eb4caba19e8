package model

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"gonum.org/v1/gonum/stat"
)

// CVResult summarizes k-fold cross-validation
type CVResult struct {
	Folds    []Metrics `json:"folds"`
	MeanR2   float64   `json:"meanR2"`
	StdR2    float64   `json:"stdR2"`
	MeanMAE  float64   `json:"meanMae"`
	MeanRMSE float64   `json:"meanRmse"`
}

// CrossValidate trains a fresh model per fold and scores it on the held-out
// fold
func CrossValidate(ctx context.Context, trainer Trainer, ds Dataset, k int, seed uint64) (*CVResult, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if k < 2 || k > len(ds.X) {
		return nil, fmt.Errorf("cannot run %d folds over %d rows", k, len(ds.X))
	}

	folds := features.KFold(len(ds.X), k, seed)
	res := &CVResult{}
	r2s := make([]float64, 0, k)
	maes := make([]float64, 0, k)
	rmses := make([]float64, 0, k)

	for i, test := range folds {
		var train []int
		for j, fold := range folds {
			if j != i {
				train = append(train, fold...)
			}
		}

		m, err := trainer.Train(ctx, ds.Subset(train))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i+1, err)
		}

		held := ds.Subset(test)
		metrics := Evaluate(held.Y, PredictAll(m, held.X))
		res.Folds = append(res.Folds, metrics)
		r2s = append(r2s, metrics.R2)
		maes = append(maes, metrics.MAE)
		rmses = append(rmses, metrics.RMSE)
	}

	res.MeanR2, res.StdR2 = stat.PopMeanStdDev(r2s, nil)
	res.MeanMAE = stat.Mean(maes, nil)
	res.MeanRMSE = stat.Mean(rmses, nil)
	return res, nil
}
