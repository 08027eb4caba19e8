package model

import (
	"context"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
)

// BuildDataset vectorizes labelled examples and applies variance selection.
// A negative minVariance keeps every column in name order.
func BuildDataset(examples []features.Example, minVariance float64) (Dataset, []string) {
	matrix := features.Vectorize(examples)
	ds := Dataset{X: matrix.X, Y: features.Labels(examples), Names: matrix.Names}
	if minVariance < 0 {
		return ds, nil
	}

	sel := features.Select(matrix.X, matrix.Names, minVariance)
	ds.X, ds.Names = sel.X, sel.Names
	return ds, sel.Removed
}

// Result is a model trained on one split together with its scores
type Result struct {
	Model        Model
	Metrics      Metrics
	TrainMetrics Metrics
}

// TrainAndEvaluate fits trainer on the train rows and scores it on both
// splits. An empty test split scores the training rows.
func TrainAndEvaluate(ctx context.Context, trainer Trainer, ds Dataset, trainIdx, testIdx []int) (*Result, error) {
	train := ds.Subset(trainIdx)
	m, err := trainer.Train(ctx, train)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model:        m,
		TrainMetrics: Evaluate(train.Y, PredictAll(m, train.X)),
	}
	if len(testIdx) == 0 {
		res.Metrics = res.TrainMetrics
		return res, nil
	}

	test := ds.Subset(testIdx)
	res.Metrics = Evaluate(test.Y, PredictAll(m, test.X))
	return res, nil
}
