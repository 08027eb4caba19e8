package model

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearTrainer_Learns(t *testing.T) {
	ds := linearDataset(200, 1)
	opts := DefaultLinearOptions()
	opts.TargetMSE = 0

	m, err := NewLinearTrainer(opts).Train(context.Background(), ds)
	require.NoError(t, err)

	lm := m.(*LinearModel)
	assert.Len(t, lm.Weights, 3)
	assert.Equal(t, ds.Names, lm.FeatureNames())
	assert.Greater(t, lm.Weights[0], lm.Weights[2])

	metrics := Evaluate(ds.Y, PredictAll(m, ds.X))
	assert.Greater(t, metrics.R2, 0.9)
	assert.Equal(t, 1000, lm.EpochsRun)
}

func TestLinearTrainer_Reproducible(t *testing.T) {
	ds := linearDataset(100, 2)
	trainer := NewLinearTrainer(DefaultLinearOptions())

	a, err := trainer.Train(context.Background(), ds)
	require.NoError(t, err)
	b, err := trainer.Train(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, a.(*LinearModel).Weights, b.(*LinearModel).Weights)
	assert.Equal(t, a.(*LinearModel).Bias, b.(*LinearModel).Bias)
}

func TestLinearTrainer_EarlyStop(t *testing.T) {
	ds := Dataset{Names: []string{"x"}}
	for i := 0; i < 20; i++ {
		ds.X = append(ds.X, []float64{0})
		ds.Y = append(ds.Y, 0.5)
	}

	m, err := NewLinearTrainer(DefaultLinearOptions()).Train(context.Background(), ds)
	require.NoError(t, err)

	lm := m.(*LinearModel)
	assert.Less(t, lm.EpochsRun, 1000)
	assert.Less(t, lm.FinalMSE, 0.001)
	assert.InDelta(t, 0.5, lm.Predict([]float64{0}), 0.05)
}

func TestLinearTrainer_Normalization(t *testing.T) {
	ds := linearDataset(100, 4)
	for _, row := range ds.X {
		row[0] *= 1000
	}

	opts := DefaultLinearOptions()
	opts.Normalization = features.MethodZScore
	m, err := NewLinearTrainer(opts).Train(context.Background(), ds)
	require.NoError(t, err)

	lm := m.(*LinearModel)
	require.NotNil(t, lm.Normalization)
	assert.Equal(t, features.MethodZScore, lm.Normalization.Method)
	assert.True(t, Evaluate(ds.Y, PredictAll(m, ds.X)).Finite())
}

func TestLinearTrainer_PredictionsClamped(t *testing.T) {
	m := &LinearModel{Weights: []float64{10}, Names: []string{"x"}}
	assert.Equal(t, 1.0, m.Predict([]float64{5}))
	assert.Equal(t, 0.1, m.Predict([]float64{-5}))
}

func TestLinearTrainer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLinearTrainer(DefaultLinearOptions()).Train(ctx, linearDataset(10, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
