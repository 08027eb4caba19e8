package model

import (
	"context"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallNeuralOptions() NeuralOptions {
	opts := DefaultNeuralOptions()
	opts.Layers = []LayerSpec{
		{Units: 8, Activation: ActivationReLU, L2: 0.01, Dropout: 0.2},
		{Units: 4, Activation: ActivationReLU},
		{Units: 1, Activation: ActivationLinear},
	}
	opts.Epochs = 30
	opts.BatchSize = 16
	opts.LearningRate = 0.01
	return opts
}

func TestNeuralTrainer(t *testing.T) {
	ds := linearDataset(80, 9)

	m, err := NewNeuralTrainer(smallNeuralOptions()).Train(context.Background(), ds)
	require.NoError(t, err)

	nm := m.(*NeuralModel)
	assert.Equal(t, AlgorithmNeural, nm.Algorithm())
	require.NotNil(t, nm.Normalization)
	assert.False(t, math.IsNaN(nm.TrainLoss))
	assert.Greater(t, nm.ValLoss, 0.0)

	for _, p := range PredictAll(m, ds.X) {
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0))
	}
}

func TestNeuralTrainer_DefaultArchitecture(t *testing.T) {
	opts := DefaultNeuralOptions()
	opts.Epochs = 2

	m, err := NewNeuralTrainer(opts).Train(context.Background(), linearDataset(40, 10))
	require.NoError(t, err)

	nm := m.(*NeuralModel)
	require.Len(t, nm.layers, 4)
	widths := make([]int, 0, 4)
	for _, l := range nm.layers {
		_, c := l.w.Dims()
		widths = append(widths, c)
	}
	assert.Equal(t, []int{128, 64, 32, 1}, widths)
}

func TestNeuralTrainer_RejectsWideOutput(t *testing.T) {
	opts := smallNeuralOptions()
	opts.Layers = []LayerSpec{{Units: 2, Activation: ActivationLinear}}

	_, err := NewNeuralTrainer(opts).Train(context.Background(), linearDataset(10, 1))
	assert.Error(t, err)
}

func TestNeuralModel_JSON(t *testing.T) {
	ds := linearDataset(40, 11)
	m, err := NewNeuralTrainer(smallNeuralOptions()).Train(context.Background(), ds)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var restored NeuralModel
	require.NoError(t, json.Unmarshal(data, &restored))
	for _, x := range ds.X[:5] {
		assert.InDelta(t, m.Predict(x), restored.Predict(x), 1e-12)
	}

	assert.Error(t, json.Unmarshal([]byte(`{"featureNames":["a"],"layers":[{"rows":2,"cols":1,"weights":[1,2],"bias":[0]}]}`), &restored))
}
