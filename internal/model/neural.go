package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"gonum.org/v1/gonum/mat"
)

// Activation of a dense layer
type Activation string

const (
	ActivationReLU   Activation = "relu"
	ActivationLinear Activation = "linear"
)

// LayerSpec describes one dense layer and the dropout applied after it
type LayerSpec struct {
	Units      int        `json:"units"`
	Activation Activation `json:"activation"`
	L2         float64    `json:"l2"`
	Dropout    float64    `json:"dropout"`
}

// NeuralOptions configure the feed-forward regressor and its Adam optimizer
type NeuralOptions struct {
	Layers          []LayerSpec `json:"layers"`
	Epochs          int         `json:"epochs"`
	BatchSize       int         `json:"batchSize"`
	ValidationSplit float64     `json:"validationSplit"`
	LearningRate    float64     `json:"learningRate"`
	Seed            uint64      `json:"seed"`
}

// DefaultNeuralOptions returns Dense(128, relu, L2 .01) -> Dropout .3 ->
// Dense(64, relu, L2 .01) -> Dropout .2 -> Dense(32, relu) -> Dense(1),
// trained for 100 epochs with Adam at 0.001 and batch 32.
func DefaultNeuralOptions() NeuralOptions {
	return NeuralOptions{
		Layers: []LayerSpec{
			{Units: 128, Activation: ActivationReLU, L2: 0.01, Dropout: 0.3},
			{Units: 64, Activation: ActivationReLU, L2: 0.01, Dropout: 0.2},
			{Units: 32, Activation: ActivationReLU},
			{Units: 1, Activation: ActivationLinear},
		},
		Epochs:          100,
		BatchSize:       32,
		ValidationSplit: 0.2,
		LearningRate:    0.001,
		Seed:            42,
	}
}

type dense struct {
	spec LayerSpec
	w    *mat.Dense
	b    []float64
}

// NeuralModel is a trained feed-forward network over z-scored inputs
type NeuralModel struct {
	Names         []string
	Normalization *features.Normalization
	TrainLoss     float64
	ValLoss       float64
	layers        []dense
}

func (m *NeuralModel) Algorithm() Algorithm   { return AlgorithmNeural }
func (m *NeuralModel) FeatureNames() []string { return m.Names }

// Predict runs the network without dropout
func (m *NeuralModel) Predict(x []float64) float64 {
	in := mat.NewDense(1, len(x), m.Normalization.Apply(x))
	acts, _, _ := forward(m.layers, in, nil)
	return acts[len(acts)-1].At(0, 0)
}

type layerJSON struct {
	Spec    LayerSpec `json:"spec"`
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

type neuralJSON struct {
	Names         []string                `json:"featureNames"`
	Normalization *features.Normalization `json:"normalization"`
	TrainLoss     float64                 `json:"trainLoss"`
	ValLoss       float64                 `json:"valLoss"`
	Layers        []layerJSON             `json:"layers"`
}

func (m *NeuralModel) MarshalJSON() ([]byte, error) {
	out := neuralJSON{
		Names:         m.Names,
		Normalization: m.Normalization,
		TrainLoss:     m.TrainLoss,
		ValLoss:       m.ValLoss,
	}
	for _, l := range m.layers {
		r, c := l.w.Dims()
		out.Layers = append(out.Layers, layerJSON{
			Spec:    l.spec,
			Rows:    r,
			Cols:    c,
			Weights: append([]float64(nil), l.w.RawMatrix().Data...),
			Bias:    l.b,
		})
	}
	return marshalJSON(out)
}

func (m *NeuralModel) UnmarshalJSON(data []byte) error {
	var in neuralJSON
	if err := unmarshalJSON(data, &in); err != nil {
		return err
	}

	prev := len(in.Names)
	layers := make([]dense, len(in.Layers))
	for i, l := range in.Layers {
		if l.Rows != prev || l.Rows*l.Cols != len(l.Weights) || len(l.Bias) != l.Cols {
			return fmt.Errorf("layer %d has inconsistent shape %dx%d", i, l.Rows, l.Cols)
		}
		layers[i] = dense{spec: l.Spec, w: mat.NewDense(l.Rows, l.Cols, l.Weights), b: l.Bias}
		prev = l.Cols
	}
	if prev != 1 {
		return fmt.Errorf("network output width is %d, want 1", prev)
	}

	*m = NeuralModel{
		Names:         in.Names,
		Normalization: in.Normalization,
		TrainLoss:     in.TrainLoss,
		ValLoss:       in.ValLoss,
		layers:        layers,
	}
	return nil
}

// NeuralTrainer fits a NeuralModel with mini-batch Adam on MSE loss
type NeuralTrainer struct {
	opts   NeuralOptions
	logger *slog.Logger
}

// NewNeuralTrainer creates a neural trainer
func NewNeuralTrainer(opts NeuralOptions) *NeuralTrainer {
	if len(opts.Layers) == 0 {
		opts.Layers = DefaultNeuralOptions().Layers
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}
	return &NeuralTrainer{opts: opts, logger: slog.Default()}
}

func (t *NeuralTrainer) Algorithm() Algorithm { return AlgorithmNeural }

// Train fits the network. Inputs are z-scored with training statistics and a
// shuffled ValidationSplit share of rows is held out for loss monitoring only.
func (t *NeuralTrainer) Train(ctx context.Context, ds Dataset) (Model, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if last := t.opts.Layers[len(t.opts.Layers)-1]; last.Units != 1 {
		return nil, fmt.Errorf("output layer must have 1 unit, got %d", last.Units)
	}

	rng := rand.New(rand.NewPCG(t.opts.Seed, t.opts.Seed+7))
	trainIdx, valIdx := features.Split(len(ds.X), t.opts.ValidationSplit, t.opts.Seed)
	if len(ds.X) < 5 {
		trainIdx, valIdx = append(trainIdx, valIdx...), nil
	}

	norm := features.Fit(features.MethodZScore, features.Subset(ds.X, trainIdx))
	X := norm.ApplyAll(ds.X)

	layers := initLayers(t.opts.Layers, len(ds.Names), rng)
	opt := newAdam(layers, t.opts.LearningRate)

	m := &NeuralModel{
		Names:         append([]string(nil), ds.Names...),
		Normalization: norm,
		layers:        layers,
	}

	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })

		lossSum := 0.0
		for start := 0; start < len(trainIdx); start += t.opts.BatchSize {
			batch := trainIdx[start:min(start+t.opts.BatchSize, len(trainIdx))]
			xb, yb := batchOf(X, ds.Y, batch)
			lossSum += step(layers, opt, xb, yb, rng) * float64(len(batch))
		}

		m.TrainLoss = lossSum / float64(len(trainIdx))
		if len(valIdx) > 0 {
			xv, yv := batchOf(X, ds.Y, valIdx)
			m.ValLoss = mse(layers, xv, yv)
		}
		t.logger.Debug("neural epoch",
			"epoch", epoch+1,
			"loss", m.TrainLoss,
			"val_loss", m.ValLoss)
	}

	return m, nil
}

func initLayers(specs []LayerSpec, inputs int, rng *rand.Rand) []dense {
	layers := make([]dense, len(specs))
	prev := inputs
	for i, spec := range specs {
		limit := math.Sqrt(6 / float64(prev+spec.Units))
		data := make([]float64, prev*spec.Units)
		for k := range data {
			data[k] = (rng.Float64()*2 - 1) * limit
		}
		layers[i] = dense{spec: spec, w: mat.NewDense(prev, spec.Units, data), b: make([]float64, spec.Units)}
		prev = spec.Units
	}
	return layers
}

func batchOf(X [][]float64, y []float64, idx []int) (*mat.Dense, []float64) {
	cols := len(X[idx[0]])
	xb := mat.NewDense(len(idx), cols, nil)
	yb := make([]float64, len(idx))
	for r, i := range idx {
		xb.SetRow(r, X[i])
		yb[r] = y[i]
	}
	return xb, yb
}

// forward returns the post-dropout activations of every layer (index 0 is
// the input), the pre-activations, and the dropout masks. A nil rng disables
// dropout.
func forward(layers []dense, in *mat.Dense, rng *rand.Rand) (acts, pre, masks []*mat.Dense) {
	acts = []*mat.Dense{in}
	for _, l := range layers {
		rows, _ := in.Dims()
		_, cols := l.w.Dims()

		z := mat.NewDense(rows, cols, nil)
		z.Mul(in, l.w)
		z.Apply(func(_, j int, v float64) float64 { return v + l.b[j] }, z)

		a := mat.NewDense(rows, cols, nil)
		if l.spec.Activation == ActivationReLU {
			a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
		} else {
			a.Copy(z)
		}

		var mask *mat.Dense
		if rng != nil && l.spec.Dropout > 0 {
			keep := 1 - l.spec.Dropout
			mask = mat.NewDense(rows, cols, nil)
			mask.Apply(func(_, _ int, _ float64) float64 {
				if rng.Float64() < keep {
					return 1 / keep
				}
				return 0
			}, mask)
			a.MulElem(a, mask)
		}

		pre = append(pre, z)
		masks = append(masks, mask)
		acts = append(acts, a)
		in = a
	}
	return acts, pre, masks
}

func mse(layers []dense, xb *mat.Dense, yb []float64) float64 {
	acts, _, _ := forward(layers, xb, nil)
	out := acts[len(acts)-1]
	sum := 0.0
	for i, y := range yb {
		d := out.At(i, 0) - y
		sum += d * d
	}
	return sum / float64(len(yb))
}

// step runs one forward/backward pass and applies an Adam update. It returns
// the batch MSE before the update.
func step(layers []dense, opt *adam, xb *mat.Dense, yb []float64, rng *rand.Rand) float64 {
	acts, pre, masks := forward(layers, xb, rng)
	out := acts[len(acts)-1]
	n := float64(len(yb))

	delta := mat.NewDense(len(yb), 1, nil)
	loss := 0.0
	for i, y := range yb {
		d := out.At(i, 0) - y
		loss += d * d
		delta.Set(i, 0, 2*d/n)
	}

	gradW := make([]*mat.Dense, len(layers))
	gradB := make([][]float64, len(layers))
	for li := len(layers) - 1; li >= 0; li-- {
		l := layers[li]
		if masks[li] != nil {
			delta.MulElem(delta, masks[li])
		}
		if l.spec.Activation == ActivationReLU {
			z := pre[li]
			delta.Apply(func(i, j int, v float64) float64 {
				if z.At(i, j) > 0 {
					return v
				}
				return 0
			}, delta)
		}

		in, cols := l.w.Dims()
		gw := mat.NewDense(in, cols, nil)
		gw.Mul(acts[li].T(), delta)
		if l.spec.L2 > 0 {
			gw.Apply(func(i, j int, v float64) float64 { return v + 2*l.spec.L2*l.w.At(i, j) }, gw)
		}
		gb := make([]float64, cols)
		rows, _ := delta.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				gb[j] += delta.At(i, j)
			}
		}
		gradW[li], gradB[li] = gw, gb

		if li > 0 {
			next := mat.NewDense(rows, in, nil)
			next.Mul(delta, l.w.T())
			delta = next
		}
	}

	opt.update(layers, gradW, gradB)
	return loss / n
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	mw, vw                [][]float64
	mb, vb                [][]float64
}

func newAdam(layers []dense, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, l := range layers {
		n := len(l.w.RawMatrix().Data)
		a.mw = append(a.mw, make([]float64, n))
		a.vw = append(a.vw, make([]float64, n))
		a.mb = append(a.mb, make([]float64, len(l.b)))
		a.vb = append(a.vb, make([]float64, len(l.b)))
	}
	return a
}

func (a *adam) update(layers []dense, gradW []*mat.Dense, gradB [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for li, l := range layers {
		a.apply(l.w.RawMatrix().Data, gradW[li].RawMatrix().Data, a.mw[li], a.vw[li], c1, c2)
		a.apply(l.b, gradB[li], a.mb[li], a.vb[li], c1, c2)
	}
}

func (a *adam) apply(params, grads, m, v []float64, c1, c2 float64) {
	for k, g := range grads {
		m[k] = a.beta1*m[k] + (1-a.beta1)*g
		v[k] = a.beta2*v[k] + (1-a.beta2)*g*g
		params[k] -= a.lr * (m[k] / c1) / (math.Sqrt(v[k]/c2) + a.eps)
	}
}
