package model

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Metrics are regression quality measures
type Metrics struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

// Finite reports whether every measure is a finite number
func (m Metrics) Finite() bool {
	for _, v := range []float64{m.R2, m.MAE, m.RMSE} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Evaluate computes R², MAE and RMSE. R² is 0 when the labels have no
// spread, and is clamped to [-1, 1] with non-finite values mapped to -1.
// Empty input yields zero metrics.
func Evaluate(yTrue, yPred []float64) Metrics {
	n := min(len(yTrue), len(yPred))
	if n == 0 {
		return Metrics{}
	}
	yTrue, yPred = yTrue[:n], yPred[:n]

	mean := stat.Mean(yTrue, nil)
	var ssTot, ssRes, absSum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		ssRes += d * d
		absSum += math.Abs(d)
		t := yTrue[i] - mean
		ssTot += t * t
	}

	r2 := 0.0
	if ssTot > 0 && !math.IsInf(ssTot, 0) {
		r2 = 1 - ssRes/ssTot
		switch {
		case math.IsNaN(r2) || math.IsInf(r2, 0) || r2 < -1:
			r2 = -1
		case r2 > 1:
			r2 = 1
		}
	}

	return Metrics{
		R2:   r2,
		MAE:  absSum / float64(n),
		RMSE: math.Sqrt(ssRes / float64(n)),
	}
}

// Better reports whether a beats b, preferring higher R² then lower MAE
func Better(a, b Metrics) bool {
	if a.R2 != b.R2 {
		return a.R2 > b.R2
	}
	return a.MAE < b.MAE
}

// String renders metrics for logs
func (m Metrics) String() string {
	return "r2=" + strconv.FormatFloat(m.R2, 'f', 4, 64) +
		" mae=" + strconv.FormatFloat(m.MAE, 'f', 4, 64) +
		" rmse=" + strconv.FormatFloat(m.RMSE, 'f', 4, 64)
}
