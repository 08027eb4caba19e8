package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Method names a normalization scheme
type Method string

const (
	MethodNone   Method = "none"
	MethodZScore Method = "zscore"
	MethodMinMax Method = "minmax"
)

// ParseMethod validates a method name
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodNone, MethodZScore, MethodMinMax:
		return Method(s), nil
	case "":
		return MethodNone, nil
	}
	return "", fmt.Errorf("unknown normalization method %q", s)
}

// Normalization maps x to (x - Center) / Scale per column. For z-score the
// center is the mean and the scale the population std; for min-max they are
// the minimum and the range. A zero scale is stored as 1.
type Normalization struct {
	Method Method    `json:"method"`
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

// Fit computes column statistics of X. MethodNone returns nil.
func Fit(method Method, X [][]float64) *Normalization {
	if method == MethodNone || method == "" || len(X) == 0 {
		return nil
	}

	cols := len(X[0])
	n := &Normalization{
		Method: method,
		Center: make([]float64, cols),
		Scale:  make([]float64, cols),
	}

	for j := 0; j < cols; j++ {
		col := Column(X, j)
		switch method {
		case MethodZScore:
			n.Center[j], n.Scale[j] = stat.PopMeanStdDev(col, nil)
		case MethodMinMax:
			n.Center[j] = floats.Min(col)
			n.Scale[j] = floats.Max(col) - n.Center[j]
		}
		if n.Scale[j] == 0 || n.Scale[j] != n.Scale[j] {
			n.Scale[j] = 1
		}
	}

	return n
}

// Apply normalizes one row into a new slice. A nil receiver copies the row.
func (n *Normalization) Apply(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	if n == nil {
		return out
	}
	for j := range out {
		if j < len(n.Center) {
			out[j] = (out[j] - n.Center[j]) / n.Scale[j]
		}
	}
	return out
}

// ApplyAll normalizes every row of X
func (n *Normalization) ApplyAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = n.Apply(row)
	}
	return out
}
