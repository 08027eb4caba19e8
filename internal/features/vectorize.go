package features

import (
	"sort"
)

// Matrix is a vectorized training set. Every row has len(Names) columns.
type Matrix struct {
	X     [][]float64
	Names []string
}

// Vectorize builds X over the union of numeric keys across examples, in sorted
// name order. Absent or non-numeric entries are 0. Inputs are not modified.
func Vectorize(examples []Example) Matrix {
	seen := make(map[string]struct{})
	for _, ex := range examples {
		for key, value := range ex.Features {
			if _, ok := numeric(value); ok {
				seen[key] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	X := make([][]float64, len(examples))
	for i, ex := range examples {
		X[i] = Row(ex.Features, names)
	}

	return Matrix{X: X, Names: names}
}

// Row vectorizes one record against a fixed name order
func Row(record Record, names []string) []float64 {
	row := make([]float64, len(names))
	for j, name := range names {
		row[j] = record.Get(name)
	}
	return row
}

// Rows vectorizes every example against a fixed name order
func Rows(examples []Example, names []string) [][]float64 {
	X := make([][]float64, len(examples))
	for i, ex := range examples {
		X[i] = Row(ex.Features, names)
	}
	return X
}

// Column copies column j of X
func Column(X [][]float64, j int) []float64 {
	col := make([]float64, len(X))
	for i, row := range X {
		col[i] = row[j]
	}
	return col
}
