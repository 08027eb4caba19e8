package features

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultMinVariance drops near-constant columns
const DefaultMinVariance = 0.01

// Selection is the result of variance-threshold feature selection
type Selection struct {
	X         [][]float64
	Names     []string
	Variances []float64
	Removed   []string
}

// Select keeps columns whose population variance is at least minVariance,
// ordered by descending variance. Row count is unchanged.
func Select(X [][]float64, names []string, minVariance float64) Selection {
	type column struct {
		index    int
		variance float64
	}

	kept := make([]column, 0, len(names))
	var removed []string
	for j, name := range names {
		variance := 0.0
		if len(X) > 0 {
			variance = stat.PopVariance(Column(X, j), nil)
		}
		if variance >= minVariance {
			kept = append(kept, column{index: j, variance: variance})
		} else {
			removed = append(removed, name)
		}
	}

	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].variance > kept[b].variance
	})

	sel := Selection{
		X:         make([][]float64, len(X)),
		Names:     make([]string, len(kept)),
		Variances: make([]float64, len(kept)),
		Removed:   removed,
	}
	for k, c := range kept {
		sel.Names[k] = names[c.index]
		sel.Variances[k] = c.variance
	}
	for i, row := range X {
		out := make([]float64, len(kept))
		for k, c := range kept {
			out[k] = row[c.index]
		}
		sel.X[i] = out
	}

	return sel
}
