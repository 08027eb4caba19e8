package features

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		fraction  float64
		wantTrain int
		wantTest  int
	}{
		{"twenty percent", 100, 0.2, 80, 20},
		{"no holdout", 10, 0, 10, 0},
		{"single row", 1, 0.2, 1, 0},
		{"tiny set keeps one test row", 3, 0.1, 2, 1},
		{"huge fraction keeps one train row", 5, 0.99, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train, test := Split(tt.n, tt.fraction, 7)
			assert.Len(t, train, tt.wantTrain)
			assert.Len(t, test, tt.wantTest)

			all := append(append([]int{}, train...), test...)
			sort.Ints(all)
			for i, v := range all {
				assert.Equal(t, i, v)
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	trainA, testA := Split(50, 0.2, 42)
	trainB, testB := Split(50, 0.2, 42)
	assert.Equal(t, trainA, trainB)
	assert.Equal(t, testA, testB)
}

func TestKFold(t *testing.T) {
	folds := KFold(23, 5, 1)
	assert.Len(t, folds, 5)

	seen := make(map[int]bool)
	for _, fold := range folds {
		assert.GreaterOrEqual(t, len(fold), 4)
		assert.LessOrEqual(t, len(fold), 5)
		for _, i := range fold {
			assert.False(t, seen[i])
			seen[i] = true
		}
	}
	assert.Len(t, seen, 23)
}

func TestSubset(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, Subset([]string{"a", "b", "c"}, []int{2, 0}))
}
