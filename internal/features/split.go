package features

import (
	"math"
	"math/rand/v2"
)

// Split shuffles 0..n-1 with a seeded PCG and holds out testFraction of it.
// A zero fraction, or fewer than two rows, yields an empty test set.
func Split(n int, testFraction float64, seed uint64) (train, test []int) {
	idx := shuffled(n, seed)
	if testFraction <= 0 || n < 2 {
		return idx, nil
	}

	testN := int(math.Round(float64(n) * testFraction))
	testN = max(1, min(testN, n-1))

	return idx[testN:], idx[:testN]
}

// KFold partitions a seeded shuffle of 0..n-1 into k folds of near-equal size
func KFold(n, k int, seed uint64) [][]int {
	if k < 1 {
		k = 1
	}
	idx := shuffled(n, seed)
	folds := make([][]int, k)
	for i, v := range idx {
		folds[i%k] = append(folds[i%k], v)
	}
	return folds
}

// Subset returns the examples at the given indexes
func Subset[T any](items []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

func shuffled(n int, seed uint64) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}
