package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_ZScore(t *testing.T) {
	X := [][]float64{{1, 7}, {3, 7}}
	n := Fit(MethodZScore, X)
	require.NotNil(t, n)

	assert.Equal(t, []float64{2, 7}, n.Center)
	assert.Equal(t, []float64{1, 1}, n.Scale, "zero std becomes 1")
	assert.Equal(t, []float64{-1, 0}, n.Apply(X[0]))
	assert.Equal(t, []float64{1, 0}, n.Apply(X[1]))
}

func TestFit_MinMax(t *testing.T) {
	X := [][]float64{{0, 5}, {10, 5}, {5, 5}}
	n := Fit(MethodMinMax, X)
	require.NotNil(t, n)

	all := n.ApplyAll(X)
	assert.Equal(t, []float64{0, 0}, all[0])
	assert.Equal(t, []float64{1, 0}, all[1])
	assert.Equal(t, []float64{0.5, 0}, all[2])
}

func TestFit_None(t *testing.T) {
	var n *Normalization = Fit(MethodNone, [][]float64{{1}})
	assert.Nil(t, n)

	row := []float64{4, 5}
	out := n.Apply(row)
	assert.Equal(t, row, out)
	out[0] = 9
	assert.Equal(t, 4.0, row[0], "apply never aliases input")
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("zscore")
	require.NoError(t, err)
	assert.Equal(t, MethodZScore, m)

	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodNone, m)

	_, err = ParseMethod("robust")
	assert.Error(t, err)
}
