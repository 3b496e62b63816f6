package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleWeightsInverseFrequency(t *testing.T) {
	y := []int{1, 0, 0, 0} // 1 positive, 3 negatives

	w := sampleWeights(y, BalanceClassWeights)

	assert.InDelta(t, 2.0, w[0], 1e-9)     // 4 / (2*1)
	assert.InDelta(t, 4.0/6, w[1], 1e-9)   // 4 / (2*3)
	// Both classes contribute equally in aggregate.
	assert.InDelta(t, w[0], w[1]+w[2]+w[3], 1e-9)
}

func TestSampleWeightsNoneIsUniform(t *testing.T) {
	w := sampleWeights([]int{1, 0, 1}, BalanceNone)
	assert.Equal(t, []float64{1, 1, 1}, w)
}

func TestOversampleBalancesClasses(t *testing.T) {
	X := [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {10, 10}}
	y := []int{0, 0, 0, 0, 1}

	outX, outY := Oversample(X, y, 42)

	var pos, neg int
	for _, v := range outY {
		if v == 1 {
			pos++
		} else {
			neg++
		}
	}
	assert.Equal(t, neg, pos)
	require.Len(t, outX, len(outY))

	// Synthetic rows interpolate minority rows; with one minority row they
	// all collapse onto it.
	for i := len(X); i < len(outX); i++ {
		assert.Equal(t, []float64{10, 10}, outX[i])
		assert.Equal(t, 1, outY[i])
	}

	// Input slices are untouched.
	assert.Len(t, X, 5)
	assert.Equal(t, []int{0, 0, 0, 0, 1}, y)
}

func TestOversampleDeterministic(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {5}, {6}, {7}, {8}}
	y := []int{1, 1, 1, 0, 0, 0, 0}

	x1, y1 := Oversample(X, y, 9)
	x2, y2 := Oversample(X, y, 9)

	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
}

func TestOversampleNoopWhenBalanced(t *testing.T) {
	X := [][]float64{{0}, {1}}
	y := []int{0, 1}

	outX, outY := Oversample(X, y, 1)

	assert.Equal(t, X, outX)
	assert.Equal(t, y, outY)
}
