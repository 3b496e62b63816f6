package model

import (
	"math/rand"

	"github.com/rs/zerolog/log"
)

// sampleWeights derives per-row loss weights for the chosen balance
// strategy. Inverse-frequency weighting scales each class so both classes
// contribute equally in aggregate.
func sampleWeights(y []int, strategy BalanceStrategy) []float64 {
	w := make([]float64, len(y))
	for i := range w {
		w[i] = 1
	}
	if strategy != BalanceClassWeights {
		return w
	}

	var pos int
	for _, v := range y {
		pos += v
	}
	neg := len(y) - pos
	if pos == 0 || neg == 0 {
		return w
	}

	n := float64(len(y))
	w0 := n / (2 * float64(neg))
	w1 := n / (2 * float64(pos))
	for i, v := range y {
		if v == 1 {
			w[i] = w1
		} else {
			w[i] = w0
		}
	}
	return w
}

// Oversample adds synthetic minority-class rows by interpolating between
// random pairs of minority rows until the classes are balanced. Apply to
// training folds only; oversampling a validation or test fold leaks the
// synthetic neighborhood into evaluation.
func Oversample(X [][]float64, y []int, seed int64) ([][]float64, []int) {
	var pos int
	for _, v := range y {
		pos += v
	}
	neg := len(y) - pos
	if pos == 0 || neg == 0 || pos == neg {
		return X, y
	}

	minority := 1
	deficit := neg - pos
	if pos > neg {
		minority = 0
		deficit = pos - neg
	}

	idx := make([]int, 0, len(y))
	for i, v := range y {
		if v == minority {
			idx = append(idx, i)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	outX := make([][]float64, len(X), len(X)+deficit)
	copy(outX, X)
	outY := make([]int, len(y), len(y)+deficit)
	copy(outY, y)

	for n := 0; n < deficit; n++ {
		a := X[idx[rng.Intn(len(idx))]]
		b := X[idx[rng.Intn(len(idx))]]
		t := rng.Float64()
		row := make([]float64, len(a))
		for j := range a {
			row[j] = a[j] + t*(b[j]-a[j])
		}
		outX = append(outX, row)
		outY = append(outY, minority)
	}

	log.Debug().
		Int("original_rows", len(X)).
		Int("synthetic_rows", deficit).
		Int("minority_class", minority).
		Msg("Oversampled minority class")

	return outX, outY
}

// applyBalance resolves the oversampling strategy before fitting; weight
// strategies are handled inside each learner's loss instead.
func applyBalance(X [][]float64, y []int, opts FitOptions) ([][]float64, []int) {
	if opts.Balance == BalanceOversample {
		return Oversample(X, y, opts.Seed)
	}
	return X, y
}
