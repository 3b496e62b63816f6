package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthetic builds a dataset with a known monotonic signal: the first
// feature drives the label, the rest are noise.
func synthetic(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		signal := rng.NormFloat64()
		X[i] = []float64{signal, rng.NormFloat64(), rng.NormFloat64()}
		if signal+0.3*rng.NormFloat64() > 0 {
			y[i] = 1
		}
	}
	return X, y
}

// rankAgreement is a quick AUC proxy: fraction of (positive, negative)
// pairs ranked correctly.
func rankAgreement(probs []float64, y []int) float64 {
	var correct, total float64
	for i := range probs {
		for j := range probs {
			if y[i] == 1 && y[j] == 0 {
				total++
				if probs[i] > probs[j] {
					correct++
				} else if probs[i] == probs[j] {
					correct += 0.5
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return correct / total
}

func learners() []Classifier {
	return []Classifier{NewLogistic(), NewForest(), NewBoosting()}
}

func TestLearnerContract(t *testing.T) {
	X, y := synthetic(300, 7)
	opts := FitOptions{Balance: BalanceClassWeights, Seed: 7}

	for _, c := range learners() {
		t.Run(c.Name(), func(t *testing.T) {
			require.NoError(t, c.Fit(X, y, opts))

			probs, err := c.PredictProba(X)
			require.NoError(t, err)
			require.Len(t, probs, len(X))
			for _, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
			}

			// The known monotonic signal must be learnable.
			assert.Greater(t, rankAgreement(probs, y), 0.75)

			imps := c.FeatureImportances()
			require.Len(t, imps, 3)
			var sum float64
			for _, v := range imps {
				assert.GreaterOrEqual(t, v, 0.0)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			// The signal feature dominates.
			assert.Greater(t, imps[0], imps[1])
			assert.Greater(t, imps[0], imps[2])
		})
	}
}

func TestLearnerDeterminism(t *testing.T) {
	X, y := synthetic(200, 11)
	opts := FitOptions{Balance: BalanceNone, Seed: 11}

	for _, proto := range learners() {
		t.Run(proto.Name(), func(t *testing.T) {
			a := proto.Clone()
			b := proto.Clone()
			require.NoError(t, a.Fit(X, y, opts))
			require.NoError(t, b.Fit(X, y, opts))

			pa, err := a.PredictProba(X)
			require.NoError(t, err)
			pb, err := b.PredictProba(X)
			require.NoError(t, err)
			assert.Equal(t, pa, pb)
		})
	}
}

func TestPredictBeforeFit(t *testing.T) {
	for _, c := range learners() {
		t.Run(c.Name(), func(t *testing.T) {
			_, err := c.PredictProba([][]float64{{1, 2, 3}})
			assert.Error(t, err)
		})
	}
}

func TestCloneIsUnfitted(t *testing.T) {
	X, y := synthetic(100, 3)
	for _, c := range learners() {
		t.Run(c.Name(), func(t *testing.T) {
			require.NoError(t, c.Fit(X, y, FitOptions{Seed: 3}))
			clone := c.Clone()
			_, err := clone.PredictProba(X)
			assert.Error(t, err, "clone must not share fitted state")
		})
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	X, y := synthetic(150, 5)

	for _, c := range learners() {
		t.Run(c.Name(), func(t *testing.T) {
			require.NoError(t, c.Fit(X, y, FitOptions{Seed: 5}))

			data, err := MarshalClassifier(c)
			require.NoError(t, err)
			restored, err := UnmarshalClassifier(data)
			require.NoError(t, err)
			assert.Equal(t, c.Name(), restored.Name())

			want, err := c.PredictProba(X)
			require.NoError(t, err)
			got, err := restored.PredictProba(X)
			require.NoError(t, err)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-9)
			}
		})
	}
}
