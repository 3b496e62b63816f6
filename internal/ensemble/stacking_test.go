package ensemble

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/model"
)

// synthetic builds a dataset with a known monotonic signal in the first
// feature.
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

// spyBase records which rows each fitted copy trained on, identified by the
// row's first feature, and counts predictions on rows from its own training
// set.
type spyBase struct {
	name     string
	overlaps *int
	trained  map[float64]bool
}

func newSpyBase(name string, overlaps *int) *spyBase {
	return &spyBase{name: name, overlaps: overlaps}
}

func (s *spyBase) Name() string { return s.name }

func (s *spyBase) Clone() model.Classifier {
	return &spyBase{name: s.name, overlaps: s.overlaps}
}

func (s *spyBase) Fit(X [][]float64, y []int, opts model.FitOptions) error {
	s.trained = make(map[float64]bool, len(X))
	for _, row := range X {
		s.trained[row[0]] = true
	}
	return nil
}

func (s *spyBase) PredictProba(X [][]float64) ([]float64, error) {
	probs := make([]float64, len(X))
	for i, row := range X {
		if s.trained[row[0]] {
			*s.overlaps++
		}
		probs[i] = 0.5
	}
	return probs, nil
}

func (s *spyBase) FeatureImportances() []float64 { return []float64{1, 0, 0} }

// divergingBase always fails with a divergence error.
type divergingBase struct{ spyBase }

func newDivergingBase(name string) *divergingBase {
	n := 0
	return &divergingBase{spyBase{name: name, overlaps: &n}}
}

func (d *divergingBase) Clone() model.Classifier { return newDivergingBase(d.name) }

func (d *divergingBase) Fit(X [][]float64, y []int, opts model.FitOptions) error {
	return &domain.TrainingDivergenceError{Learner: d.name, Reason: "stubbed"}
}

func TestStackingNoLeakInvariant(t *testing.T) {
	// Unique first features identify rows across fold fits.
	X, y := synthetic(97, 13)
	overlaps := 0

	s := NewStacking([]model.Classifier{
		newSpyBase("spy-a", &overlaps),
		newSpyBase("spy-b", &overlaps),
	})
	require.NoError(t, s.Fit(X, y, model.FitOptions{Seed: 13}))

	// During cross-validation no base model may score a row from its own
	// training fold. The full-data refits never predict during Fit, so any
	// overlap would come from a leak.
	assert.Zero(t, overlaps)

	// Every row got exactly one fold.
	assign := s.FoldAssignments()
	require.Len(t, assign, len(X))
	for _, f := range assign {
		assert.GreaterOrEqual(t, f, 0)
		assert.Less(t, f, s.Folds)
	}
}

func TestStackingLearnsMonotonicSignal(t *testing.T) {
	X, y := synthetic(250, 29)

	s := NewStacking(DefaultBases())
	require.NoError(t, s.Fit(X, y, model.FitOptions{Balance: model.BalanceClassWeights, Seed: 29}))

	probs, err := s.PredictProba(X)
	require.NoError(t, err)
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Greater(t, rankAgreement(probs, y), 0.6)
	assert.Equal(t, []string{"logistic", "forest", "boosting"}, s.BaseNames())
}

func TestStackingDropsDivergedBase(t *testing.T) {
	X, y := synthetic(120, 3)

	s := NewStacking([]model.Classifier{
		newDivergingBase("bad"),
		model.NewLogistic(),
		model.NewForest(),
	})
	require.NoError(t, s.Fit(X, y, model.FitOptions{Seed: 3}))
	assert.Equal(t, []string{"logistic", "forest"}, s.BaseNames())
}

func TestStackingAbortsBelowMinimumSurvivors(t *testing.T) {
	X, y := synthetic(120, 3)

	s := NewStacking([]model.Classifier{
		newDivergingBase("bad-1"),
		newDivergingBase("bad-2"),
		model.NewLogistic(),
	})
	err := s.Fit(X, y, model.FitOptions{Seed: 3})

	var div *domain.TrainingDivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, "stacking", div.Learner)
}

func TestStackingArtifactRoundTrip(t *testing.T) {
	X, y := synthetic(150, 17)

	s := NewStacking(DefaultBases())
	require.NoError(t, s.Fit(X, y, model.FitOptions{Seed: 17}))

	vocab := &features.Vocabulary{Countries: []string{"France"}}
	artifact := model.NewArtifact(s, []string{"f0", "f1", "f2"}, vocab, nil)
	assert.Equal(t, "stacking", artifact.Strategy)

	path := filepath.Join(t.TempDir(), "stacking.json")
	require.NoError(t, artifact.Save(path))
	loaded, err := model.Load(path)
	require.NoError(t, err)

	want, err := artifact.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}
