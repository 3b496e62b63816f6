package ensemble

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/model"
)

func TestBlendingLearnsMonotonicSignal(t *testing.T) {
	X, y := synthetic(250, 31)

	b := NewBlending(DefaultBases())
	require.NoError(t, b.Fit(X, y, model.FitOptions{Balance: model.BalanceClassWeights, Seed: 31}))

	probs, err := b.PredictProba(X)
	require.NoError(t, err)
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Greater(t, rankAgreement(probs, y), 0.6)
}

func TestBlendingDropsDivergedBase(t *testing.T) {
	X, y := synthetic(120, 5)

	b := NewBlending([]model.Classifier{
		newDivergingBase("bad"),
		model.NewLogistic(),
		model.NewForest(),
	})
	require.NoError(t, b.Fit(X, y, model.FitOptions{Seed: 5}))
	assert.Equal(t, []string{"logistic", "forest"}, b.BaseNames())
}

func TestBlendingAbortsBelowMinimumSurvivors(t *testing.T) {
	X, y := synthetic(120, 5)

	b := NewBlending([]model.Classifier{
		newDivergingBase("bad-1"),
		newDivergingBase("bad-2"),
	})
	err := b.Fit(X, y, model.FitOptions{Seed: 5})

	var div *domain.TrainingDivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, "blending", div.Learner)
}

func TestBlendingRejectsDegenerateHoldout(t *testing.T) {
	X, y := synthetic(50, 5)

	b := NewBlending(DefaultBases())
	b.HoldoutFraction = 1.5
	assert.Error(t, b.Fit(X, y, model.FitOptions{Seed: 5}))
}

func TestBlendingArtifactRoundTrip(t *testing.T) {
	X, y := synthetic(150, 19)

	b := NewBlending(DefaultBases())
	require.NoError(t, b.Fit(X, y, model.FitOptions{Seed: 19}))

	vocab := &features.Vocabulary{Countries: []string{"France"}}
	artifact := model.NewArtifact(b, []string{"f0", "f1", "f2"}, vocab, nil)
	assert.Equal(t, "blending", artifact.Strategy)

	path := filepath.Join(t.TempDir(), "blending.json")
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

func TestEnsemblesAgreeOnStrongSignal(t *testing.T) {
	// Stacking and blending on the same inputs and base learners both
	// produce valid probabilities that rank the known signal well above
	// chance.
	X, y := synthetic(250, 37)
	opts := model.FitOptions{Seed: 37}

	s := NewStacking(DefaultBases())
	require.NoError(t, s.Fit(X, y, opts))
	b := NewBlending(DefaultBases())
	require.NoError(t, b.Fit(X, y, opts))

	sp, err := s.PredictProba(X)
	require.NoError(t, err)
	bp, err := b.PredictProba(X)
	require.NoError(t, err)

	assert.Greater(t, rankAgreement(sp, y), 0.6)
	assert.Greater(t, rankAgreement(bp, y), 0.6)
}
