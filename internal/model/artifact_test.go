package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailml/propensity/internal/features"
)

func fittedArtifact(t *testing.T) (*TrainedArtifact, [][]float64) {
	t.Helper()
	X, y := synthetic(200, 21)

	c := NewBoosting()
	require.NoError(t, c.Fit(X, y, FitOptions{Balance: BalanceClassWeights, Seed: 21}))

	vocab := &features.Vocabulary{Countries: []string{"France", "Germany"}}
	metrics := map[string]float64{"roc_auc": 0.9}
	return NewArtifact(c, []string{"f0", "f1", "f2"}, vocab, metrics), X
}

func TestArtifactRoundTrip(t *testing.T) {
	artifact, X := fittedArtifact(t)
	path := filepath.Join(t.TempDir(), "artifact.json")

	require.NoError(t, artifact.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, artifact.ID, loaded.ID)
	assert.Equal(t, artifact.ModelName, loaded.ModelName)
	assert.Equal(t, artifact.FeatureNames, loaded.FeatureNames)
	assert.Equal(t, artifact.Vocabulary.Countries, loaded.Vocabulary.Countries)
	assert.Equal(t, artifact.Metrics, loaded.Metrics)

	// Round-trip must not alter predictions.
	want, err := artifact.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}

func TestArtifactsAreDistinct(t *testing.T) {
	a, _ := fittedArtifact(t)
	b, _ := fittedArtifact(t)

	// A retrain produces a new artifact, never an edit of the old one.
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLoadRejectsUnknownSchema(t *testing.T) {
	artifact, _ := fittedArtifact(t)
	path := filepath.Join(t.TempDir(), "artifact.json")
	require.NoError(t, artifact.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
