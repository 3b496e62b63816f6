package score

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/model"
)

func trainedArtifact(t *testing.T, c model.Classifier) *model.TrainedArtifact {
	t.Helper()
	rng := rand.New(rand.NewSource(4))
	X := make([][]float64, 200)
	y := make([]int, 200)
	for i := range X {
		signal := rng.NormFloat64()
		X[i] = []float64{signal, rng.NormFloat64(), rng.NormFloat64()}
		if signal > 0 {
			y[i] = 1
		}
	}
	require.NoError(t, c.Fit(X, y, model.FitOptions{Seed: 4}))
	vocab := &features.Vocabulary{Countries: nil}
	return model.NewArtifact(c, []string{"f0", "f1", "f2"}, vocab, nil)
}

func TestScoreValidVector(t *testing.T) {
	artifact := trainedArtifact(t, model.NewLogistic())
	scorer := NewScorer(2)

	res, err := scorer.Score(domain.FeatureVector{"f0": 2.0, "f1": 0.1, "f2": -0.1}, artifact)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)
	require.Len(t, res.TopContributions, 2)
	// The dominant signal feature leads the contribution ranking.
	assert.Equal(t, "f0", res.TopContributions[0].Feature)
}

func TestScoreFeatureMismatch(t *testing.T) {
	artifact := trainedArtifact(t, model.NewLogistic())
	scorer := NewScorer(3)

	tests := []struct {
		name    string
		vec     domain.FeatureVector
		missing []string
		extra   []string
	}{
		{
			name:    "missing feature",
			vec:     domain.FeatureVector{"f0": 1, "f1": 1},
			missing: []string{"f2"},
		},
		{
			name:  "extra feature",
			vec:   domain.FeatureVector{"f0": 1, "f1": 1, "f2": 1, "bogus": 1},
			extra: []string{"bogus"},
		},
		{
			name:    "renamed feature",
			vec:     domain.FeatureVector{"f0": 1, "f1": 1, "f9": 1},
			missing: []string{"f2"},
			extra:   []string{"f9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scorer.Score(tt.vec, artifact)
			var mismatch *domain.FeatureMismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.missing, mismatch.Missing)
			assert.Equal(t, tt.extra, mismatch.Extra)
		})
	}
}

func TestContributionRankingIsDeterministic(t *testing.T) {
	for _, c := range []model.Classifier{model.NewLogistic(), model.NewForest(), model.NewBoosting()} {
		t.Run(c.Name(), func(t *testing.T) {
			artifact := trainedArtifact(t, c)
			scorer := NewScorer(0)
			vec := domain.FeatureVector{"f0": 1.5, "f1": -0.5, "f2": 0.25}

			first, err := scorer.Score(vec, artifact)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				again, err := scorer.Score(vec, artifact)
				require.NoError(t, err)
				assert.Equal(t, first.TopContributions, again.TopContributions)
				assert.Equal(t, first.Probability, again.Probability)
			}
		})
	}
}

func TestScoreTransactionsMatchesTrainingEngine(t *testing.T) {
	day0 := time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := day0.AddDate(0, 0, 100)
	txns := []domain.Transaction{
		{InvoiceID: "I1", ProductCode: "P1", CustomerID: "A", Quantity: 2, UnitPrice: 5,
			Timestamp: day0.AddDate(0, 0, 10), Country: "France"},
		{InvoiceID: "I2", ProductCode: "P2", CustomerID: "A", Quantity: 1, UnitPrice: 8,
			Timestamp: day0.AddDate(0, 0, 90), Country: "France"},
	}

	engine := features.NewEngine()
	vocab := features.BuildVocabulary(txns, cutoff)
	table, err := engine.Compute(txns, cutoff, vocab)
	require.NoError(t, err)

	// Artifact bound to the real engine feature set.
	c := model.NewLogistic()
	require.NoError(t, c.Fit(table.Rows, []int{1}, model.FitOptions{Seed: 1}))
	artifact := model.NewArtifact(c, table.Names, vocab, nil)

	scorer := NewScorer(5)
	res, err := scorer.ScoreTransactions("A", txns, cutoff, artifact)
	require.NoError(t, err)
	assert.Equal(t, "A", res.CustomerID)
	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)

	// Unknown customer surfaces the recoverable history error.
	_, err = scorer.ScoreTransactions("Z", txns, cutoff, artifact)
	var insufficient *domain.InsufficientHistoryError
	assert.ErrorAs(t, err, &insufficient)
}

func TestScoreBatch(t *testing.T) {
	artifact := trainedArtifact(t, model.NewForest())
	scorer := NewScorer(1)

	table := &domain.FeatureTable{
		Names:       []string{"f0", "f1", "f2"},
		CustomerIDs: []string{"A", "B"},
		Rows:        [][]float64{{1, 0, 0}, {-1, 0, 0}},
	}

	results, err := scorer.ScoreBatch(table, artifact)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].CustomerID)
	assert.Len(t, results[0].TopContributions, 1)

	// Table with a reordered name list is rejected before prediction.
	bad := &domain.FeatureTable{
		Names:       []string{"f1", "f0", "f2"},
		CustomerIDs: []string{"A"},
		Rows:        [][]float64{{1, 0, 0}},
	}
	_, err = scorer.ScoreBatch(bad, artifact)
	var mismatch *domain.FeatureMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
