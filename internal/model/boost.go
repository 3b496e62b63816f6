package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

func init() {
	Register("boosting", func() Classifier { return NewBoosting() })
}

// Boosting is a gradient boosted tree classifier with logistic loss. Each
// round fits a shallow regression tree to the negative gradient and replaces
// its leaf values with a Newton step (sum of residuals over sum of hessians).
type Boosting struct {
	Rounds       int     `json:"rounds"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`

	InitScore   float64    `json:"init_score"`
	Fitted      []*regTree `json:"fitted"`
	ImportanceV []float64  `json:"importances"`
}

// NewBoosting creates a boosting learner with default hyperparameters.
func NewBoosting() *Boosting {
	return &Boosting{
		Rounds:       100,
		LearningRate: 0.1,
		MaxDepth:     3,
		MinLeaf:      2,
		Subsample:    0.8,
		Seed:         1,
	}
}

// Name implements Classifier.
func (m *Boosting) Name() string { return "boosting" }

// Clone implements Classifier.
func (m *Boosting) Clone() Classifier {
	return &Boosting{
		Rounds:       m.Rounds,
		LearningRate: m.LearningRate,
		MaxDepth:     m.MaxDepth,
		MinLeaf:      m.MinLeaf,
		Subsample:    m.Subsample,
		Seed:         m.Seed,
	}
}

// Fit implements Classifier.
func (m *Boosting) Fit(X [][]float64, y []int, opts FitOptions) error {
	X, y = applyBalance(X, y, opts)
	if len(X) == 0 {
		return fmt.Errorf("boosting: empty training set")
	}
	n, d := len(X), len(X[0])
	w := sampleWeights(y, opts.Balance)

	// Prior log-odds from the weighted base rate.
	var sumW, sumWY float64
	for i := range y {
		sumW += w[i]
		sumWY += w[i] * float64(y[i])
	}
	base := sumWY / sumW
	base = math.Max(1e-6, math.Min(1-1e-6, base))
	m.InitScore = math.Log(base / (1 - base))

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = m.InitScore
	}

	rng := rand.New(rand.NewSource(m.Seed ^ opts.Seed))
	m.Fitted = make([]*regTree, 0, m.Rounds)
	m.ImportanceV = make([]float64, d)

	residual := make([]float64, n)
	sampleSize := int(math.Max(1, m.Subsample*float64(n)))

	for round := 0; round < m.Rounds; round++ {
		for i := range residual {
			residual[i] = float64(y[i]) - sigmoid(scores[i])
		}

		idx := make([]int, sampleSize)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}

		tree := &regTree{MaxDepth: m.MaxDepth, MinLeaf: m.MinLeaf}
		tree.fit(X, residual, w, idx, 0, rng)
		m.newtonLeaves(tree, X, y, w, scores, idx)

		for i := range scores {
			scores[i] += m.LearningRate * tree.predict(X[i])
			if !isFinite(scores[i]) {
				return &domain.TrainingDivergenceError{
					Learner: m.Name(),
					Reason:  fmt.Sprintf("non-finite score at round %d", round),
				}
			}
		}

		m.Fitted = append(m.Fitted, tree)
		for j, imp := range tree.Importances {
			m.ImportanceV[j] += imp
		}
	}

	log.Debug().Int("rows", n).Int("features", d).Int("rounds", m.Rounds).
		Msg("Fitted gradient boosting")
	return nil
}

// newtonLeaves replaces each leaf's raw residual mean with the Newton step
// sum(w*residual) / sum(w*p*(1-p)) over the rows landing in that leaf.
func (m *Boosting) newtonLeaves(tree *regTree, X [][]float64, y []int, w, scores []float64, idx []int) {
	num := make(map[*treeNode]float64)
	den := make(map[*treeNode]float64)

	for _, i := range idx {
		leaf := tree.leafFor(X[i])
		p := sigmoid(scores[i])
		num[leaf] += w[i] * (float64(y[i]) - p)
		den[leaf] += w[i] * p * (1 - p)
	}

	for leaf, d := range den {
		if d < 1e-12 {
			leaf.Value = 0
			continue
		}
		leaf.Value = num[leaf] / d
	}
}

// PredictProba implements Classifier.
func (m *Boosting) PredictProba(X [][]float64) ([]float64, error) {
	if len(m.Fitted) == 0 {
		return nil, fmt.Errorf("boosting: model not fitted")
	}
	probs := make([]float64, len(X))
	for i, row := range X {
		score := m.InitScore
		for _, tree := range m.Fitted {
			score += m.LearningRate * tree.predict(row)
		}
		probs[i] = sigmoid(score)
	}
	return probs, nil
}

// FeatureImportances implements Classifier: summed split gain across all
// rounds, normalized.
func (m *Boosting) FeatureImportances() []float64 {
	return normalizeImportances(m.ImportanceV)
}
