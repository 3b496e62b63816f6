package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

func init() {
	Register("forest", func() Classifier { return NewForest() })
}

// Forest is a bagged ensemble of regression trees fit on 0/1 labels, so each
// leaf value is a class probability. Each tree sees a bootstrap sample of
// rows and a sqrt-sized random feature subset per split.
type Forest struct {
	Trees    int   `json:"trees"`
	MaxDepth int   `json:"max_depth"`
	MinLeaf  int   `json:"min_leaf"`
	Seed     int64 `json:"seed"`

	Fitted      []*regTree `json:"fitted"`
	ImportanceV []float64  `json:"importances"`
}

// NewForest creates a forest learner with default hyperparameters.
func NewForest() *Forest {
	return &Forest{
		Trees:    50,
		MaxDepth: 6,
		MinLeaf:  2,
		Seed:     1,
	}
}

// Name implements Classifier.
func (m *Forest) Name() string { return "forest" }

// Clone implements Classifier.
func (m *Forest) Clone() Classifier {
	return &Forest{Trees: m.Trees, MaxDepth: m.MaxDepth, MinLeaf: m.MinLeaf, Seed: m.Seed}
}

// Fit implements Classifier.
func (m *Forest) Fit(X [][]float64, y []int, opts FitOptions) error {
	X, y = applyBalance(X, y, opts)
	if len(X) == 0 {
		return fmt.Errorf("forest: empty training set")
	}
	n, d := len(X), len(X[0])
	w := sampleWeights(y, opts.Balance)

	target := make([]float64, n)
	for i, v := range y {
		target[i] = float64(v)
	}

	featuresPerSplit := int(math.Ceil(math.Sqrt(float64(d))))
	rng := rand.New(rand.NewSource(m.Seed ^ opts.Seed))

	m.Fitted = make([]*regTree, 0, m.Trees)
	m.ImportanceV = make([]float64, d)

	for t := 0; t < m.Trees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}

		tree := &regTree{MaxDepth: m.MaxDepth, MinLeaf: m.MinLeaf}
		tree.fit(X, target, w, idx, featuresPerSplit, rng)

		if !allFinite([]float64{tree.Root.Value}) {
			return &domain.TrainingDivergenceError{
				Learner: m.Name(),
				Reason:  fmt.Sprintf("non-finite tree output at tree %d", t),
			}
		}

		m.Fitted = append(m.Fitted, tree)
		for j, imp := range tree.Importances {
			m.ImportanceV[j] += imp
		}
	}

	log.Debug().Int("rows", n).Int("features", d).Int("trees", m.Trees).
		Msg("Fitted random forest")
	return nil
}

// PredictProba implements Classifier: the mean leaf probability across
// trees, clamped to [0,1] against floating drift.
func (m *Forest) PredictProba(X [][]float64) ([]float64, error) {
	if len(m.Fitted) == 0 {
		return nil, fmt.Errorf("forest: model not fitted")
	}
	probs := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for _, tree := range m.Fitted {
			sum += tree.predict(row)
		}
		probs[i] = clamp01(sum / float64(len(m.Fitted)))
	}
	return probs, nil
}

// FeatureImportances implements Classifier: summed impurity decrease across
// all trees, normalized.
func (m *Forest) FeatureImportances() []float64 {
	return normalizeImportances(m.ImportanceV)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
