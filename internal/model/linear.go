package model

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

func init() {
	Register("logistic", func() Classifier { return NewLogistic() })
}

// Logistic is an L2-regularized logistic regression fit by full-batch
// gradient descent. Inputs are standardized internally; the scaler is part
// of the model so training and inference always agree.
type Logistic struct {
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	L2           float64 `json:"l2"`

	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
}

// NewLogistic creates a logistic learner with default hyperparameters.
func NewLogistic() *Logistic {
	return &Logistic{
		LearningRate: 0.1,
		Epochs:       500,
		L2:           1e-4,
	}
}

// Name implements Classifier.
func (m *Logistic) Name() string { return "logistic" }

// Clone implements Classifier.
func (m *Logistic) Clone() Classifier {
	return &Logistic{LearningRate: m.LearningRate, Epochs: m.Epochs, L2: m.L2}
}

// Fit implements Classifier.
func (m *Logistic) Fit(X [][]float64, y []int, opts FitOptions) error {
	X, y = applyBalance(X, y, opts)
	if len(X) == 0 {
		return fmt.Errorf("logistic: empty training set")
	}
	n, d := len(X), len(X[0])
	w := sampleWeights(y, opts.Balance)

	m.Means, m.Stds = fitScaler(X)
	Z := transformScaler(X, m.Means, m.Stds)

	m.Weights = make([]float64, d)
	m.Bias = 0

	var sumW float64
	for _, wi := range w {
		sumW += wi
	}

	for epoch := 0; epoch < m.Epochs; epoch++ {
		grad := make([]float64, d)
		var gradBias float64

		for i := 0; i < n; i++ {
			p := sigmoid(dot(m.Weights, Z[i]) + m.Bias)
			err := w[i] * (p - float64(y[i]))
			for j := 0; j < d; j++ {
				grad[j] += err * Z[i][j]
			}
			gradBias += err
		}

		for j := 0; j < d; j++ {
			m.Weights[j] -= m.LearningRate * (grad[j]/sumW + m.L2*m.Weights[j])
		}
		m.Bias -= m.LearningRate * gradBias / sumW

		if !isFinite(m.Bias) || !allFinite(m.Weights) {
			return &domain.TrainingDivergenceError{
				Learner: m.Name(),
				Reason:  fmt.Sprintf("non-finite parameters at epoch %d", epoch),
			}
		}
	}

	log.Debug().Int("rows", n).Int("features", d).Int("epochs", m.Epochs).
		Msg("Fitted logistic regression")
	return nil
}

// PredictProba implements Classifier.
func (m *Logistic) PredictProba(X [][]float64) ([]float64, error) {
	if m.Weights == nil {
		return nil, fmt.Errorf("logistic: model not fitted")
	}
	Z := transformScaler(X, m.Means, m.Stds)
	probs := make([]float64, len(Z))
	for i, z := range Z {
		probs[i] = sigmoid(dot(m.Weights, z) + m.Bias)
	}
	return probs, nil
}

// FeatureImportances implements Classifier: absolute standardized
// coefficient magnitudes, normalized.
func (m *Logistic) FeatureImportances() []float64 {
	imps := make([]float64, len(m.Weights))
	for i, w := range m.Weights {
		imps[i] = math.Abs(w)
	}
	return normalizeImportances(imps)
}

// Coefficients returns the fitted standardized weights, used for signed
// per-feature contribution attribution.
func (m *Logistic) Coefficients() []float64 {
	return m.Weights
}

// Standardize applies the model's internal scaler to one row.
func (m *Logistic) Standardize(x []float64) []float64 {
	z := make([]float64, len(x))
	for j := range x {
		z[j] = (x[j] - m.Means[j]) / m.Stds[j]
	}
	return z
}

func fitScaler(X [][]float64) ([]float64, []float64) {
	n, d := len(X), len(X[0])
	means := make([]float64, d)
	stds := make([]float64, d)

	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X[i][j]
		}
		means[j] = sum / float64(n)

		var ss float64
		for i := 0; i < n; i++ {
			dv := X[i][j] - means[j]
			ss += dv * dv
		}
		stds[j] = math.Sqrt(ss / float64(n))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}

func transformScaler(X [][]float64, means, stds []float64) [][]float64 {
	Z := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, len(row))
		for j := range row {
			z[j] = (row[j] - means[j]) / stds[j]
		}
		Z[i] = z
	}
	return Z
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
