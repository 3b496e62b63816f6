// Package model implements the base learners and trained-artifact handling
// for the propensity pipeline: a linear model, a bagged tree ensemble, and a
// gradient boosted tree ensemble behind one capability-polymorphic contract.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BalanceStrategy selects how class imbalance is corrected during fitting.
type BalanceStrategy string

const (
	// BalanceNone applies no correction.
	BalanceNone BalanceStrategy = "none"
	// BalanceClassWeights applies inverse-frequency sample weights to the loss.
	BalanceClassWeights BalanceStrategy = "class_weights"
	// BalanceOversample adds synthetic minority rows to the training fold
	// only. Validation and test folds are never oversampled.
	BalanceOversample BalanceStrategy = "oversample"
)

// FitOptions are the uniform training knobs shared by every learner.
type FitOptions struct {
	Balance BalanceStrategy
	Seed    int64
}

// Classifier is the single contract all base learners and ensemble
// combiners satisfy, which makes composition recursive-safe.
type Classifier interface {
	// Fit trains on a dense feature matrix and binary labels.
	Fit(X [][]float64, y []int, opts FitOptions) error
	// PredictProba returns the positive-class probability per row, each in [0,1].
	PredictProba(X [][]float64) ([]float64, error)
	// FeatureImportances returns one non-negative score per feature column,
	// normalized to sum to 1 when any importance is non-zero.
	FeatureImportances() []float64
	// Clone returns a fresh unfitted copy with the same hyperparameters.
	Clone() Classifier
	// Name identifies the learner for artifacts and logs.
	Name() string
}

// constructors maps learner names to factory functions, used when loading
// persisted artifacts.
var constructors = map[string]func() Classifier{}

// Register makes a learner loadable by name. Called from init functions.
func Register(name string, fn func() Classifier) {
	constructors[name] = fn
}

// RegisteredNames lists all registered learner names, sorted.
func RegisteredNames() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classifierEnvelope is the persisted form of a classifier: the registry
// name plus the learner's own parameter payload.
type classifierEnvelope struct {
	Name  string          `json:"name"`
	Model json.RawMessage `json:"model"`
}

// MarshalClassifier serializes a fitted classifier with its registry name.
func MarshalClassifier(c Classifier) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s model: %w", c.Name(), err)
	}
	return json.Marshal(classifierEnvelope{Name: c.Name(), Model: payload})
}

// UnmarshalClassifier reconstructs a classifier from its persisted envelope
// via the registry.
func UnmarshalClassifier(data []byte) (Classifier, error) {
	var env classifierEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classifier envelope: %w", err)
	}
	fn, ok := constructors[env.Name]
	if !ok {
		return nil, fmt.Errorf("unknown classifier %q, registered: %v", env.Name, RegisteredNames())
	}
	c := fn()
	if err := json.Unmarshal(env.Model, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s model: %w", env.Name, err)
	}
	return c, nil
}

// normalizeImportances scales non-negative importances to sum to 1.
func normalizeImportances(imps []float64) []float64 {
	var sum float64
	for _, v := range imps {
		sum += v
	}
	out := make([]float64, len(imps))
	if sum == 0 {
		return out
	}
	for i, v := range imps {
		out[i] = v / sum
	}
	return out
}
