package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/features"
)

// artifactSchemaVersion guards persisted artifacts against format drift.
const artifactSchemaVersion = "1"

// TrainedArtifact is the immutable output of a training run: the fitted
// model, the exact ordered feature list it was fit on, the frozen category
// vocabulary, and a metric snapshot. Artifacts are never mutated in place; a
// retrain produces a new artifact with a new ID.
type TrainedArtifact struct {
	ID           string               `json:"id"`
	CreatedAt    time.Time            `json:"created_at"`
	ModelName    string               `json:"model_name"`
	Strategy     string               `json:"strategy,omitempty"`
	FeatureNames []string             `json:"feature_names"`
	Vocabulary   *features.Vocabulary `json:"vocabulary"`
	Metrics      map[string]float64   `json:"metrics"`

	model Classifier
}

// NewArtifact bundles a fitted classifier into an immutable artifact.
func NewArtifact(c Classifier, featureNames []string, vocab *features.Vocabulary, metrics map[string]float64) *TrainedArtifact {
	names := make([]string, len(featureNames))
	copy(names, featureNames)

	a := &TrainedArtifact{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		ModelName:    c.Name(),
		FeatureNames: names,
		Vocabulary:   vocab,
		Metrics:      metrics,
		model:        c,
	}
	if c.Name() == "stacking" || c.Name() == "blending" {
		a.Strategy = c.Name()
	}
	return a
}

// Model returns the fitted classifier. Read-only at inference.
func (a *TrainedArtifact) Model() Classifier {
	return a.model
}

// PredictProba scores dense rows already ordered per FeatureNames.
func (a *TrainedArtifact) PredictProba(X [][]float64) ([]float64, error) {
	return a.model.PredictProba(X)
}

// persistedArtifact is the on-disk envelope.
type persistedArtifact struct {
	SchemaVersion string               `json:"schema_version"`
	ID            string               `json:"id"`
	CreatedAt     time.Time            `json:"created_at"`
	ModelName     string               `json:"model_name"`
	Strategy      string               `json:"strategy,omitempty"`
	FeatureNames  []string             `json:"feature_names"`
	Vocabulary    *features.Vocabulary `json:"vocabulary"`
	Metrics       map[string]float64   `json:"metrics"`
	Model         json.RawMessage      `json:"model"`
}

// Save writes the artifact as a versioned JSON bundle. The bundle
// round-trips through Load without altering predictions.
func (a *TrainedArtifact) Save(path string) error {
	modelPayload, err := MarshalClassifier(a.model)
	if err != nil {
		return fmt.Errorf("failed to serialize model for artifact %s: %w", a.ID, err)
	}

	env := persistedArtifact{
		SchemaVersion: artifactSchemaVersion,
		ID:            a.ID,
		CreatedAt:     a.CreatedAt,
		ModelName:     a.ModelName,
		Strategy:      a.Strategy,
		FeatureNames:  a.FeatureNames,
		Vocabulary:    a.Vocabulary,
		Metrics:       a.Metrics,
		Model:         modelPayload,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", a.ID, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", a.ID, err)
	}

	log.Info().Str("artifact_id", a.ID).Str("model", a.ModelName).Str("path", path).
		Msg("Saved trained artifact")
	return nil
}

// Load reads a persisted artifact bundle.
func Load(path string) (*TrainedArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var env persistedArtifact
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", path, err)
	}
	if env.SchemaVersion != artifactSchemaVersion {
		return nil, fmt.Errorf("artifact %s has schema version %q, want %q",
			path, env.SchemaVersion, artifactSchemaVersion)
	}

	c, err := UnmarshalClassifier(env.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to restore model from artifact %s: %w", path, err)
	}

	return &TrainedArtifact{
		ID:           env.ID,
		CreatedAt:    env.CreatedAt,
		ModelName:    env.ModelName,
		Strategy:     env.Strategy,
		FeatureNames: env.FeatureNames,
		Vocabulary:   env.Vocabulary,
		Metrics:      env.Metrics,
		model:        c,
	}, nil
}
