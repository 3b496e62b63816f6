// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/retailml/propensity/internal/eval"
	"github.com/retailml/propensity/internal/model"
)

// Config is the full pipeline configuration.
type Config struct {
	HorizonDays int            `yaml:"horizon_days"`
	Training    TrainingConfig `yaml:"training"`
	Evaluation  eval.Config    `yaml:"evaluation"`
	Storage     StorageConfig  `yaml:"storage"`
}

// TrainingConfig holds the training-run knobs.
type TrainingConfig struct {
	TestFraction    float64 `yaml:"test_fraction"`
	Folds           int     `yaml:"folds"`
	Seed            int64   `yaml:"seed"`
	Balance         string  `yaml:"balance"`
	HoldoutFraction float64 `yaml:"holdout_fraction"`
}

// StorageConfig holds the external store settings.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	CacheTTLMin int    `yaml:"cache_ttl_minutes"`
	ArtifactDir string `yaml:"artifact_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HorizonDays: 30,
		Training: TrainingConfig{
			TestFraction:    0.2,
			Folds:           5,
			Seed:            42,
			Balance:         string(model.BalanceClassWeights),
			HoldoutFraction: 0.25,
		},
		Evaluation: eval.DefaultConfig(),
		Storage: StorageConfig{
			CacheTTLMin: 60,
			ArtifactDir: "artifacts",
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.HorizonDays <= 0 {
		return fmt.Errorf("horizon_days must be positive, got %d", c.HorizonDays)
	}
	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training.test_fraction %v outside (0,1)", c.Training.TestFraction)
	}
	if c.Training.Folds < 2 {
		return fmt.Errorf("training.folds must be at least 2, got %d", c.Training.Folds)
	}
	if c.Training.HoldoutFraction <= 0 || c.Training.HoldoutFraction >= 1 {
		return fmt.Errorf("training.holdout_fraction %v outside (0,1)", c.Training.HoldoutFraction)
	}
	switch model.BalanceStrategy(c.Training.Balance) {
	case model.BalanceNone, model.BalanceClassWeights, model.BalanceOversample:
	default:
		return fmt.Errorf("training.balance %q is not one of none, class_weights, oversample", c.Training.Balance)
	}
	if c.Evaluation.Threshold <= 0 || c.Evaluation.Threshold >= 1 {
		return fmt.Errorf("evaluation.threshold %v outside (0,1)", c.Evaluation.Threshold)
	}
	if len(c.Evaluation.Ks) == 0 {
		return fmt.Errorf("evaluation.ks must name at least one rank")
	}
	for _, k := range c.Evaluation.Ks {
		if k <= 0 {
			return fmt.Errorf("evaluation.ks contains non-positive rank %d", k)
		}
	}
	if c.Evaluation.CalibrationBins < 2 {
		return fmt.Errorf("evaluation.calibration_bins must be at least 2, got %d", c.Evaluation.CalibrationBins)
	}
	if c.Evaluation.Deciles < 2 {
		return fmt.Errorf("evaluation.deciles must be at least 2, got %d", c.Evaluation.Deciles)
	}
	return nil
}

// BalanceStrategy returns the configured balance strategy as its typed form.
func (c *Config) BalanceStrategy() model.BalanceStrategy {
	return model.BalanceStrategy(c.Training.Balance)
}
