package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/retailml/propensity/internal/cache"
	"github.com/retailml/propensity/internal/config"
	"github.com/retailml/propensity/internal/persistence/postgres"
	"github.com/retailml/propensity/internal/pipeline"
	"github.com/retailml/propensity/internal/telemetry"
)

var (
	trainFrom    string
	trainTo      string
	trainTimeout time.Duration
)

// trainCmd runs the full training pipeline and persists one artifact per
// trained model.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the training pipeline and persist artifacts",
	Long: `Load transactions from PostgreSQL, derive labels at the maximum feasible
cutoff, compute the customer feature table, train the base learners and both
ensemble combiners, evaluate on a held-out customer split, and write one
versioned artifact per model.

Example usage:
  propensity train --dsn postgres://... --from 2011-01-01 --to 2011-12-31`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().StringVar(&trainFrom, "from", "", "Start of the transaction range (YYYY-MM-DD)")
	trainCmd.Flags().StringVar(&trainTo, "to", "", "End of the transaction range (YYYY-MM-DD)")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 30*time.Minute, "Overall pipeline timeout")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), trainTimeout)
	defer cancel()

	from, to, err := parseRange(trainFrom, trainTo)
	if err != nil {
		return err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	repo := postgres.NewTransactionsRepo(db, 2*time.Minute)
	txns, err := repo.FetchRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	runner := pipeline.NewRunner(cfg)
	runner.Progress = true
	runner.Metrics = telemetry.NewCollector(prometheus.NewRegistry())
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		runner.Cache = cache.NewFeatureCache(client, time.Duration(cfg.Storage.CacheTTLMin)*time.Minute)
	}

	result, err := runner.Run(ctx, txns)
	if err != nil {
		return err
	}

	for name, artifact := range result.Artifacts {
		path := filepath.Join(cfg.Storage.ArtifactDir, fmt.Sprintf("%s-%s.json", name, artifact.ID))
		if err := artifact.Save(path); err != nil {
			return err
		}
	}

	log.Info().
		Time("cutoff", result.Cutoff).
		Int("customers", result.Table.Len()).
		Int("artifacts", len(result.Artifacts)).
		Msg("Training pipeline completed")
	return nil
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()
	var err error
	if fromStr != "" {
		if from, err = time.Parse("2006-01-02", fromStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date %q: %w", fromStr, err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date %q: %w", toStr, err)
		}
	}
	return from, to, nil
}

func dsn(cfg *config.Config) string {
	if flagDSN != "" {
		return flagDSN
	}
	return cfg.Storage.PostgresDSN
}
