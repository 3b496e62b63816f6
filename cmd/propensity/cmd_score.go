package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/retailml/propensity/internal/config"
	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/model"
	"github.com/retailml/propensity/internal/persistence/postgres"
	"github.com/retailml/propensity/internal/score"
)

var (
	scoreArtifact string
	scoreCustomer string
	scoreCutoff   string
	scoreTopN     int
)

// scoreCmd scores one customer against a persisted artifact.
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a customer against a trained artifact",
	Long: `Load a persisted artifact, recompute the customer's feature vector with the
same engine used at training time, and print the purchase probability with
the top contributing features as JSON.

Example usage:
  propensity score --artifact artifacts/stacking-<id>.json --customer 17850 --cutoff 2011-09-01`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringVar(&scoreArtifact, "artifact", "", "Path to the trained artifact bundle")
	scoreCmd.Flags().StringVar(&scoreCustomer, "customer", "", "Customer ID to score")
	scoreCmd.Flags().StringVar(&scoreCutoff, "cutoff", "", "Feature cutoff date (YYYY-MM-DD)")
	scoreCmd.Flags().IntVar(&scoreTopN, "top", 10, "Number of contributing features to report")
	_ = scoreCmd.MarkFlagRequired("artifact")
	_ = scoreCmd.MarkFlagRequired("customer")
	_ = scoreCmd.MarkFlagRequired("cutoff")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	artifact, err := model.Load(scoreArtifact)
	if err != nil {
		return err
	}

	cutoff, err := time.Parse("2006-01-02", scoreCutoff)
	if err != nil {
		return fmt.Errorf("invalid --cutoff date %q: %w", scoreCutoff, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	txns, err := loadTransactions(ctx, cfg, time.Time{}, cutoff)
	if err != nil {
		return err
	}

	scorer := score.NewScorer(scoreTopN)
	result, err := scorer.ScoreTransactions(scoreCustomer, txns, cutoff, artifact)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func loadTransactions(ctx context.Context, cfg *config.Config, from, to time.Time) ([]domain.Transaction, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	repo := postgres.NewTransactionsRepo(db, 2*time.Minute)
	raw, err := repo.FetchRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return domain.Clean(raw), nil
}
