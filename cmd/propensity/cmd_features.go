package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/retailml/propensity/internal/config"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/labels"
)

var featuresCutoff string

// featuresCmd computes and prints the customer feature table without
// training anything.
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Compute the customer feature table at a cutoff",
	Long: `Load transactions from PostgreSQL, freeze the category vocabulary at the
cutoff, compute the full customer feature table, and print it as JSON.
Without --cutoff the maximum feasible cutoff of the loaded history is used.

Example usage:
  propensity features --dsn postgres://... --cutoff 2011-09-01`,
	RunE: runFeatures,
}

func init() {
	rootCmd.AddCommand(featuresCmd)
	featuresCmd.Flags().StringVar(&featuresCutoff, "cutoff", "", "Feature cutoff date (YYYY-MM-DD), default: max feasible")
}

func runFeatures(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	txns, err := loadTransactions(ctx, cfg, time.Time{}, time.Now().UTC())
	if err != nil {
		return err
	}

	var cutoff time.Time
	if featuresCutoff != "" {
		if cutoff, err = time.Parse("2006-01-02", featuresCutoff); err != nil {
			return fmt.Errorf("invalid --cutoff date %q: %w", featuresCutoff, err)
		}
	} else {
		builder := labels.NewBuilder(cfg.HorizonDays)
		if cutoff, err = builder.MaxFeasibleCutoff(txns); err != nil {
			return err
		}
	}

	engine := features.NewEngine()
	vocab := features.BuildVocabulary(txns, cutoff)
	table, err := engine.Compute(txns, cutoff, vocab)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(table)
}
