package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/retailml/propensity/internal/config"
	"github.com/retailml/propensity/internal/eval"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/labels"
	"github.com/retailml/propensity/internal/model"
)

var evalArtifact string

// evaluateCmd re-evaluates a persisted artifact against fresh data.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a trained artifact on current transaction history",
	Long: `Load a persisted artifact, rebuild labels at the maximum feasible cutoff of
the current transaction history, score every labeled customer, and print the
full metric report as JSON. Metrics that are undefined for the data (for
example ROC-AUC on a single-class label set) are reported as such rather
than silently zeroed.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evalArtifact, "artifact", "", "Path to the trained artifact bundle")
	_ = evaluateCmd.MarkFlagRequired("artifact")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	artifact, err := model.Load(evalArtifact)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	txns, err := loadTransactions(ctx, cfg, time.Time{}, time.Now().UTC())
	if err != nil {
		return err
	}

	builder := labels.NewBuilder(cfg.HorizonDays)
	cutoff, err := builder.MaxFeasibleCutoff(txns)
	if err != nil {
		return err
	}
	outcomes, err := builder.Build(txns, cutoff)
	if err != nil {
		return err
	}

	engine := features.NewEngine()
	table, err := engine.Compute(txns, cutoff, artifact.Vocabulary)
	if err != nil {
		return err
	}

	byCustomer := make(map[string]int, len(outcomes))
	for _, o := range outcomes {
		byCustomer[o.CustomerID] = o.Label
	}
	y := make([]int, table.Len())
	for i, id := range table.CustomerIDs {
		label, ok := byCustomer[id]
		if !ok {
			return fmt.Errorf("customer %s featurized but never labeled", id)
		}
		y[i] = label
	}

	probs, err := artifact.PredictProba(table.Rows)
	if err != nil {
		return err
	}
	report, err := eval.Evaluate(probs, y, cfg.Evaluation)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
