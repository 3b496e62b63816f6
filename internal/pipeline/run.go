// Package pipeline orchestrates the batch training run: clean, label,
// featurize, train base learners and both ensembles, evaluate on a held-out
// customer split, and bundle artifacts.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/retailml/propensity/internal/cache"
	"github.com/retailml/propensity/internal/config"
	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/ensemble"
	"github.com/retailml/propensity/internal/eval"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/labels"
	"github.com/retailml/propensity/internal/model"
	"github.com/retailml/propensity/internal/telemetry"
)

// Runner wires the pipeline stages together. Cache and Metrics are
// optional; a nil cache recomputes features, nil metrics skip telemetry.
type Runner struct {
	Config  *config.Config
	Cache   *cache.FeatureCache
	Metrics *telemetry.Collector
	// Progress enables the interactive training progress bar.
	Progress bool

	engine *features.Engine
}

// Result is the output of one training run.
type Result struct {
	Cutoff    time.Time
	Table     *domain.FeatureTable
	Labels    []int
	Artifacts map[string]*model.TrainedArtifact
	Reports   map[string]*eval.Report
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{Config: cfg, engine: features.NewEngine()}
}

// Run executes the full training pipeline over raw transactions.
// Cancellation is coarse: the context is checked between stages, never
// mid-stage.
func (r *Runner) Run(ctx context.Context, raw []domain.Transaction) (*Result, error) {
	txns := domain.Clean(raw)
	if r.Metrics != nil {
		r.Metrics.TransactionsLoaded.Add(float64(len(txns)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builder := labels.NewBuilder(r.Config.HorizonDays)
	cutoff, err := builder.MaxFeasibleCutoff(txns)
	if err != nil {
		return nil, fmt.Errorf("cutoff selection failed: %w", err)
	}
	outcomes, err := builder.Build(txns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("label construction failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vocab := features.BuildVocabulary(txns, cutoff)
	table, err := r.featureTable(ctx, txns, cutoff, vocab)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	y, err := alignLabels(table, outcomes)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx := customerSplit(table.Len(), r.Config.Training.TestFraction, r.Config.Training.Seed)
	trainTable, testTable := table.Subset(trainIdx), table.Subset(testIdx)
	trainY, testY := gatherInts(y, trainIdx), gatherInts(y, testIdx)

	log.Info().
		Time("cutoff", cutoff).
		Int("train_customers", trainTable.Len()).
		Int("test_customers", testTable.Len()).
		Msg("Split customers for training")

	candidates := r.candidates()
	opts := model.FitOptions{Balance: r.Config.BalanceStrategy(), Seed: r.Config.Training.Seed}

	result := &Result{
		Cutoff:    cutoff,
		Table:     table,
		Labels:    y,
		Artifacts: make(map[string]*model.TrainedArtifact, len(candidates)),
		Reports:   make(map[string]*eval.Report, len(candidates)),
	}

	bar := r.progressBar(len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := time.Now()
		if err := c.Fit(trainTable.Rows, trainY, opts); err != nil {
			// A diverged standalone learner is skipped; the run proceeds
			// with the rest, mirroring the ensembles' own drop policy.
			log.Warn().Str("model", c.Name()).Err(err).Msg("Skipping failed learner")
			finishStep(bar)
			continue
		}

		scoringStarted := time.Now()
		probs, err := c.PredictProba(testTable.Rows)
		if err != nil {
			return nil, fmt.Errorf("%s held-out prediction failed: %w", c.Name(), err)
		}
		if r.Metrics != nil {
			r.Metrics.ScoringDuration.Observe(time.Since(scoringStarted).Seconds())
			r.Metrics.CustomersScored.Add(float64(testTable.Len()))
		}
		report, err := eval.Evaluate(probs, testY, r.Config.Evaluation)
		if err != nil {
			return nil, fmt.Errorf("%s evaluation failed: %w", c.Name(), err)
		}

		artifact := model.NewArtifact(c, table.Names, vocab, report.Snapshot())
		result.Artifacts[c.Name()] = artifact
		result.Reports[c.Name()] = report

		if r.Metrics != nil {
			r.Metrics.TrainingRuns.WithLabelValues(c.Name()).Inc()
			if report.ROCAUC.Defined {
				r.Metrics.LastAUC.WithLabelValues(c.Name()).Set(report.ROCAUC.Value)
			}
		}
		log.Info().
			Str("model", c.Name()).
			Dur("elapsed", time.Since(started)).
			Bool("roc_auc_defined", report.ROCAUC.Defined).
			Float64("roc_auc", report.ROCAUC.Value).
			Msg("Trained and evaluated model")
		finishStep(bar)
	}

	if len(result.Artifacts) == 0 {
		return nil, fmt.Errorf("no model survived training")
	}
	return result, nil
}

// candidates returns the learners trained by a run: the three base learners
// plus a stacking and a blending ensemble over fresh base prototypes.
func (r *Runner) candidates() []model.Classifier {
	stacking := ensemble.NewStacking(ensemble.DefaultBases())
	stacking.Folds = r.Config.Training.Folds

	blending := ensemble.NewBlending(ensemble.DefaultBases())
	blending.HoldoutFraction = r.Config.Training.HoldoutFraction

	out := ensemble.DefaultBases()
	return append(out, stacking, blending)
}

// featureTable computes the feature table, going through the cache when one
// is configured.
func (r *Runner) featureTable(ctx context.Context, txns []domain.Transaction, cutoff time.Time, vocab *features.Vocabulary) (*domain.FeatureTable, error) {
	if r.Cache != nil {
		if table, ok, err := r.Cache.Get(ctx, cutoff, vocab.Hash()); err != nil {
			log.Warn().Err(err).Msg("Feature cache unavailable, recomputing")
		} else if ok {
			return table, nil
		}
	}

	table, err := r.engine.Compute(txns, cutoff, vocab)
	if err != nil {
		return nil, fmt.Errorf("feature computation failed: %w", err)
	}

	if r.Cache != nil {
		if err := r.Cache.Put(ctx, cutoff, vocab.Hash(), table); err != nil {
			log.Warn().Err(err).Msg("Feature cache store failed")
		}
	}
	return table, nil
}

func (r *Runner) progressBar(steps int) *progressbar.ProgressBar {
	if !r.Progress {
		return nil
	}
	return progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("training models"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func finishStep(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}

// alignLabels orders the label vector to match the feature table rows.
// Every featurized customer must have an outcome; the reverse is not
// required since label-window-only customers are excluded upstream.
func alignLabels(table *domain.FeatureTable, outcomes []labels.Outcome) ([]int, error) {
	byCustomer := make(map[string]int, len(outcomes))
	for _, o := range outcomes {
		byCustomer[o.CustomerID] = o.Label
	}

	y := make([]int, table.Len())
	for i, id := range table.CustomerIDs {
		label, ok := byCustomer[id]
		if !ok {
			return nil, fmt.Errorf("customer %s featurized but never labeled", id)
		}
		y[i] = label
	}
	return y, nil
}

// customerSplit deals customers into train and test sets with a seeded
// shuffle, so the split is reproducible per run.
func customerSplit(n int, testFraction float64, seed int64) (train, test []int) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	cut := int(testFraction * float64(n))
	if cut < 1 {
		cut = 1
	}
	return idx[cut:], idx[:cut]
}

func gatherInts(xs []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = xs[i]
	}
	return out
}
