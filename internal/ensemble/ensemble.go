// Package ensemble combines base learners into a single probability via
// stacking (k-fold out-of-fold meta-features) or blending (single holdout
// split). Both combiners satisfy model.Classifier, so an ensemble composes
// anywhere a base learner does.
package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/model"
)

// minSurvivors is the divergence policy: a base learner that fails with
// TrainingDivergenceError is dropped and the ensemble proceeds, unless fewer
// than this many base learners survive, in which case the whole ensemble
// aborts.
const minSurvivors = 2

// DefaultBases returns the standard base learner set: linear, bagged trees,
// boosted trees.
func DefaultBases() []model.Classifier {
	return []model.Classifier{
		model.NewLogistic(),
		model.NewForest(),
		model.NewBoosting(),
	}
}

// foldAssignments deals rows into k folds after a seeded shuffle.
func foldAssignments(n, k int, seed int64) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	assign := make([]int, n)
	for pos, i := range idx {
		assign[i] = pos % k
	}
	return assign
}

// splitByFold partitions row indices into train (fold != f) and validation
// (fold == f).
func splitByFold(assign []int, f int) (train, val []int) {
	for i, a := range assign {
		if a == f {
			val = append(val, i)
		} else {
			train = append(train, i)
		}
	}
	return train, val
}

func gather(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = X[i]
	}
	return out
}

func gatherLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}

// metaFitOptions adapts fit options for the meta-learner: synthetic
// oversampling of meta-features would interpolate between model outputs, so
// it degrades to class weighting.
func metaFitOptions(opts model.FitOptions) model.FitOptions {
	if opts.Balance == model.BalanceOversample {
		opts.Balance = model.BalanceClassWeights
	}
	return opts
}

// dropOrFail applies the divergence policy to one base learner failure.
// Divergence is survivable; any other error aborts.
func dropOrFail(err error, baseName, combiner string) (dropped bool, fatal error) {
	var div *domain.TrainingDivergenceError
	if errors.As(err, &div) {
		log.Warn().Str("combiner", combiner).Str("base", baseName).Err(err).
			Msg("Dropping diverged base learner")
		return true, nil
	}
	return false, fmt.Errorf("%s: base learner %s failed: %w", combiner, baseName, err)
}

// checkSurvivors enforces the minimum surviving base learner count.
func checkSurvivors(names []string, combiner string) error {
	if len(names) < minSurvivors {
		return &domain.TrainingDivergenceError{
			Learner: combiner,
			Reason:  fmt.Sprintf("only %d of the base learners survived, need %d", len(names), minSurvivors),
		}
	}
	return nil
}

// combinedImportances blends base learner importances weighted by the
// meta-learner's per-base importance.
func combinedImportances(bases []model.Classifier, meta model.Classifier) []float64 {
	if len(bases) == 0 {
		return nil
	}
	metaW := meta.FeatureImportances()
	out := make([]float64, len(bases[0].FeatureImportances()))
	for b, base := range bases {
		w := 0.0
		if b < len(metaW) {
			w = metaW[b]
		}
		for j, imp := range base.FeatureImportances() {
			out[j] += w * imp
		}
	}
	return out
}

// marshalBases serializes a slice of classifiers as registry envelopes.
func marshalBases(bases []model.Classifier) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(bases))
	for i, b := range bases {
		data, err := model.MarshalClassifier(b)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

func unmarshalBases(raw []json.RawMessage) ([]model.Classifier, error) {
	out := make([]model.Classifier, len(raw))
	for i, data := range raw {
		c, err := model.UnmarshalClassifier(data)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
