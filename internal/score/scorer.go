// Package score is the shared inference entry point: feature vector in,
// calibrated purchase probability plus per-feature contributions out. It
// enforces the exact feature-set match the rest of the pipeline exists to
// protect.
package score

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
	"github.com/retailml/propensity/internal/features"
	"github.com/retailml/propensity/internal/model"
)

// Contribution is one feature's share of a score, ranked by magnitude.
type Contribution struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Result is the scoring output for one customer.
type Result struct {
	CustomerID       string         `json:"customer_id,omitempty"`
	Probability      float64        `json:"probability"`
	TopContributions []Contribution `json:"top_contributing_features"`
}

// Attributor turns a scored row into per-feature contributions. Any
// implementation must be deterministic: identical input, identical ranking.
type Attributor interface {
	Attribute(names []string, row []float64, c model.Classifier) []Contribution
}

// Scorer scores feature vectors against a trained artifact. Artifact
// references are passed in per call; there is no process-wide current-model
// state, so different artifact versions are safely co-resident.
type Scorer struct {
	Engine *features.Engine
	TopN   int
	// Attribution defaults to importance-based attribution, with signed
	// coefficient-times-value for the linear model.
	Attribution Attributor
}

// NewScorer creates a scorer returning the top n contributing features.
func NewScorer(topN int) *Scorer {
	return &Scorer{
		Engine: features.NewEngine(),
		TopN:   topN,
	}
}

// Score validates the vector against the artifact's bound feature list and
// returns probability plus the top contributing features.
func (s *Scorer) Score(vec domain.FeatureVector, artifact *model.TrainedArtifact) (*Result, error) {
	row, err := orderedRow(vec, artifact.FeatureNames)
	if err != nil {
		return nil, err
	}

	probs, err := artifact.PredictProba([][]float64{row})
	if err != nil {
		return nil, fmt.Errorf("artifact %s prediction failed: %w", artifact.ID, err)
	}

	contribs := s.attributor().Attribute(artifact.FeatureNames, row, artifact.Model())
	if s.TopN > 0 && len(contribs) > s.TopN {
		contribs = contribs[:s.TopN]
	}

	return &Result{
		Probability:      probs[0],
		TopContributions: contribs,
	}, nil
}

// ScoreTransactions computes the customer's feature vector with the same
// engine used at training, then scores it. Train/serve consistency comes
// from reusing the engine and the artifact's frozen vocabulary.
func (s *Scorer) ScoreTransactions(customerID string, txns []domain.Transaction, cutoff time.Time, artifact *model.TrainedArtifact) (*Result, error) {
	vec, err := s.Engine.ComputeCustomer(customerID, txns, cutoff, artifact.Vocabulary)
	if err != nil {
		return nil, err
	}
	res, err := s.Score(vec, artifact)
	if err != nil {
		return nil, err
	}
	res.CustomerID = customerID
	return res, nil
}

// ScoreBatch scores every row of a feature table. Per-customer failures are
// isolated: the batch report carries results and skipped customers side by
// side.
func (s *Scorer) ScoreBatch(table *domain.FeatureTable, artifact *model.TrainedArtifact) ([]Result, error) {
	if err := namesMatch(table.Names, artifact.FeatureNames); err != nil {
		return nil, err
	}

	probs, err := artifact.PredictProba(table.Rows)
	if err != nil {
		return nil, fmt.Errorf("artifact %s batch prediction failed: %w", artifact.ID, err)
	}

	results := make([]Result, table.Len())
	att := s.attributor()
	for i := range results {
		contribs := att.Attribute(table.Names, table.Row(i), artifact.Model())
		if s.TopN > 0 && len(contribs) > s.TopN {
			contribs = contribs[:s.TopN]
		}
		results[i] = Result{
			CustomerID:       table.CustomerIDs[i],
			Probability:      probs[i],
			TopContributions: contribs,
		}
	}

	log.Info().Str("artifact_id", artifact.ID).Int("customers", len(results)).
		Msg("Scored customer batch")
	return results, nil
}

func (s *Scorer) attributor() Attributor {
	if s.Attribution != nil {
		return s.Attribution
	}
	return defaultAttributor{}
}

// orderedRow checks the exact feature-set match and lays the vector out in
// the artifact's bound order.
func orderedRow(vec domain.FeatureVector, names []string) ([]float64, error) {
	if err := vectorMatches(vec, names); err != nil {
		return nil, err
	}
	row := make([]float64, len(names))
	for i, name := range names {
		row[i] = vec[name]
	}
	return row, nil
}

func vectorMatches(vec domain.FeatureVector, names []string) error {
	var missing, extra []string
	bound := make(map[string]struct{}, len(names))
	for _, name := range names {
		bound[name] = struct{}{}
		if _, ok := vec[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range vec {
		if _, ok := bound[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return &domain.FeatureMismatchError{Missing: missing, Extra: extra}
	}
	return nil
}

func namesMatch(got, want []string) error {
	if len(got) == len(want) {
		same := true
		for i := range got {
			if got[i] != want[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	vec := make(domain.FeatureVector, len(got))
	for _, name := range got {
		vec[name] = 0
	}
	if err := vectorMatches(vec, want); err != nil {
		return err
	}
	// Same feature set, different order: the binding is positional.
	return &domain.FeatureMismatchError{OrderMismatch: true}
}

// defaultAttributor ranks features by signed coefficient-times-standardized
// value for the linear model and by importance-times-value for everything
// else. Ties break on feature name so rankings are stable.
type defaultAttributor struct{}

func (defaultAttributor) Attribute(names []string, row []float64, c model.Classifier) []Contribution {
	scores := make([]float64, len(names))

	if lin, ok := c.(*model.Logistic); ok {
		z := lin.Standardize(row)
		for i, coef := range lin.Coefficients() {
			scores[i] = coef * z[i]
		}
	} else {
		for i, imp := range c.FeatureImportances() {
			scores[i] = imp * row[i]
		}
	}

	contribs := make([]Contribution, len(names))
	for i, name := range names {
		contribs[i] = Contribution{Feature: name, Score: scores[i]}
	}
	sort.Slice(contribs, func(a, b int) bool {
		ma, mb := math.Abs(contribs[a].Score), math.Abs(contribs[b].Score)
		if ma != mb {
			return ma > mb
		}
		return contribs[a].Feature < contribs[b].Feature
	})
	return contribs
}
