package ensemble

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/model"
)

func init() {
	model.Register("stacking", func() model.Classifier { return NewStacking(DefaultBases()) })
}

// Stacking fits base learners with k-fold cross-validation and a linear
// meta-learner on their out-of-fold predictions. The meta-learner never sees
// a base prediction produced by a model trained on that row's own fold. For
// inference, the surviving base learners are refit on the full training set.
type Stacking struct {
	Folds int   `json:"folds"`
	Seed  int64 `json:"seed"`

	prototypes []model.Classifier
	bases      []model.Classifier
	meta       model.Classifier
	baseNames  []string
	foldAssign []int
}

// NewStacking creates a stacking combiner over the given base learner
// prototypes with default fold count.
func NewStacking(bases []model.Classifier) *Stacking {
	return &Stacking{
		Folds:      5,
		Seed:       1,
		prototypes: bases,
	}
}

// Name implements model.Classifier.
func (s *Stacking) Name() string { return "stacking" }

// Clone implements model.Classifier.
func (s *Stacking) Clone() model.Classifier {
	protos := make([]model.Classifier, len(s.prototypes))
	for i, p := range s.prototypes {
		protos[i] = p.Clone()
	}
	return &Stacking{Folds: s.Folds, Seed: s.Seed, prototypes: protos}
}

// BaseNames returns the names of the surviving base learners, in
// meta-feature column order.
func (s *Stacking) BaseNames() []string { return s.baseNames }

// FoldAssignments returns the fold index each training row was assigned to.
func (s *Stacking) FoldAssignments() []int { return s.foldAssign }

// Fit implements model.Classifier.
func (s *Stacking) Fit(X [][]float64, y []int, opts model.FitOptions) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("stacking: empty training set")
	}
	if s.Folds < 2 {
		return fmt.Errorf("stacking: need at least 2 folds, got %d", s.Folds)
	}

	s.foldAssign = foldAssignments(n, s.Folds, s.Seed^opts.Seed)

	// Out-of-fold meta-features, one column per surviving base learner.
	var metaCols [][]float64
	var survivors []model.Classifier
	var survivorNames []string

	for _, proto := range s.prototypes {
		col := make([]float64, n)
		diverged := false

		for f := 0; f < s.Folds && !diverged; f++ {
			trainIdx, valIdx := splitByFold(s.foldAssign, f)
			c := proto.Clone()
			if err := c.Fit(gather(X, trainIdx), gatherLabels(y, trainIdx), opts); err != nil {
				dropped, fatal := dropOrFail(err, proto.Name(), s.Name())
				if fatal != nil {
					return fatal
				}
				diverged = dropped
				continue
			}
			preds, err := c.PredictProba(gather(X, valIdx))
			if err != nil {
				return fmt.Errorf("stacking: out-of-fold prediction for %s failed: %w", proto.Name(), err)
			}
			for k, i := range valIdx {
				col[i] = preds[k]
			}
		}
		if diverged {
			continue
		}

		metaCols = append(metaCols, col)
		survivors = append(survivors, proto)
		survivorNames = append(survivorNames, proto.Name())
	}

	if err := checkSurvivors(survivorNames, s.Name()); err != nil {
		return err
	}

	metaX := make([][]float64, n)
	for i := range metaX {
		row := make([]float64, len(metaCols))
		for b, col := range metaCols {
			row[b] = col[i]
		}
		metaX[i] = row
	}

	s.meta = model.NewLogistic()
	if err := s.meta.Fit(metaX, y, metaFitOptions(opts)); err != nil {
		return fmt.Errorf("stacking: meta-learner failed: %w", err)
	}

	// Full-data refits for inference.
	s.bases = make([]model.Classifier, 0, len(survivors))
	s.baseNames = survivorNames
	for _, proto := range survivors {
		c := proto.Clone()
		if err := c.Fit(X, y, opts); err != nil {
			dropped, fatal := dropOrFail(err, proto.Name(), s.Name())
			if fatal != nil {
				return fatal
			}
			_ = dropped
			return fmt.Errorf("stacking: %s survived cross-validation but diverged on the full set", proto.Name())
		}
		s.bases = append(s.bases, c)
	}

	log.Info().Int("rows", n).Int("folds", s.Folds).Strs("bases", s.baseNames).
		Msg("Fitted stacking ensemble")
	return nil
}

// PredictProba implements model.Classifier: base predictions become the
// meta-feature vector fed to the meta-learner.
func (s *Stacking) PredictProba(X [][]float64) ([]float64, error) {
	if s.meta == nil {
		return nil, fmt.Errorf("stacking: model not fitted")
	}
	metaX, err := baseMeta(s.bases, X)
	if err != nil {
		return nil, fmt.Errorf("stacking: %w", err)
	}
	return s.meta.PredictProba(metaX)
}

// FeatureImportances implements model.Classifier.
func (s *Stacking) FeatureImportances() []float64 {
	return combinedImportances(s.bases, s.meta)
}

// baseMeta scores X with every base learner and assembles the meta matrix.
func baseMeta(bases []model.Classifier, X [][]float64) ([][]float64, error) {
	metaX := make([][]float64, len(X))
	for i := range metaX {
		metaX[i] = make([]float64, len(bases))
	}
	for b, base := range bases {
		preds, err := base.PredictProba(X)
		if err != nil {
			return nil, fmt.Errorf("base %s prediction failed: %w", base.Name(), err)
		}
		for i, p := range preds {
			metaX[i][b] = p
		}
	}
	return metaX, nil
}

// persistedStacking is the serialized form.
type persistedStacking struct {
	Folds     int               `json:"folds"`
	Seed      int64             `json:"seed"`
	BaseNames []string          `json:"base_names"`
	Bases     []json.RawMessage `json:"bases"`
	Meta      json.RawMessage   `json:"meta"`
}

// MarshalJSON implements json.Marshaler.
func (s *Stacking) MarshalJSON() ([]byte, error) {
	bases, err := marshalBases(s.bases)
	if err != nil {
		return nil, err
	}
	meta, err := model.MarshalClassifier(s.meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(persistedStacking{
		Folds:     s.Folds,
		Seed:      s.Seed,
		BaseNames: s.baseNames,
		Bases:     bases,
		Meta:      meta,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stacking) UnmarshalJSON(data []byte) error {
	var env persistedStacking
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	bases, err := unmarshalBases(env.Bases)
	if err != nil {
		return err
	}
	meta, err := model.UnmarshalClassifier(env.Meta)
	if err != nil {
		return err
	}
	s.Folds = env.Folds
	s.Seed = env.Seed
	s.baseNames = env.BaseNames
	s.bases = bases
	s.meta = meta
	return nil
}
