package ensemble

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/model"
)

func init() {
	model.Register("blending", func() model.Classifier { return NewBlending(DefaultBases()) })
}

// Blending splits the training data once into a base-training fold and a
// holdout fold: base learners fit only on the base fold, their holdout
// predictions train the meta-learner, and the base-fold models are kept for
// inference. Cheaper than stacking but higher variance, since both the base
// learners and the meta-learner see less data.
type Blending struct {
	HoldoutFraction float64 `json:"holdout_fraction"`
	Seed            int64   `json:"seed"`

	prototypes []model.Classifier
	bases      []model.Classifier
	meta       model.Classifier
	baseNames  []string
}

// NewBlending creates a blending combiner over the given base learner
// prototypes with a default 25% holdout.
func NewBlending(bases []model.Classifier) *Blending {
	return &Blending{
		HoldoutFraction: 0.25,
		Seed:            1,
		prototypes:      bases,
	}
}

// Name implements model.Classifier.
func (b *Blending) Name() string { return "blending" }

// Clone implements model.Classifier.
func (b *Blending) Clone() model.Classifier {
	protos := make([]model.Classifier, len(b.prototypes))
	for i, p := range b.prototypes {
		protos[i] = p.Clone()
	}
	return &Blending{HoldoutFraction: b.HoldoutFraction, Seed: b.Seed, prototypes: protos}
}

// BaseNames returns the names of the surviving base learners.
func (b *Blending) BaseNames() []string { return b.baseNames }

// Fit implements model.Classifier.
func (b *Blending) Fit(X [][]float64, y []int, opts model.FitOptions) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("blending: empty training set")
	}
	if b.HoldoutFraction <= 0 || b.HoldoutFraction >= 1 {
		return fmt.Errorf("blending: holdout fraction %v outside (0,1)", b.HoldoutFraction)
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(b.Seed ^ opts.Seed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	cut := int(b.HoldoutFraction * float64(n))
	if cut < 1 || cut >= n {
		return fmt.Errorf("blending: %d rows leave no usable holdout at fraction %v", n, b.HoldoutFraction)
	}
	holdIdx, baseIdx := idx[:cut], idx[cut:]

	baseX, baseY := gather(X, baseIdx), gatherLabels(y, baseIdx)
	holdX, holdY := gather(X, holdIdx), gatherLabels(y, holdIdx)

	b.bases = b.bases[:0]
	b.baseNames = b.baseNames[:0]
	for _, proto := range b.prototypes {
		c := proto.Clone()
		if err := c.Fit(baseX, baseY, opts); err != nil {
			dropped, fatal := dropOrFail(err, proto.Name(), b.Name())
			if fatal != nil {
				return fatal
			}
			if dropped {
				continue
			}
		}
		b.bases = append(b.bases, c)
		b.baseNames = append(b.baseNames, proto.Name())
	}
	if err := checkSurvivors(b.baseNames, b.Name()); err != nil {
		return err
	}

	metaX, err := baseMeta(b.bases, holdX)
	if err != nil {
		return fmt.Errorf("blending: %w", err)
	}

	b.meta = model.NewLogistic()
	if err := b.meta.Fit(metaX, holdY, metaFitOptions(opts)); err != nil {
		return fmt.Errorf("blending: meta-learner failed: %w", err)
	}

	log.Info().Int("rows", n).Int("holdout_rows", cut).Strs("bases", b.baseNames).
		Msg("Fitted blending ensemble")
	return nil
}

// PredictProba implements model.Classifier.
func (b *Blending) PredictProba(X [][]float64) ([]float64, error) {
	if b.meta == nil {
		return nil, fmt.Errorf("blending: model not fitted")
	}
	metaX, err := baseMeta(b.bases, X)
	if err != nil {
		return nil, fmt.Errorf("blending: %w", err)
	}
	return b.meta.PredictProba(metaX)
}

// FeatureImportances implements model.Classifier.
func (b *Blending) FeatureImportances() []float64 {
	return combinedImportances(b.bases, b.meta)
}

// persistedBlending is the serialized form.
type persistedBlending struct {
	HoldoutFraction float64           `json:"holdout_fraction"`
	Seed            int64             `json:"seed"`
	BaseNames       []string          `json:"base_names"`
	Bases           []json.RawMessage `json:"bases"`
	Meta            json.RawMessage   `json:"meta"`
}

// MarshalJSON implements json.Marshaler.
func (b *Blending) MarshalJSON() ([]byte, error) {
	bases, err := marshalBases(b.bases)
	if err != nil {
		return nil, err
	}
	meta, err := model.MarshalClassifier(b.meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(persistedBlending{
		HoldoutFraction: b.HoldoutFraction,
		Seed:            b.Seed,
		BaseNames:       b.baseNames,
		Bases:           bases,
		Meta:            meta,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Blending) UnmarshalJSON(data []byte) error {
	var env persistedBlending
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
	b.HoldoutFraction = env.HoldoutFraction
	b.Seed = env.Seed
	b.baseNames = env.BaseNames
	b.bases = bases
	b.meta = meta
	return nil
}
