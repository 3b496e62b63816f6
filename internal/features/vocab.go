package features

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/retailml/propensity/internal/domain"
)

// UnknownCountry is the reserved bucket for categories not present in the
// frozen vocabulary. Unseen countries at inference map here, never error.
const UnknownCountry = "unknown"

// Vocabulary is the frozen category vocabulary for the country feature,
// fixed at training time and bound into the trained artifact. It never grows
// at inference.
type Vocabulary struct {
	Countries []string `json:"countries"`
}

// BuildVocabulary freezes the country vocabulary from the feature window of
// the training data: all distinct countries observed at or before the
// cutoff, sorted for a deterministic encoding order.
func BuildVocabulary(txns []domain.Transaction, cutoff time.Time) *Vocabulary {
	seen := make(map[string]struct{})
	for _, t := range txns {
		if t.Timestamp.After(cutoff) || t.Country == "" {
			continue
		}
		seen[t.Country] = struct{}{}
	}

	countries := make([]string, 0, len(seen))
	for c := range seen {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	return &Vocabulary{Countries: countries}
}

// FeatureNames returns the one-hot feature names in encoding order, with the
// reserved unknown bucket last.
func (v *Vocabulary) FeatureNames() []string {
	names := make([]string, 0, len(v.Countries)+1)
	for _, c := range v.Countries {
		names = append(names, "country_"+sanitizeCategory(c))
	}
	return append(names, "country_"+UnknownCountry)
}

// Encode one-hot encodes a country against the frozen vocabulary. Unseen
// values light the unknown bucket.
func (v *Vocabulary) Encode(country string) []float64 {
	enc := make([]float64, len(v.Countries)+1)
	for i, c := range v.Countries {
		if c == country {
			enc[i] = 1
			return enc
		}
	}
	enc[len(enc)-1] = 1
	return enc
}

// Hash returns a stable digest of the vocabulary, used for cache keys and
// artifact provenance.
func (v *Vocabulary) Hash() string {
	sum := sha256.Sum256([]byte(strings.Join(v.Countries, "\x00")))
	return hex.EncodeToString(sum[:8])
}

func sanitizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.ReplaceAll(c, " ", "_")
	return c
}
