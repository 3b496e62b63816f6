// Package labels derives binary purchase labels and the feature/label window
// split from raw transaction history.
package labels

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

// Outcome is the per-customer labeling result for one cutoff.
type Outcome struct {
	CustomerID string `json:"customer_id"`
	Label      int    `json:"label"`
}

// Builder splits transaction history at a cutoff into a feature window and a
// label window of fixed horizon. The boundary convention is closed-left:
// rows with timestamp <= cutoff belong to the feature window, rows in
// (cutoff, cutoff+horizon] to the label window.
type Builder struct {
	Horizon time.Duration
}

// NewBuilder creates a label builder for the given horizon in days.
func NewBuilder(horizonDays int) Builder {
	return Builder{Horizon: time.Duration(horizonDays) * 24 * time.Hour}
}

// MaxFeasibleCutoff returns the latest cutoff for which a full label window
// exists in the data: the maximum observed timestamp minus the horizon.
// Errors when the data span is shorter than the horizon, since no cutoff
// would leave any feature window.
func (b Builder) MaxFeasibleCutoff(txns []domain.Transaction) (time.Time, error) {
	if len(txns) == 0 {
		return time.Time{}, fmt.Errorf("no transactions to derive cutoff from")
	}

	minTS, maxTS := txns[0].Timestamp, txns[0].Timestamp
	for _, t := range txns[1:] {
		if t.Timestamp.Before(minTS) {
			minTS = t.Timestamp
		}
		if t.Timestamp.After(maxTS) {
			maxTS = t.Timestamp
		}
	}

	cutoff := maxTS.Add(-b.Horizon)
	if cutoff.Before(minTS) {
		return time.Time{}, fmt.Errorf("data span %s shorter than horizon %s, no feasible cutoff",
			maxTS.Sub(minTS), b.Horizon)
	}

	return cutoff, nil
}

// Build computes per-customer labels at the given cutoff. Customers with no
// transactions in the feature window are excluded entirely. Label is 1 iff
// the customer has at least one positive-quantity transaction inside the
// label window. Output is sorted by customer ID for determinism.
func (b Builder) Build(txns []domain.Transaction, cutoff time.Time) ([]Outcome, error) {
	if len(txns) == 0 {
		return nil, fmt.Errorf("no transactions to label")
	}

	windowEnd := cutoff.Add(b.Horizon)
	groups := domain.GroupByCustomer(txns)

	outcomes := make([]Outcome, 0, len(groups))
	var excluded int

	for customerID, rows := range groups {
		eligible := false
		label := 0
		for _, t := range rows {
			if !t.Timestamp.After(cutoff) {
				eligible = true
				continue
			}
			// Strictly after cutoff: label window candidate.
			if !t.Timestamp.After(windowEnd) && t.Quantity > 0 {
				label = 1
			}
		}
		if !eligible {
			excluded++
			continue
		}
		outcomes = append(outcomes, Outcome{CustomerID: customerID, Label: label})
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].CustomerID < outcomes[j].CustomerID
	})

	positives := 0
	for _, o := range outcomes {
		positives += o.Label
	}

	log.Info().
		Time("cutoff", cutoff).
		Dur("horizon", b.Horizon).
		Int("customers", len(outcomes)).
		Int("positives", positives).
		Int("excluded_no_history", excluded).
		Msg("Built purchase labels")

	return outcomes, nil
}
