// Package features computes the fixed, named per-customer feature vector
// from transaction history up to a cutoff. Compute is a pure function of its
// inputs: no hidden state, no dependence on data after the cutoff, identical
// feature names and order on every invocation.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

// baseFeatureNames is the fixed feature order, before the one-hot country
// block. Trained artifacts bind to this exact order; never reorder.
var baseFeatureNames = []string{
	// RFM
	"recency_days",
	"frequency",
	"monetary",
	"avg_transaction_value",
	"total_transactions",
	// Basket diversity
	"unique_products",
	"unique_descriptions",
	"avg_basket_size",
	"avg_basket_value",
	// Momentum
	"spend_30d",
	"spend_90d",
	"spend_ratio_30d_90d",
	"spend_ratio_90d_180d",
	"freq_30d",
	"freq_90d",
	// Returns
	"total_returns",
	"return_rate",
	"return_amount",
	"net_amount",
	// Temporal
	"avg_day_of_week",
	"std_day_of_week",
	"avg_month",
	"std_month",
	"weekend_ratio",
	"customer_lifetime_days",
}

// Engine computes customer feature vectors. It carries no state; the
// zero value is ready to use.
type Engine struct{}

// NewEngine creates a feature engine.
func NewEngine() *Engine {
	return &Engine{}
}

// FeatureNames returns the complete ordered feature name list for a given
// vocabulary: the fixed base block followed by the one-hot country block.
func (e *Engine) FeatureNames(vocab *Vocabulary) []string {
	names := make([]string, 0, len(baseFeatureNames)+len(vocab.Countries)+1)
	names = append(names, baseFeatureNames...)
	return append(names, vocab.FeatureNames()...)
}

// Compute builds the feature table for every customer with at least one
// transaction at or before the cutoff. Customers without pre-cutoff history
// are skipped (they surface individually via ComputeCustomer as
// InsufficientHistoryError). Rows are ordered by customer ID.
func (e *Engine) Compute(txns []domain.Transaction, cutoff time.Time, vocab *Vocabulary) (*domain.FeatureTable, error) {
	if err := validateSchema(txns); err != nil {
		return nil, err
	}

	groups := domain.GroupByCustomer(txns)
	customerIDs := make([]string, 0, len(groups))
	for id := range groups {
		customerIDs = append(customerIDs, id)
	}
	sort.Strings(customerIDs)

	table := &domain.FeatureTable{
		Names:       e.FeatureNames(vocab),
		CustomerIDs: make([]string, 0, len(customerIDs)),
		Rows:        make([][]float64, 0, len(customerIDs)),
	}

	var skipped int
	for _, id := range customerIDs {
		row, err := e.computeRow(groups[id], cutoff, vocab)
		if err != nil {
			skipped++
			continue
		}
		table.CustomerIDs = append(table.CustomerIDs, id)
		table.Rows = append(table.Rows, row)
	}

	log.Info().
		Time("cutoff", cutoff).
		Int("customers", table.Len()).
		Int("features", len(table.Names)).
		Int("skipped_no_history", skipped).
		Msg("Computed feature table")

	return table, nil
}

// ComputeCustomer builds the feature vector for a single customer's
// transactions. Returns InsufficientHistoryError when the customer has no
// transactions at or before the cutoff.
func (e *Engine) ComputeCustomer(customerID string, txns []domain.Transaction, cutoff time.Time, vocab *Vocabulary) (domain.FeatureVector, error) {
	if err := validateSchema(txns); err != nil {
		return nil, err
	}

	own := make([]domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.CustomerID == customerID {
			own = append(own, t)
		}
	}

	row, err := e.computeRow(own, cutoff, vocab)
	if err != nil {
		return nil, err
	}

	names := e.FeatureNames(vocab)
	vec := make(domain.FeatureVector, len(names))
	for i, name := range names {
		vec[name] = row[i]
	}
	return vec, nil
}

// computeRow computes the dense feature row for one customer. Only rows with
// timestamp <= cutoff ever contribute; perturbing anything after the cutoff
// must not change the output.
func (e *Engine) computeRow(txns []domain.Transaction, cutoff time.Time, vocab *Vocabulary) ([]float64, error) {
	window := make([]domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if !t.Timestamp.After(cutoff) {
			window = append(window, t)
		}
	}
	if len(window) == 0 {
		id := ""
		if len(txns) > 0 {
			id = txns[0].CustomerID
		}
		return nil, &domain.InsufficientHistoryError{CustomerID: id, Cutoff: cutoff}
	}

	row := make([]float64, 0, len(baseFeatureNames)+len(vocab.Countries)+1)
	row = append(row, rfmBlock(window, cutoff)...)
	row = append(row, basketBlock(window)...)
	row = append(row, momentumBlock(window, cutoff)...)
	row = append(row, returnsBlock(window)...)
	row = append(row, temporalBlock(window)...)
	row = append(row, vocab.Encode(primaryCountry(window))...)
	return row, nil
}

func rfmBlock(window []domain.Transaction, cutoff time.Time) []float64 {
	last := window[0].Timestamp
	invoices := make(map[string]struct{})
	var net float64
	for _, t := range window {
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
		invoices[t.InvoiceID] = struct{}{}
		net += t.Amount()
	}

	recency := cutoff.Sub(last).Hours() / 24
	total := float64(len(window))

	return []float64{
		recency,
		float64(len(invoices)),
		net,
		safeDiv(net, total),
		total,
	}
}

func basketBlock(window []domain.Transaction) []float64 {
	products := make(map[string]struct{})
	descriptions := make(map[string]struct{})
	basketItems := make(map[string]float64)
	basketValue := make(map[string]float64)

	for _, t := range window {
		products[t.ProductCode] = struct{}{}
		descriptions[t.Description] = struct{}{}
		basketItems[t.InvoiceID]++
		basketValue[t.InvoiceID] += t.Amount()
	}

	var sumItems, sumValue float64
	for inv := range basketItems {
		sumItems += basketItems[inv]
		sumValue += basketValue[inv]
	}
	n := float64(len(basketItems))

	return []float64{
		float64(len(products)),
		float64(len(descriptions)),
		safeDiv(sumItems, n),
		safeDiv(sumValue, n),
	}
}

func momentumBlock(window []domain.Transaction, cutoff time.Time) []float64 {
	day := 24 * time.Hour
	from30 := cutoff.Add(-30 * day)
	from90 := cutoff.Add(-90 * day)
	from180 := cutoff.Add(-180 * day)

	var spend30, spend90, spendPrev90 float64
	var count30, count90 float64
	for _, t := range window {
		ts := t.Timestamp
		if ts.After(from30) {
			spend30 += t.Amount()
			count30++
		}
		if ts.After(from90) {
			spend90 += t.Amount()
			count90++
		} else if ts.After(from180) {
			spendPrev90 += t.Amount()
		}
	}

	return []float64{
		spend30,
		spend90,
		safeDiv(spend30, spend90),
		safeDiv(spend90, spendPrev90),
		count30 / 30,
		count90 / 90,
	}
}

func returnsBlock(window []domain.Transaction) []float64 {
	var returns, returnAmount, gross float64
	for _, t := range window {
		if t.IsReturn() {
			returns++
			returnAmount += -t.Amount()
		} else {
			gross += t.Amount()
		}
	}

	return []float64{
		returns,
		safeDiv(returns, float64(len(window))),
		returnAmount,
		gross - returnAmount,
	}
}

func temporalBlock(window []domain.Transaction) []float64 {
	first, last := window[0].Timestamp, window[0].Timestamp
	days := make([]float64, 0, len(window))
	months := make([]float64, 0, len(window))
	var weekend float64

	for _, t := range window {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
		wd := t.Timestamp.Weekday()
		days = append(days, float64(wd))
		months = append(months, float64(t.Timestamp.Month()))
		if wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
	}

	avgDay, stdDay := meanStd(days)
	avgMonth, stdMonth := meanStd(months)

	return []float64{
		avgDay,
		stdDay,
		avgMonth,
		stdMonth,
		weekend / float64(len(window)),
		last.Sub(first).Hours() / 24,
	}
}

// primaryCountry is the mode of the customer's pre-cutoff countries, with a
// lexicographic tie-break so the encoding is deterministic.
func primaryCountry(window []domain.Transaction) string {
	counts := make(map[string]int)
	for _, t := range window {
		counts[t.Country]++
	}

	best, bestCount := "", -1
	for c, n := range counts {
		if n > bestCount || (n == bestCount && c < best) {
			best, bestCount = c, n
		}
	}
	return best
}

// validateSchema rejects batches whose rows are missing required fields.
// The storage layer maps absent columns to zero values, so a zero timestamp
// or empty invoice ID means the source table lacks the column.
func validateSchema(txns []domain.Transaction) error {
	var missing []string
	for _, t := range txns {
		if t.Timestamp.IsZero() {
			missing = append(missing, "timestamp")
		}
		if t.InvoiceID == "" {
			missing = append(missing, "invoice_id")
		}
		if len(missing) > 0 {
			return &domain.SchemaError{Missing: missing}
		}
	}
	return nil
}

// safeDiv is the pipeline-wide zero-denominator policy: ratios with a zero
// denominator are 0.0, never NaN and never an error. The same rule applies
// at training and inference.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// meanStd returns the mean and population standard deviation. A single
// sample has standard deviation 0.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) == 1 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
