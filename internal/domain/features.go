package domain

import "fmt"

// FeatureVector maps fixed feature names to numeric values for one customer.
type FeatureVector map[string]float64

// FeatureTable is a dense per-customer feature matrix with a fixed, ordered
// feature name list. Published tables are read-only: later pipeline stages
// never mutate a table they received.
type FeatureTable struct {
	Names       []string    `json:"names"`
	CustomerIDs []string    `json:"customer_ids"`
	Rows        [][]float64 `json:"rows"`
}

// Len returns the number of customer rows.
func (t *FeatureTable) Len() int {
	return len(t.Rows)
}

// Row returns the dense row for the i-th customer.
func (t *FeatureTable) Row(i int) []float64 {
	return t.Rows[i]
}

// Vector materializes row i as a name-keyed feature vector.
func (t *FeatureTable) Vector(i int) FeatureVector {
	v := make(FeatureVector, len(t.Names))
	for j, name := range t.Names {
		v[name] = t.Rows[i][j]
	}
	return v
}

// RowByCustomer returns the dense row for a customer ID, or an error if the
// customer is not in the table.
func (t *FeatureTable) RowByCustomer(customerID string) ([]float64, error) {
	for i, id := range t.CustomerIDs {
		if id == customerID {
			return t.Rows[i], nil
		}
	}
	return nil, fmt.Errorf("customer %s not present in feature table", customerID)
}

// Subset returns a new table containing only the given row indices. The
// underlying rows are shared; tables are treated as immutable once built.
func (t *FeatureTable) Subset(idx []int) *FeatureTable {
	sub := &FeatureTable{
		Names:       t.Names,
		CustomerIDs: make([]string, 0, len(idx)),
		Rows:        make([][]float64, 0, len(idx)),
	}
	for _, i := range idx {
		sub.CustomerIDs = append(sub.CustomerIDs, t.CustomerIDs[i])
		sub.Rows = append(sub.Rows, t.Rows[i])
	}
	return sub
}
