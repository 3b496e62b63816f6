package domain

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Transaction is a single raw transaction log row. Rows are immutable and
// sourced externally; negative quantities denote returns.
type Transaction struct {
	InvoiceID   string    `json:"invoice_id" db:"invoice_id"`
	ProductCode string    `json:"product_code" db:"product_code"`
	Description string    `json:"description" db:"description"`
	Quantity    int       `json:"quantity" db:"quantity"`
	UnitPrice   float64   `json:"unit_price" db:"unit_price"`
	Timestamp   time.Time `json:"timestamp" db:"ts"`
	CustomerID  string    `json:"customer_id" db:"customer_id"`
	Country     string    `json:"country" db:"country"`
}

// IsReturn reports whether the row is a return (negative quantity).
func (t Transaction) IsReturn() bool {
	return t.Quantity < 0
}

// Amount is the signed monetary value of the row: quantity times unit price.
// Returns yield negative amounts.
func (t Transaction) Amount() float64 {
	return float64(t.Quantity) * t.UnitPrice
}

// Clean filters raw transaction rows down to the set the pipeline operates
// on. Dropped: rows without a customer identifier, rows with zero quantity,
// and rows with a non-positive unit price that are not explicit returns.
func Clean(txns []Transaction) []Transaction {
	kept := make([]Transaction, 0, len(txns))
	var noCustomer, zeroQty, badPrice int

	for _, t := range txns {
		switch {
		case t.CustomerID == "":
			noCustomer++
		case t.Quantity == 0:
			zeroQty++
		case t.UnitPrice <= 0 && !t.IsReturn():
			badPrice++
		default:
			kept = append(kept, t)
		}
	}

	if dropped := len(txns) - len(kept); dropped > 0 {
		log.Info().
			Int("input_rows", len(txns)).
			Int("kept_rows", len(kept)).
			Int("no_customer", noCustomer).
			Int("zero_quantity", zeroQty).
			Int("bad_price", badPrice).
			Msg("Cleaned transaction rows")
	}

	return kept
}

// GroupByCustomer partitions transactions per customer, preserving the input
// row order within each group.
func GroupByCustomer(txns []Transaction) map[string][]Transaction {
	groups := make(map[string][]Transaction)
	for _, t := range txns {
		groups[t.CustomerID] = append(groups[t.CustomerID], t)
	}
	return groups
}
