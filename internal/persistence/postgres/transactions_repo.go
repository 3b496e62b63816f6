// Package postgres stores and fetches raw transaction rows.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/retailml/propensity/internal/domain"
)

// TransactionsRepo is the transaction store interface the pipeline consumes.
type TransactionsRepo interface {
	FetchRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error)
	InsertBatch(ctx context.Context, txns []domain.Transaction) error
}

// transactionsRepo implements TransactionsRepo for PostgreSQL. Reads go
// through a circuit breaker so a flapping database fails fast instead of
// stalling a batch run.
type transactionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewTransactionsRepo creates a PostgreSQL transactions repository.
func NewTransactionsRepo(db *sqlx.DB, timeout time.Duration) TransactionsRepo {
	settings := gobreaker.Settings{
		Name:    "postgres-transactions",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Transaction store breaker state change")
		},
	}
	return &transactionsRepo{
		db:      db,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// FetchRange loads transaction rows with timestamps in [from, to]. Rows
// without a customer ID never leave the database.
func (r *transactionsRepo) FetchRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetchRange(ctx, from, to)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Transaction), nil
}

func (r *transactionsRepo) fetchRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT invoice_id, product_code, description, quantity, unit_price, ts, customer_id, country
		FROM transactions
		WHERE ts >= $1 AND ts <= $2 AND customer_id IS NOT NULL AND customer_id <> ''
		ORDER BY ts, invoice_id`

	var txns []domain.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	log.Debug().Int("rows", len(txns)).
		Time("from", from).Time("to", to).
		Msg("Fetched transaction range")
	return txns, nil
}

// InsertBatch writes transaction rows atomically.
func (r *transactionsRepo) InsertBatch(ctx context.Context, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(txns)/1000+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (invoice_id, product_code, description, quantity, unit_price, ts, customer_id, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		if _, err := stmt.ExecContext(ctx,
			t.InvoiceID, t.ProductCode, t.Description, t.Quantity,
			t.UnitPrice, t.Timestamp, t.CustomerID, t.Country); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate transaction row %s: %w", t.InvoiceID, err)
			}
			return fmt.Errorf("failed to insert transaction row %s: %w", t.InvoiceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction batch: %w", err)
	}

	log.Debug().Int("rows", len(txns)).Msg("Inserted transaction batch")
	return nil
}
