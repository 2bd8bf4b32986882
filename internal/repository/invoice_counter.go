package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/learnly/platform/internal/domain"
)

type invoiceCounterRepo struct{}

// NewInvoiceCounterRepository returns a pgx-backed InvoiceCounterRepository.
func NewInvoiceCounterRepository() InvoiceCounterRepository {
	return &invoiceCounterRepo{}
}

// Next increments the series in a single statement. The row lock taken by the
// upsert is held until the caller's transaction ends, so concurrent checkouts
// on the same series queue behind each other and never see the same value.
func (r *invoiceCounterRepo) Next(ctx context.Context, db DBTX, fiscalYear string, channel domain.Channel) (int64, error) {
	var next int64
	err := db.QueryRow(ctx, `
		INSERT INTO invoice_counters (fiscal_year, channel, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (fiscal_year, channel)
		DO UPDATE SET last_value = invoice_counters.last_value + 1, updated_at = now()
		RETURNING last_value`, fiscalYear, string(channel)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("increment invoice counter %s/%s: %w", fiscalYear, channel, err)
	}
	return next, nil
}

// Last returns the most recently issued value, or 0 for an untouched series.
func (r *invoiceCounterRepo) Last(ctx context.Context, db DBTX, fiscalYear string, channel domain.Channel) (int64, error) {
	var last int64
	err := db.QueryRow(ctx, `
		SELECT last_value FROM invoice_counters WHERE fiscal_year = $1 AND channel = $2`,
		fiscalYear, string(channel)).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read invoice counter: %w", err)
	}
	return last, nil
}
