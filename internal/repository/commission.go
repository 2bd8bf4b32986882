package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
)

const commissionColumns = `id, affiliate_id, payment_id, course_id, currency,
	sale_amount, rate, amount, status, paid_at, created_at`

type commissionRepo struct{}

// NewCommissionRepository returns a pgx-backed CommissionRepository.
func NewCommissionRepository() CommissionRepository {
	return &commissionRepo{}
}

func (r *commissionRepo) Create(ctx context.Context, db DBTX, c *domain.Commission) error {
	_, err := db.Exec(ctx, `
		INSERT INTO commissions (id, affiliate_id, payment_id, course_id, currency,
			sale_amount, rate, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.AffiliateID, c.PaymentID, c.CourseID, c.Currency,
		infra.DecimalToNumeric(c.SaleAmount), infra.DecimalToNumeric(c.Rate),
		infra.DecimalToNumeric(c.Amount), string(c.Status), c.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return fmt.Errorf("commission for payment %s: %w", c.PaymentID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

func (r *commissionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Commission, error) {
	c, err := scanCommission(db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *commissionRepo) FindByPaymentID(ctx context.Context, db DBTX, paymentID uuid.UUID) (*domain.Commission, error) {
	c, err := scanCommission(db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE payment_id = $1`, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *commissionRepo) ListByAffiliate(ctx context.Context, db DBTX, affiliateID uuid.UUID, limit int) ([]domain.Commission, error) {
	rows, err := db.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE affiliate_id = $1 ORDER BY created_at DESC LIMIT $2`, affiliateID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query commissions: %w", err)
	}
	return collectCommissions(rows)
}

func (r *commissionRepo) ListByStatus(ctx context.Context, db DBTX, status domain.CommissionStatus, limit int) ([]domain.Commission, error) {
	rows, err := db.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, string(status), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query commissions: %w", err)
	}
	return collectCommissions(rows)
}

func (r *commissionRepo) MarkPaid(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE commissions SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark commission paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectCommissions(rows pgx.Rows) ([]domain.Commission, error) {
	defer rows.Close()
	var out []domain.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// scanCommission wraps pgx.ErrNoRows so callers can still detect a missing row.
func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var c domain.Commission
	var status string
	var sale, rate, amount pgtype.Numeric
	if err := row.Scan(
		&c.ID, &c.AffiliateID, &c.PaymentID, &c.CourseID, &c.Currency,
		&sale, &rate, &amount, &status, &c.PaidAt, &c.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan commission: %w", err)
	}
	c.Status = domain.CommissionStatus(status)

	var err error
	if c.SaleAmount, err = infra.NumericToDecimal(sale); err != nil {
		return nil, fmt.Errorf("convert sale amount: %w", err)
	}
	if c.Rate, err = infra.NumericToDecimal(rate); err != nil {
		return nil, fmt.Errorf("convert rate: %w", err)
	}
	if c.Amount, err = infra.NumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	return &c, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
