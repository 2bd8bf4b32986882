package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	id, student_id, course_id, invoice_number, channel, currency,
	original_amount, platform_discount, affiliate_discount, subtotal,
	tax_rate, tax_amount, final_amount, coupons,
	affiliate_id, commission_rate, commission_amount,
	gateway_order_id, gateway_payment_id, gateway_signature,
	status, failure_reason, enrollment_id, completed_at, created_at, updated_at`

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) Create(ctx context.Context, db DBTX, p *domain.Payment) error {
	lines := p.Coupons
	if lines == nil {
		lines = []domain.AppliedCoupon{}
	}
	couponsJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal coupon breakdown: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO payments (id, student_id, course_id, invoice_number, channel, currency,
			original_amount, platform_discount, affiliate_discount, subtotal,
			tax_rate, tax_amount, final_amount, coupons,
			affiliate_id, commission_rate, commission_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.StudentID, p.CourseID, p.InvoiceNumber, string(p.Channel), p.Currency,
		infra.DecimalToNumeric(p.OriginalAmount), infra.DecimalToNumeric(p.PlatformDiscount),
		infra.DecimalToNumeric(p.AffiliateDiscount), infra.DecimalToNumeric(p.Subtotal),
		infra.DecimalToNumeric(p.TaxRate), infra.DecimalToNumeric(p.TaxAmount),
		infra.DecimalToNumeric(p.FinalAmount), couponsJSON,
		p.AffiliateID, infra.NullableDecimalToNumeric(p.CommissionRate),
		infra.NullableDecimalToNumeric(p.CommissionAmount), string(p.Status),
	)
	if IsUniqueViolation(err) {
		return fmt.Errorf("insert payment %s: %w", p.InvoiceNumber, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error) {
	return scanPayment(db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error) {
	return scanPayment(db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, orderID))
}

func (r *paymentRepo) LockForUpdate(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error) {
	return scanPayment(db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *paymentRepo) SetGatewayOrder(ctx context.Context, db DBTX, id uuid.UUID, orderID string) error {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET gateway_order_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND gateway_order_id IS NULL`, id, orderID)
	if IsUniqueViolation(err) {
		return fmt.Errorf("gateway order %s: %w", orderID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("set gateway order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("set gateway order: payment %s is not awaiting an order", id)
	}
	return nil
}

func (r *paymentRepo) MarkCompleted(ctx context.Context, db DBTX, id uuid.UUID, gatewayPaymentID, signature string, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET status = 'completed', gateway_payment_id = $2, gateway_signature = $3,
			completed_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, gatewayPaymentID, signature, at)
	if IsUniqueViolation(err) {
		return false, fmt.Errorf("gateway payment %s: %w", gatewayPaymentID, ErrDuplicate)
	}
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) LinkEnrollment(ctx context.Context, db DBTX, id, enrollmentID uuid.UUID) error {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET enrollment_id = $2, updated_at = now()
		WHERE id = $1 AND enrollment_id IS NULL`, id, enrollmentID)
	if err != nil {
		return fmt.Errorf("link enrollment: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("link enrollment: payment %s already linked", id)
	}
	return nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, db DBTX, id uuid.UUID, reason string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ExpirePending(ctx context.Context, db DBTX, cutoff time.Time, reason string) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE status = 'pending' AND created_at < $1
		RETURNING id`, cutoff, reason)
	if err != nil {
		return nil, fmt.Errorf("expire pending payments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect expired payments: %w", err)
	}
	return ids, nil
}

func (r *paymentRepo) InsertEvent(ctx context.Context, db DBTX, event *domain.PaymentEvent) error {
	raw := event.RawData
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payment_events (payment_id, status, message, raw_data)
		VALUES ($1, $2, $3, $4)`,
		event.PaymentID, string(event.Status), event.Message, raw)
	return err
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var channel, status string
	var couponsJSON []byte
	var original, platform, affiliate, subtotal, taxRate, tax, final, commRate, commAmount pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.StudentID, &p.CourseID, &p.InvoiceNumber, &channel, &p.Currency,
		&original, &platform, &affiliate, &subtotal,
		&taxRate, &tax, &final, &couponsJSON,
		&p.AffiliateID, &commRate, &commAmount,
		&p.GatewayOrderID, &p.GatewayPaymentID, &p.GatewaySignature,
		&status, &p.FailureReason, &p.EnrollmentID, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Channel = domain.Channel(channel)
	p.Status = domain.PaymentStatus(status)
	if err := json.Unmarshal(couponsJSON, &p.Coupons); err != nil {
		return nil, fmt.Errorf("decode coupon breakdown: %w", err)
	}

	for _, f := range []struct {
		name string
		src  pgtype.Numeric
		dst  *decimal.Decimal
	}{
		{"original_amount", original, &p.OriginalAmount},
		{"platform_discount", platform, &p.PlatformDiscount},
		{"affiliate_discount", affiliate, &p.AffiliateDiscount},
		{"subtotal", subtotal, &p.Subtotal},
		{"tax_rate", taxRate, &p.TaxRate},
		{"tax_amount", tax, &p.TaxAmount},
		{"final_amount", final, &p.FinalAmount},
	} {
		v, err := infra.NumericToDecimal(f.src)
		if err != nil {
			return nil, fmt.Errorf("convert payment %s: %w", f.name, err)
		}
		*f.dst = v
	}

	if p.CommissionRate, err = infra.NullableNumericToDecimal(commRate); err != nil {
		return nil, fmt.Errorf("convert commission rate: %w", err)
	}
	if p.CommissionAmount, err = infra.NullableNumericToDecimal(commAmount); err != nil {
		return nil, fmt.Errorf("convert commission amount: %w", err)
	}
	return &p, nil
}
