package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/learnly/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate row")

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CourseRepository provides access to courses.
type CourseRepository interface {
	// FindByID returns a course, or nil if it does not exist.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Course, error)
}

// CouponRepository provides access to coupons.
type CouponRepository interface {
	// FindByCodes returns the coupons matching the given upper-case codes.
	// Unknown codes are simply absent from the result.
	FindByCodes(ctx context.Context, db DBTX, codes []string) ([]domain.Coupon, error)

	// IncrementUsage bumps used_count once for each id. Coupons that reached
	// max_uses are still incremented; the limit is enforced at checkout.
	IncrementUsage(ctx context.Context, db DBTX, ids []uuid.UUID) error
}

// PaymentRepository provides access to the payments and payment_events tables.
type PaymentRepository interface {
	Create(ctx context.Context, db DBTX, payment *domain.Payment) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error)
	FindByGatewayOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the payment.
	LockForUpdate(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error)

	SetGatewayOrder(ctx context.Context, db DBTX, id uuid.UUID, orderID string) error

	// MarkCompleted moves a pending payment to completed. It reports false if
	// the payment was not pending.
	MarkCompleted(ctx context.Context, db DBTX, id uuid.UUID, gatewayPaymentID, signature string, at time.Time) (bool, error)

	LinkEnrollment(ctx context.Context, db DBTX, id, enrollmentID uuid.UUID) error

	// MarkFailed moves a pending payment to failed. It reports false if the
	// payment was not pending.
	MarkFailed(ctx context.Context, db DBTX, id uuid.UUID, reason string) (bool, error)

	// ExpirePending fails every pending payment created before cutoff and
	// returns the affected ids.
	ExpirePending(ctx context.Context, db DBTX, cutoff time.Time, reason string) ([]uuid.UUID, error)

	InsertEvent(ctx context.Context, db DBTX, event *domain.PaymentEvent) error
}

// EnrollmentRepository provides access to enrollments.
type EnrollmentRepository interface {
	// Create inserts an enrollment. Returns ErrDuplicate if the payment already has one.
	Create(ctx context.Context, db DBTX, e *domain.Enrollment) error
	FindByPaymentID(ctx context.Context, db DBTX, paymentID uuid.UUID) (*domain.Enrollment, error)
}

// CommissionRepository provides access to the commission ledger.
type CommissionRepository interface {
	// Create inserts a commission. Returns ErrDuplicate if the payment already has one.
	Create(ctx context.Context, db DBTX, c *domain.Commission) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Commission, error)
	FindByPaymentID(ctx context.Context, db DBTX, paymentID uuid.UUID) (*domain.Commission, error)
	ListByAffiliate(ctx context.Context, db DBTX, affiliateID uuid.UUID, limit int) ([]domain.Commission, error)
	ListByStatus(ctx context.Context, db DBTX, status domain.CommissionStatus, limit int) ([]domain.Commission, error)

	// MarkPaid moves a pending commission to paid. It reports false if the
	// commission was not pending.
	MarkPaid(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) (bool, error)
}

// InvoiceCounterRepository issues per (fiscal year, channel) sequence values.
type InvoiceCounterRepository interface {
	Next(ctx context.Context, db DBTX, fiscalYear string, channel domain.Channel) (int64, error)
	Last(ctx context.Context, db DBTX, fiscalYear string, channel domain.Channel) (int64, error)
}

// BillingRepository provides access to billing_profiles.
type BillingRepository interface {
	Upsert(ctx context.Context, db DBTX, profile *domain.BillingProfile) error
}

// Repositories bundles every repository the checkout services need.
type Repositories struct {
	Courses         CourseRepository
	Coupons         CouponRepository
	Payments        PaymentRepository
	Enrollments     EnrollmentRepository
	Commissions     CommissionRepository
	InvoiceCounters InvoiceCounterRepository
	Billing         BillingRepository
}

// NewRepositories returns the pgx-backed implementations.
func NewRepositories() Repositories {
	return Repositories{
		Courses:         NewCourseRepository(),
		Coupons:         NewCouponRepository(),
		Payments:        NewPaymentRepository(),
		Enrollments:     NewEnrollmentRepository(),
		Commissions:     NewCommissionRepository(),
		InvoiceCounters: NewInvoiceCounterRepository(),
		Billing:         NewBillingRepository(),
	}
}
