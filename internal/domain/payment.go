package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks the payment lifecycle. Pending moves to exactly one
// terminal state.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment represents a payments table row: one checkout attempt with its
// frozen price breakdown and commission snapshot.
type Payment struct {
	ID                uuid.UUID        `json:"id"`
	StudentID         uuid.UUID        `json:"student_id"`
	CourseID          uuid.UUID        `json:"course_id"`
	InvoiceNumber     string           `json:"invoice_number"`
	Channel           Channel          `json:"channel"`
	Currency          string           `json:"currency"`
	OriginalAmount    decimal.Decimal  `json:"original_amount"`
	PlatformDiscount  decimal.Decimal  `json:"platform_discount"`
	AffiliateDiscount decimal.Decimal  `json:"affiliate_discount"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	TaxRate           decimal.Decimal  `json:"tax_rate"`
	TaxAmount         decimal.Decimal  `json:"tax_amount"`
	FinalAmount       decimal.Decimal  `json:"final_amount"`
	Coupons           []AppliedCoupon  `json:"coupons"`
	AffiliateID       *uuid.UUID       `json:"affiliate_id,omitempty"`
	CommissionRate    *decimal.Decimal `json:"commission_rate,omitempty"`
	CommissionAmount  *decimal.Decimal `json:"commission_amount,omitempty"`
	GatewayOrderID    *string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID  *string          `json:"gateway_payment_id,omitempty"`
	GatewaySignature  *string          `json:"-"`
	Status            PaymentStatus    `json:"status"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	EnrollmentID      *uuid.UUID       `json:"enrollment_id,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PriceAfterPlatformDiscount is the commission base of the payment.
func (p *Payment) PriceAfterPlatformDiscount() decimal.Decimal {
	return p.OriginalAmount.Sub(p.PlatformDiscount)
}

// CouponIDs lists the coupons whose usage is consumed on completion.
func (p *Payment) CouponIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Coupons))
	for _, c := range p.Coupons {
		ids = append(ids, c.CouponID)
	}
	return ids
}

// PaymentEvent tracks status changes for audit trail.
type PaymentEvent struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	Status    PaymentStatus   `json:"status"`
	Message   *string         `json:"message,omitempty"`
	RawData   json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Enrollment grants a student access to a course. One per completed payment.
type Enrollment struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
	PaymentID uuid.UUID `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}
