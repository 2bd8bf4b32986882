package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionStatus tracks affiliate payout.
type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

// ParseCommissionStatus returns false for unknown values.
func ParseCommissionStatus(s string) (CommissionStatus, bool) {
	switch st := CommissionStatus(s); st {
	case CommissionPending, CommissionPaid:
		return st, true
	}
	return "", false
}

// Commission is an affiliate ledger row created when a payment that used an
// affiliate coupon completes. Rate and amount are copied from the payment.
type Commission struct {
	ID          uuid.UUID        `json:"id"`
	AffiliateID uuid.UUID        `json:"affiliate_id"`
	PaymentID   uuid.UUID        `json:"payment_id"`
	CourseID    uuid.UUID        `json:"course_id"`
	Currency    string           `json:"currency"`
	SaleAmount  decimal.Decimal  `json:"sale_amount"`
	Rate        decimal.Decimal  `json:"rate"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      CommissionStatus `json:"status"`
	PaidAt      *time.Time       `json:"paid_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewCommissionFromPayment builds the ledger row from the payment's snapshot.
// It returns nil when the payment carries no affiliate.
func NewCommissionFromPayment(p *Payment, now time.Time) *Commission {
	if p.AffiliateID == nil || p.CommissionRate == nil || p.CommissionAmount == nil {
		return nil
	}
	return &Commission{
		ID:          uuid.New(),
		AffiliateID: *p.AffiliateID,
		PaymentID:   p.ID,
		CourseID:    p.CourseID,
		Currency:    p.Currency,
		SaleAmount:  p.PriceAfterPlatformDiscount(),
		Rate:        *p.CommissionRate,
		Amount:      *p.CommissionAmount,
		Status:      CommissionPending,
		CreatedAt:   now,
	}
}
