package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/guard"
	"github.com/learnly/platform/internal/invoice"
	"github.com/learnly/platform/internal/pricing"
	"github.com/learnly/platform/internal/provider"
	"github.com/learnly/platform/internal/repository"
)

// OrderGateway creates orders on the payment gateway.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req provider.OrderRequest) (*provider.Order, error)
}

// CheckoutService prices an order, persists it as PENDING and opens a
// gateway order for it.
type CheckoutService struct {
	f              *fulfiller
	engine         *pricing.Engine
	sequencer      *invoice.Sequencer
	gateway        OrderGateway
	breaker        *guard.CircuitBreaker
	limiter        *guard.RateLimiter
	gatewayTimeout time.Duration
}

// CheckoutOptions holds the checkout-specific collaborators. Limiter may be nil.
type CheckoutOptions struct {
	Engine         *pricing.Engine
	Sequencer      *invoice.Sequencer
	Gateway        OrderGateway
	Breaker        *guard.CircuitBreaker
	Limiter        *guard.RateLimiter
	GatewayTimeout time.Duration
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(deps Deps, opts CheckoutOptions) *CheckoutService {
	timeout := opts.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CheckoutService{
		f:              newFulfiller(deps),
		engine:         opts.Engine,
		sequencer:      opts.Sequencer,
		gateway:        opts.Gateway,
		breaker:        opts.Breaker,
		limiter:        opts.Limiter,
		gatewayTimeout: timeout,
	}
}

// CheckoutInput holds the checkout request fields. CouponCodes is the raw
// comma-separated list typed by the student.
type CheckoutInput struct {
	CourseID    uuid.UUID              `json:"course_id"`
	Channel     string                 `json:"channel"`
	CouponCodes string                 `json:"coupon_codes,omitempty"`
	Billing     *domain.BillingProfile `json:"billing,omitempty"`
}

// CheckoutResult is returned to the student. GatewayOrderID is empty for
// zero-amount orders, which complete immediately.
type CheckoutResult struct {
	PaymentID      uuid.UUID            `json:"payment_id"`
	InvoiceNumber  string               `json:"invoice_number"`
	Status         domain.PaymentStatus `json:"status"`
	GatewayOrderID string               `json:"gateway_order_id,omitempty"`
	AmountMinor    int64                `json:"amount_minor"`
	Quote          *pricing.Quote       `json:"quote"`
	EnrollmentID   *uuid.UUID           `json:"enrollment_id,omitempty"`
}

// Initiate runs one checkout attempt for studentID.
func (s *CheckoutService) Initiate(ctx context.Context, studentID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	if studentID == uuid.Nil {
		return nil, domain.ErrUnauthorized("student required")
	}
	if s.limiter != nil {
		if res := s.limiter.Check(ctx, studentID.String()); !res.Allowed {
			return nil, domain.ErrRateLimited(res.Reason)
		}
	}
	if input.CourseID == uuid.Nil {
		return nil, domain.ErrValidation("course_id is required")
	}
	channel, err := domain.ParseChannel(input.Channel)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if input.Billing != nil {
		if err := input.Billing.Validate(); err != nil {
			return nil, err
		}
	}
	codes, err := domain.ParseCouponCodes(input.CouponCodes)
	if err != nil {
		return nil, err
	}

	course, err := s.f.repos.Courses.FindByID(ctx, s.f.db, input.CourseID)
	if err != nil {
		return nil, domain.ErrInternal("find course", err)
	}
	if course == nil || !course.Active {
		return nil, domain.ErrNotFound("course", input.CourseID.String())
	}

	coupons, err := s.resolveCoupons(ctx, course.ID, codes)
	if err != nil {
		return nil, err
	}

	quote, err := s.engine.Price(pricing.Input{
		BasePrice: course.PriceFor(channel),
		Coupons:   coupons,
		Channel:   channel,
	})
	if err != nil {
		return nil, err
	}
	commission, err := pricing.CalculateCommission(quote, course.CommissionRate)
	if err != nil {
		return nil, err
	}
	amountMinor, err := provider.ToMinorUnits(quote.FinalAmount)
	if err != nil {
		return nil, domain.ErrInternal("convert amount", err)
	}

	payment := newPendingPayment(studentID, course.ID, channel, quote, commission, s.f.now())
	err = s.f.tx.WithinTx(ctx, func(ctx context.Context, tx repository.DBTX) error {
		number, err := s.sequencer.Next(ctx, tx, channel)
		if err != nil {
			return err
		}
		payment.InvoiceNumber = number
		return s.f.repos.Payments.Create(ctx, tx, payment)
	})
	if err != nil {
		return nil, domain.ErrInternal("record payment", err)
	}
	s.f.recordEvent(ctx, payment.ID, domain.PaymentStatusPending, "checkout initiated", nil)
	s.f.logger.Info("checkout initiated",
		"payment_id", payment.ID,
		"invoice_number", payment.InvoiceNumber,
		"student_id", studentID,
		"final_amount", quote.FinalAmount.String(),
		"currency", quote.Currency,
	)

	if input.Billing != nil {
		s.saveBilling(ctx, studentID, input.Billing)
	}

	result := &CheckoutResult{
		PaymentID:     payment.ID,
		InvoiceNumber: payment.InvoiceNumber,
		Status:        domain.PaymentStatusPending,
		AmountMinor:   amountMinor,
		Quote:         quote,
	}

	if quote.FinalAmount.IsZero() {
		confirmed, err := s.f.complete(ctx, payment.ID, "free_"+payment.InvoiceNumber, "")
		if err != nil {
			return nil, err
		}
		result.Status = confirmed.Status
		result.EnrollmentID = &confirmed.EnrollmentID
		return result, nil
	}

	order, err := s.createOrder(ctx, provider.OrderRequest{
		Amount:   amountMinor,
		Currency: quote.Currency,
		Receipt:  payment.InvoiceNumber,
		Notes:    map[string]string{"payment_id": payment.ID.String()},
	})
	if err != nil {
		s.failPending(ctx, payment.ID, "gateway order failed: "+err.Error())
		return nil, domain.ErrGateway("payment gateway unavailable", err)
	}
	if err := s.f.repos.Payments.SetGatewayOrder(ctx, s.f.db, payment.ID, order.ID); err != nil {
		s.failPending(ctx, payment.ID, "store gateway order: "+err.Error())
		return nil, domain.ErrInternal("record gateway order", err)
	}

	raw, _ := json.Marshal(map[string]string{"gateway_order_id": order.ID, "gateway_status": order.Status})
	s.f.recordEvent(ctx, payment.ID, domain.PaymentStatusPending, "gateway order created", raw)

	result.GatewayOrderID = order.ID
	return result, nil
}

// GetPayment returns one of the student's payments.
func (s *CheckoutService) GetPayment(ctx context.Context, studentID, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.f.repos.Payments.FindByID(ctx, s.f.db, paymentID)
	if err != nil {
		return nil, domain.ErrInternal("find payment", err)
	}
	if p == nil || p.StudentID != studentID {
		return nil, domain.ErrNotFound("payment", paymentID.String())
	}
	return p, nil
}

// resolveCoupons loads the typed codes and checks each one is redeemable for
// the course. Affiliate coupons of different affiliates cannot be combined.
func (s *CheckoutService) resolveCoupons(ctx context.Context, courseID uuid.UUID, codes []string) ([]domain.Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	found, err := s.f.repos.Coupons.FindByCodes(ctx, s.f.db, codes)
	if err != nil {
		return nil, domain.ErrInternal("find coupons", err)
	}
	byCode := make(map[string]domain.Coupon, len(found))
	for _, c := range found {
		byCode[c.Code] = c
	}

	now := s.f.now()
	var affiliateID *uuid.UUID
	out := make([]domain.Coupon, 0, len(codes))
	for _, code := range codes {
		c, ok := byCode[code]
		if !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("coupon %s is not valid", code))
		}
		if err := c.CheckRedeemable(courseID, now); err != nil {
			return nil, err
		}
		if c.Role == domain.RoleAffiliate {
			if affiliateID != nil && *affiliateID != *c.AffiliateID {
				return nil, domain.ErrValidation("coupons from different affiliates cannot be combined")
			}
			affiliateID = c.AffiliateID
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *CheckoutService) createOrder(ctx context.Context, req provider.OrderRequest) (*provider.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	var order *provider.Order
	err := s.breaker.Execute(ctx, provider.GatewayName, func(ctx context.Context) error {
		o, err := s.gateway.CreateOrder(ctx, req)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if errors.Is(err, guard.ErrCircuitOpen) {
		s.f.logger.Warn("gateway circuit open", "receipt", req.Receipt, "error", err)
	}
	return order, err
}

// failPending leaves the payment FAILED after a post-persistence error. If
// even that fails the payment stays PENDING until the expiry job runs.
func (s *CheckoutService) failPending(ctx context.Context, paymentID uuid.UUID, reason string) {
	s.f.logger.Error("checkout failed after persisting payment", "payment_id", paymentID, "reason", reason)
	if _, err := s.f.markFailed(ctx, paymentID, reason); err != nil {
		s.f.logger.Error("mark payment failed", "payment_id", paymentID, "error", err)
	}
}

func (s *CheckoutService) saveBilling(ctx context.Context, studentID uuid.UUID, billing *domain.BillingProfile) {
	profile := *billing
	profile.StudentID = studentID
	profile.UpdatedAt = s.f.now()
	if err := s.f.repos.Billing.Upsert(ctx, s.f.db, &profile); err != nil {
		s.f.logger.Warn("save billing profile", "student_id", studentID, "error", err)
	}
}

func newPendingPayment(studentID, courseID uuid.UUID, ch domain.Channel, q *pricing.Quote, c *pricing.CommissionSnapshot, now time.Time) *domain.Payment {
	p := &domain.Payment{
		ID:                uuid.New(),
		StudentID:         studentID,
		CourseID:          courseID,
		Channel:           ch,
		Currency:          q.Currency,
		OriginalAmount:    q.BasePrice,
		PlatformDiscount:  q.PlatformDiscount,
		AffiliateDiscount: q.AffiliateDiscount,
		Subtotal:          q.Subtotal,
		TaxRate:           q.TaxRate,
		TaxAmount:         q.Tax,
		FinalAmount:       q.FinalAmount,
		Coupons:           q.Lines,
		Status:            domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c != nil {
		p.AffiliateID = q.AffiliateID
		rate, amount := c.Rate, c.Amount
		p.CommissionRate = &rate
		p.CommissionAmount = &amount
	}
	return p
}
