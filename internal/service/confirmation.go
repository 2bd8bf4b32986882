package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
)

// SignatureVerifier checks the gateway signature over an order and payment id.
type SignatureVerifier interface {
	Verify(orderID, paymentID, signature string) error
}

// ConfirmationService completes payments once the gateway reports them paid.
// It is safe to call any number of times for the same payment.
type ConfirmationService struct {
	f        *fulfiller
	verifier SignatureVerifier
}

// NewConfirmationService creates a ConfirmationService.
func NewConfirmationService(deps Deps, verifier SignatureVerifier) *ConfirmationService {
	return &ConfirmationService{f: newFulfiller(deps), verifier: verifier}
}

// ConfirmInput is a signed confirmation. PaymentID is set on the student
// route; the webhook only knows the gateway order id. StudentID, when set,
// restricts the lookup to the student's own payments.
type ConfirmInput struct {
	PaymentID        uuid.UUID `json:"-"`
	StudentID        uuid.UUID `json:"-"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Signature        string    `json:"signature"`
}

const confirmFailedMessage = "payment could not be verified"

// Confirm verifies the signature and completes the payment.
func (s *ConfirmationService) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.GatewayOrderID == "" || input.GatewayPaymentID == "" || input.Signature == "" {
		return nil, domain.ErrValidation("gateway_order_id, gateway_payment_id and signature are required")
	}

	p, err := s.load(ctx, input)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case domain.PaymentStatusCompleted:
		res, err := resultFrom(p, true)
		if err != nil {
			return nil, domain.ErrInternal("replay payment", err)
		}
		return res, nil
	case domain.PaymentStatusFailed:
		return nil, domain.ErrPaymentFailed(p.ID.String())
	}

	if err := s.verify(p, input); err != nil {
		s.f.logger.Warn("payment confirmation rejected",
			"payment_id", p.ID,
			"gateway_order_id", input.GatewayOrderID,
			"error", err,
		)
		if _, mErr := s.f.markFailed(ctx, p.ID, "signature verification failed: "+err.Error()); mErr != nil {
			s.f.logger.Error("mark payment failed", "payment_id", p.ID, "error", mErr)
		}
		return nil, domain.ErrSecurity(confirmFailedMessage)
	}

	return s.f.complete(ctx, p.ID, input.GatewayPaymentID, input.Signature)
}

func (s *ConfirmationService) load(ctx context.Context, input ConfirmInput) (*domain.Payment, error) {
	var (
		p   *domain.Payment
		err error
		ref string
	)
	if input.PaymentID != uuid.Nil {
		ref = input.PaymentID.String()
		p, err = s.f.repos.Payments.FindByID(ctx, s.f.db, input.PaymentID)
	} else {
		ref = input.GatewayOrderID
		p, err = s.f.repos.Payments.FindByGatewayOrderID(ctx, s.f.db, input.GatewayOrderID)
	}
	if err != nil {
		return nil, domain.ErrRetryLater("load payment", err)
	}
	if p == nil || (input.StudentID != uuid.Nil && p.StudentID != input.StudentID) {
		return nil, domain.ErrNotFound("payment", ref)
	}
	return p, nil
}

var errOrderMismatch = errors.New("gateway order id does not match")

func (s *ConfirmationService) verify(p *domain.Payment, input ConfirmInput) error {
	if p.GatewayOrderID == nil ||
		subtle.ConstantTimeCompare([]byte(*p.GatewayOrderID), []byte(input.GatewayOrderID)) != 1 {
		return errOrderMismatch
	}
	return s.verifier.Verify(*p.GatewayOrderID, input.GatewayPaymentID, input.Signature)
}
