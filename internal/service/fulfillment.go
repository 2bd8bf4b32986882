package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/repository"
	"github.com/shopspring/decimal"
)

// Notifier accepts enrollment notifications for asynchronous delivery.
// Enqueue must not block.
type Notifier interface {
	Enqueue(n domain.Notification) bool
}

// Deps are the collaborators shared by the checkout services.
type Deps struct {
	DB       repository.DBTX
	Tx       repository.Transactor
	Repos    repository.Repositories
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// ConfirmResult is what a completed payment reports back to the student or
// the gateway. Replayed is set when the payment had already been completed.
type ConfirmResult struct {
	PaymentID     uuid.UUID            `json:"payment_id"`
	Status        domain.PaymentStatus `json:"status"`
	InvoiceNumber string               `json:"invoice_number"`
	EnrollmentID  uuid.UUID            `json:"enrollment_id"`
	FinalAmount   decimal.Decimal      `json:"final_amount"`
	Currency      string               `json:"currency"`
	Replayed      bool                 `json:"replayed"`
}

func resultFrom(p *domain.Payment, replayed bool) (*ConfirmResult, error) {
	if p.EnrollmentID == nil {
		return nil, fmt.Errorf("completed payment %s has no enrollment", p.ID)
	}
	return &ConfirmResult{
		PaymentID:     p.ID,
		Status:        p.Status,
		InvoiceNumber: p.InvoiceNumber,
		EnrollmentID:  *p.EnrollmentID,
		FinalAmount:   p.FinalAmount,
		Currency:      p.Currency,
		Replayed:      replayed,
	}, nil
}

// fulfiller owns the PENDING -> COMPLETED and PENDING -> FAILED transitions.
// Both the confirmer and zero-amount checkouts go through complete.
type fulfiller struct {
	db       repository.DBTX
	tx       repository.Transactor
	repos    repository.Repositories
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func newFulfiller(deps Deps) *fulfiller {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &fulfiller{
		db:       deps.DB,
		tx:       deps.Tx,
		repos:    deps.Repos,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      func() time.Time { return now().UTC() },
	}
}

// completionTimeout bounds the completion transaction once it is detached
// from the caller.
const completionTimeout = 15 * time.Second

// complete runs the completion transaction: lock, re-check, mark completed,
// enroll, link, consume coupons and snapshot the commission. The transaction
// does not observe caller cancellation; an interrupted attempt leaves the
// payment pending and is reported as RETRY_LATER.
func (f *fulfiller) complete(ctx context.Context, paymentID uuid.UUID, gatewayPaymentID, signature string) (*ConfirmResult, error) {
	var (
		result    *ConfirmResult
		completed *domain.Payment
	)
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	err := f.tx.WithinTx(txCtx, func(ctx context.Context, tx repository.DBTX) error {
		result, completed = nil, nil

		p, err := f.repos.Payments.LockForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrNotFound("payment", paymentID.String())
		}
		switch p.Status {
		case domain.PaymentStatusCompleted:
			result, err = resultFrom(p, true)
			return err
		case domain.PaymentStatusFailed:
			return domain.ErrPaymentFailed(p.ID.String())
		}

		now := f.now()
		ok, err := f.repos.Payments.MarkCompleted(ctx, tx, p.ID, gatewayPaymentID, signature, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payment %s left pending under lock", p.ID)
		}

		enrollment := &domain.Enrollment{
			ID:        uuid.New(),
			StudentID: p.StudentID,
			CourseID:  p.CourseID,
			PaymentID: p.ID,
			CreatedAt: now,
		}
		if err := f.repos.Enrollments.Create(ctx, tx, enrollment); err != nil {
			return err
		}
		if err := f.repos.Payments.LinkEnrollment(ctx, tx, p.ID, enrollment.ID); err != nil {
			return err
		}
		if err := f.repos.Coupons.IncrementUsage(ctx, tx, p.CouponIDs()); err != nil {
			return err
		}
		if c := domain.NewCommissionFromPayment(p, now); c != nil {
			if err := f.repos.Commissions.Create(ctx, tx, c); err != nil {
				return err
			}
		}

		p.Status = domain.PaymentStatusCompleted
		p.GatewayPaymentID = &gatewayPaymentID
		p.EnrollmentID = &enrollment.ID
		p.CompletedAt = &now
		completed = p
		result, err = resultFrom(p, false)
		return err
	})
	if err != nil {
		if domain.HasCode(err, domain.CodeNotFound) || domain.HasCode(err, domain.CodePaymentFailed) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			f.logger.Warn("payment completion interrupted", "payment_id", paymentID, "error", err)
			return nil, domain.ErrRetryLater("payment confirmation interrupted, retry later", err)
		}
		return f.failAfterError(ctx, paymentID, err)
	}

	if completed != nil {
		f.recordEvent(txCtx, completed.ID, domain.PaymentStatusCompleted, "payment completed", nil)
		f.notifyEnrolled(completed)
		f.logger.Info("payment completed",
			"payment_id", completed.ID,
			"invoice_number", completed.InvoiceNumber,
			"student_id", completed.StudentID,
			"final_amount", completed.FinalAmount.String(),
			"currency", completed.Currency,
		)
	}
	return result, nil
}

// failAfterError marks the payment FAILED once the completion transaction has
// rolled back. A concurrent confirmation that won the race is reported as a
// replay instead.
func (f *fulfiller) failAfterError(ctx context.Context, paymentID uuid.UUID, cause error) (*ConfirmResult, error) {
	f.logger.Error("payment completion failed", "payment_id", paymentID, "error", cause)

	marked, err := f.markFailed(ctx, paymentID, "completion failed: "+cause.Error())
	if err != nil {
		f.logger.Error("mark payment failed", "payment_id", paymentID, "error", err)
		return nil, domain.ErrRetryLater("payment could not be verified, retry later", err)
	}
	if !marked {
		p, err := f.repos.Payments.FindByID(context.WithoutCancel(ctx), f.db, paymentID)
		if err == nil && p != nil && p.Status == domain.PaymentStatusCompleted {
			return resultFrom(p, true)
		}
	}
	return nil, domain.ErrInternal("payment could not be verified", cause)
}

// markFailed moves a pending payment to FAILED and records the event. It
// reports false when the payment was no longer pending. It survives caller
// cancellation so a timed-out request still leaves a terminal state behind.
func (f *fulfiller) markFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	marked, err := f.repos.Payments.MarkFailed(ctx, f.db, paymentID, reason)
	if err != nil {
		return false, err
	}
	if marked {
		f.recordEvent(ctx, paymentID, domain.PaymentStatusFailed, reason, nil)
	}
	return marked, nil
}

func (f *fulfiller) notifyEnrolled(p *domain.Payment) {
	if f.notifier == nil || p.EnrollmentID == nil {
		return
	}
	for _, n := range domain.NewEnrollmentNotifications(p, *p.EnrollmentID, f.now()) {
		if !f.notifier.Enqueue(n) {
			f.logger.Warn("notification dropped", "payment_id", p.ID, "kind", n.Kind)
		}
	}
}

func (f *fulfiller) recordEvent(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus, message string, rawData json.RawMessage) {
	event := &domain.PaymentEvent{
		PaymentID: paymentID,
		Status:    status,
		Message:   &message,
		RawData:   rawData,
	}
	if err := f.repos.Payments.InsertEvent(ctx, f.db, event); err != nil {
		f.logger.Error("record payment event", "error", err, "payment_id", paymentID)
	}
}
