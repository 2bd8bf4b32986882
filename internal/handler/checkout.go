package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/service"
)

// Checkout is the part of service.CheckoutService the handlers use.
type Checkout interface {
	Initiate(ctx context.Context, studentID uuid.UUID, input service.CheckoutInput) (*service.CheckoutResult, error)
	GetPayment(ctx context.Context, studentID, paymentID uuid.UUID) (*domain.Payment, error)
}

// Confirmer is the part of service.ConfirmationService the handlers use.
type Confirmer interface {
	Confirm(ctx context.Context, input service.ConfirmInput) (*service.ConfirmResult, error)
}

// CheckoutHandler handles the student checkout endpoints.
type CheckoutHandler struct {
	checkout  Checkout
	confirmer Confirmer
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout Checkout, confirmer Confirmer) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, confirmer: confirmer}
}

// CreateOrder handles POST /checkout/orders.
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	studentID, err := subjectID(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req service.CheckoutInput
	if err := DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	result, err := h.checkout.Initiate(r.Context(), studentID, req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// ConfirmPayment handles POST /checkout/payments/{id}/confirm.
func (h *CheckoutHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	studentID, err := subjectID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	paymentID, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	var req service.ConfirmInput
	if err := DecodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	req.PaymentID = paymentID
	req.StudentID = studentID

	result, err := h.confirmer.Confirm(r.Context(), req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// GetPayment handles GET /checkout/payments/{id}.
func (h *CheckoutHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	studentID, err := subjectID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	paymentID, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	payment, err := h.checkout.GetPayment(r.Context(), studentID, paymentID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, payment)
}
