package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
)

// CommissionLedger is the part of service.CommissionService the handlers use.
type CommissionLedger interface {
	ListForAffiliate(ctx context.Context, affiliateID uuid.UUID, limit int) ([]domain.Commission, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]domain.Commission, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*domain.Commission, error)
}

// CommissionHandler serves the affiliate and admin commission endpoints.
type CommissionHandler struct {
	ledger CommissionLedger
}

// NewCommissionHandler creates a new CommissionHandler.
func NewCommissionHandler(ledger CommissionLedger) *CommissionHandler {
	return &CommissionHandler{ledger: ledger}
}

// ListMine handles GET /affiliate/commissions.
func (h *CommissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	affiliateID, err := subjectID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	list, err := h.ledger.ListForAffiliate(r.Context(), affiliateID, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

// List handles GET /admin/commissions?status=pending.
func (h *CommissionHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.CommissionPending)
	}
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	list, err := h.ledger.ListByStatus(r.Context(), status, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

// MarkPaid handles POST /admin/commissions/{id}/paid.
func (h *CommissionHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	c, err := h.ledger.MarkPaid(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, c)
}

func nonNil(list []domain.Commission) []domain.Commission {
	if list == nil {
		return []domain.Commission{}
	}
	return list
}
