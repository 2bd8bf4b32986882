package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/repository"
)

// CommissionService reads the affiliate ledger and records payouts.
type CommissionService struct {
	db          repository.DBTX
	commissions repository.CommissionRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewCommissionService creates a CommissionService.
func NewCommissionService(deps Deps) *CommissionService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &CommissionService{db: deps.DB, commissions: deps.Repos.Commissions, logger: deps.Logger, now: now}
}

// ListForAffiliate returns the affiliate's commissions, newest first.
func (s *CommissionService) ListForAffiliate(ctx context.Context, affiliateID uuid.UUID, limit int) ([]domain.Commission, error) {
	list, err := s.commissions.ListByAffiliate(ctx, s.db, affiliateID, limit)
	if err != nil {
		return nil, domain.ErrInternal("list commissions", err)
	}
	return list, nil
}

// ListByStatus returns commissions in the given status, oldest first.
func (s *CommissionService) ListByStatus(ctx context.Context, status string, limit int) ([]domain.Commission, error) {
	st, ok := domain.ParseCommissionStatus(status)
	if !ok {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown commission status %q", status))
	}
	list, err := s.commissions.ListByStatus(ctx, s.db, st, limit)
	if err != nil {
		return nil, domain.ErrInternal("list commissions", err)
	}
	return list, nil
}

// MarkPaid records that a pending commission was paid out. Paying twice is a conflict.
func (s *CommissionService) MarkPaid(ctx context.Context, id uuid.UUID) (*domain.Commission, error) {
	c, err := s.commissions.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, domain.ErrInternal("find commission", err)
	}
	if c == nil {
		return nil, domain.ErrNotFound("commission", id.String())
	}

	at := s.now().UTC()
	ok, err := s.commissions.MarkPaid(ctx, s.db, id, at)
	if err != nil {
		return nil, domain.ErrInternal("mark commission paid", err)
	}
	if !ok {
		return nil, domain.ErrConflict(fmt.Sprintf("commission %s is already paid", id))
	}

	c.Status = domain.CommissionPaid
	c.PaidAt = &at
	s.logger.Info("commission paid", "commission_id", id, "affiliate_id", c.AffiliateID, "amount", c.Amount.String())
	return c, nil
}
