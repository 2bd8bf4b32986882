package service

import (
	"context"
	"fmt"
	"time"

	"github.com/learnly/platform/internal/domain"
)

// ExpiryReason is stored on payments failed by ExpireStale.
const ExpiryReason = "expired"

// ReconcileService cleans up payments the gateway never reported back on.
type ReconcileService struct {
	f *fulfiller
}

// NewReconcileService creates a ReconcileService.
func NewReconcileService(deps Deps) *ReconcileService {
	return &ReconcileService{f: newFulfiller(deps)}
}

// ExpireStale marks every PENDING payment older than olderThan as FAILED and
// returns how many were expired.
func (s *ReconcileService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, domain.ErrValidation(fmt.Sprintf("expiry threshold must be positive, got %s", olderThan))
	}
	cutoff := s.f.now().Add(-olderThan)
	ids, err := s.f.repos.Payments.ExpirePending(ctx, s.f.db, cutoff, ExpiryReason)
	if err != nil {
		return 0, domain.ErrInternal("expire pending payments", err)
	}
	for _, id := range ids {
		s.f.recordEvent(ctx, id, domain.PaymentStatusFailed, ExpiryReason, nil)
	}
	s.f.logger.Info("expired pending payments", "count", len(ids), "cutoff", cutoff)
	return len(ids), nil
}
