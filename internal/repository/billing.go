package repository

import (
	"context"
	"fmt"

	"github.com/learnly/platform/internal/domain"
)

type billingRepo struct{}

// NewBillingRepository returns a pgx-backed BillingRepository.
func NewBillingRepository() BillingRepository {
	return &billingRepo{}
}

func (r *billingRepo) Upsert(ctx context.Context, db DBTX, b *domain.BillingProfile) error {
	_, err := db.Exec(ctx, `
		INSERT INTO billing_profiles (student_id, name, line1, line2, city, state, postal_code, country, gstin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id) DO UPDATE SET
			name = EXCLUDED.name, line1 = EXCLUDED.line1, line2 = EXCLUDED.line2,
			city = EXCLUDED.city, state = EXCLUDED.state, postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country, gstin = EXCLUDED.gstin, updated_at = now()`,
		b.StudentID, b.Name, b.Line1, b.Line2, b.City, b.State, b.PostalCode, b.Country, b.GSTIN)
	if err != nil {
		return fmt.Errorf("upsert billing profile: %w", err)
	}
	return nil
}
