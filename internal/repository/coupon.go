package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
)

type couponRepo struct{}

// NewCouponRepository returns a pgx-backed CouponRepository.
func NewCouponRepository() CouponRepository {
	return &couponRepo{}
}

func (r *couponRepo) FindByCodes(ctx context.Context, db DBTX, codes []string) ([]domain.Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := db.Query(ctx, `
		SELECT id, upper(code), kind, value, role, affiliate_id, course_id,
		       max_uses, used_count, valid_from, valid_until, active, created_at
		FROM coupons WHERE upper(code) = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		var c domain.Coupon
		var kind, role string
		var value pgtype.Numeric
		var maxUses *int32
		var used int32
		if err := rows.Scan(
			&c.ID, &c.Code, &kind, &value, &role, &c.AffiliateID, &c.CourseID,
			&maxUses, &used, &c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan coupon row: %w", err)
		}
		if c.Kind, err = domain.ParseDiscountKind(kind); err != nil {
			return nil, fmt.Errorf("coupon %s: %w", c.Code, err)
		}
		if c.Role, err = domain.ParseCreatorRole(role); err != nil {
			return nil, fmt.Errorf("coupon %s: %w", c.Code, err)
		}
		if c.Value, err = infra.NumericToDecimal(value); err != nil {
			return nil, fmt.Errorf("convert coupon value: %w", err)
		}
		if maxUses != nil {
			m := int(*maxUses)
			c.MaxUses = &m
		}
		c.UsedCount = int(used)
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

func (r *couponRepo) IncrementUsage(ctx context.Context, db DBTX, ids []uuid.UUID) error {
	for _, id := range ids {
		tag, err := db.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("increment coupon %s: %w", id, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("increment coupon %s: not found", id)
		}
	}
	return nil
}
