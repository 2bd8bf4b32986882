package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
)

type courseRepo struct{}

// NewCourseRepository returns a pgx-backed CourseRepository.
func NewCourseRepository() CourseRepository {
	return &courseRepo{}
}

func (r *courseRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Course, error) {
	var c domain.Course
	var domestic, crossBorder, rate pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT id, title, price_domestic, price_cross_border, commission_rate,
		       active, created_at, updated_at
		FROM courses WHERE id = $1`, id).Scan(
		&c.ID, &c.Title, &domestic, &crossBorder, &rate,
		&c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan course: %w", err)
	}

	if c.PriceDomestic, err = infra.NumericToDecimal(domestic); err != nil {
		return nil, fmt.Errorf("convert domestic price: %w", err)
	}
	if c.PriceCrossBorder, err = infra.NumericToDecimal(crossBorder); err != nil {
		return nil, fmt.Errorf("convert cross-border price: %w", err)
	}
	if c.CommissionRate, err = infra.NumericToDecimal(rate); err != nil {
		return nil, fmt.Errorf("convert commission rate: %w", err)
	}
	return &c, nil
}
