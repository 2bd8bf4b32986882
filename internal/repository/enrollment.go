package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/learnly/platform/internal/domain"
)

type enrollmentRepo struct{}

// NewEnrollmentRepository returns a pgx-backed EnrollmentRepository.
func NewEnrollmentRepository() EnrollmentRepository {
	return &enrollmentRepo{}
}

func (r *enrollmentRepo) Create(ctx context.Context, db DBTX, e *domain.Enrollment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.StudentID, e.CourseID, e.PaymentID, e.CreatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("enrollment for payment %s: %w", e.PaymentID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *enrollmentRepo) FindByPaymentID(ctx context.Context, db DBTX, paymentID uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := db.QueryRow(ctx, `
		SELECT id, student_id, course_id, payment_id, created_at
		FROM enrollments WHERE payment_id = $1`, paymentID).Scan(
		&e.ID, &e.StudentID, &e.CourseID, &e.PaymentID, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return &e, nil
}
