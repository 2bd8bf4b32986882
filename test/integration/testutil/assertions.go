//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/repository"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// PaymentStatus reads the stored status of a payment.
func PaymentStatus(t *testing.T, env *TestEnv, paymentID uuid.UUID) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status string
	if err := env.Pool.QueryRow(ctx, "SELECT status FROM payments WHERE id = $1", paymentID).Scan(&status); err != nil {
		t.Fatalf("PaymentStatus: %v", err)
	}
	return status
}

// CountRows returns the number of rows in table matching payment_id.
func CountRows(t *testing.T, env *TestEnv, table string, paymentID uuid.UUID) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE payment_id = $1", paymentID).Scan(&count)
	if err != nil {
		t.Fatalf("CountRows %s: %v", table, err)
	}
	return count
}

// CouponUsage returns used_count for a coupon.
func CouponUsage(t *testing.T, env *TestEnv, couponID uuid.UUID) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var used int
	if err := env.Pool.QueryRow(ctx, "SELECT used_count FROM coupons WHERE id = $1", couponID).Scan(&used); err != nil {
		t.Fatalf("CouponUsage: %v", err)
	}
	return used
}

// EnrollmentFor loads the enrollment granted by a payment, or nil.
func EnrollmentFor(t *testing.T, env *TestEnv, paymentID uuid.UUID) *domain.Enrollment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, err := repository.NewEnrollmentRepository().FindByPaymentID(ctx, env.Pool, paymentID)
	if err != nil {
		t.Fatalf("EnrollmentFor: %v", err)
	}
	return e
}

// CommissionFor loads the commission snapshotted for a payment, or nil.
func CommissionFor(t *testing.T, env *TestEnv, paymentID uuid.UUID) *domain.Commission {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := repository.NewCommissionRepository().FindByPaymentID(ctx, env.Pool, paymentID)
	if err != nil {
		t.Fatalf("CommissionFor: %v", err)
	}
	return c
}
