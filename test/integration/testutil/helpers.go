//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/auth"
)

// StudentToken issues a student token for a fresh student id.
func (env *TestEnv) StudentToken() (token string, studentID uuid.UUID) {
	env.t.Helper()
	studentID = uuid.New()
	token, err := env.JWTMgr.GenerateToken(auth.RealmStudent, studentID, auth.TokenOptions{
		Email: studentID.String()[:8] + "@students.test",
	})
	if err != nil {
		env.t.Fatalf("StudentToken: %v", err)
	}
	return token, studentID
}

// AffiliateToken issues an affiliate token for affiliateID.
func (env *TestEnv) AffiliateToken(affiliateID uuid.UUID) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAffiliate, affiliateID, auth.TokenOptions{Status: "active"})
	if err != nil {
		env.t.Fatalf("AffiliateToken: %v", err)
	}
	return token
}

// AdminToken issues an admin token with the given role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAdmin, uuid.New(), auth.TokenOptions{Role: role})
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("POST %s: encode: %v", path, err)
		}
	}
	req, err := http.NewRequest("POST", env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("POST %s: new request: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// RawPOST sends payload as-is with the given headers.
func (env *TestEnv) RawPOST(path string, payload []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest("POST", env.Server.URL+path, bytes.NewReader(payload))
	if err != nil {
		env.t.Fatalf("RawPOST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("RawPOST %s: %v", path, err)
	}
	return resp
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest("GET", env.Server.URL+path, nil)
	if err != nil {
		env.t.Fatalf("AuthGET %s: new request: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("AuthGET %s: %v", path, err)
	}
	return resp
}

// SeedCourse inserts an active course and returns its id.
func (env *TestEnv) SeedCourse(title, domestic, crossBorder, commissionRate string) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.New()
	_, err := env.Pool.Exec(ctx, `
		INSERT INTO courses (id, title, price_domestic, price_cross_border, commission_rate)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric)`,
		id, title, domestic, crossBorder, commissionRate)
	if err != nil {
		env.t.Fatalf("SeedCourse: %v", err)
	}
	return id
}

// SeedCoupon inserts an active coupon. affiliateID is nil for platform coupons.
func (env *TestEnv) SeedCoupon(code, kind, value string, affiliateID *uuid.UUID) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	role := "PLATFORM"
	if affiliateID != nil {
		role = "AFFILIATE"
	}
	id := uuid.New()
	_, err := env.Pool.Exec(ctx, `
		INSERT INTO coupons (id, code, kind, value, role, affiliate_id, valid_from)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, now() - interval '1 day')`,
		id, code, kind, value, role, affiliateID)
	if err != nil {
		env.t.Fatalf("SeedCoupon: %v", err)
	}
	return id
}

// Sign produces the gateway signature for an order and payment id pair.
func (env *TestEnv) Sign(orderID, paymentID string) string {
	return env.Verifier.Sign(orderID, paymentID)
}
