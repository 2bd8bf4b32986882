package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountKind selects how a coupon's value is interpreted.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFixed      DiscountKind = "FIXED"
)

// ParseDiscountKind rejects anything outside the closed set.
func ParseDiscountKind(s string) (DiscountKind, error) {
	switch k := DiscountKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case DiscountPercentage, DiscountFixed:
		return k, nil
	}
	return "", fmt.Errorf("unknown discount kind: %q", s)
}

// CreatorRole identifies who issued a coupon. Affiliate coupons carry commission.
type CreatorRole string

const (
	RolePlatform  CreatorRole = "PLATFORM"
	RoleAffiliate CreatorRole = "AFFILIATE"
)

// ParseCreatorRole rejects anything outside the closed set.
func ParseCreatorRole(s string) (CreatorRole, error) {
	switch r := CreatorRole(strings.ToUpper(strings.TrimSpace(s))); r {
	case RolePlatform, RoleAffiliate:
		return r, nil
	}
	return "", fmt.Errorf("unknown creator role: %q", s)
}

// Coupon represents a coupons table row.
type Coupon struct {
	ID          uuid.UUID       `json:"id"`
	Code        string          `json:"code"`
	Kind        DiscountKind    `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	Role        CreatorRole     `json:"role"`
	AffiliateID *uuid.UUID      `json:"affiliate_id,omitempty"`
	CourseID    *uuid.UUID      `json:"course_id,omitempty"`
	MaxUses     *int            `json:"max_uses,omitempty"`
	UsedCount   int             `json:"used_count"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CheckRedeemable returns a validation error when the coupon cannot be applied
// to courseID at instant now.
func (c *Coupon) CheckRedeemable(courseID uuid.UUID, now time.Time) error {
	switch {
	case !c.Active:
		return ErrValidation(fmt.Sprintf("coupon %s is not active", c.Code))
	case now.Before(c.ValidFrom):
		return ErrValidation(fmt.Sprintf("coupon %s is not yet valid", c.Code))
	case c.ValidUntil != nil && !now.Before(*c.ValidUntil):
		return ErrValidation(fmt.Sprintf("coupon %s has expired", c.Code))
	case c.MaxUses != nil && c.UsedCount >= *c.MaxUses:
		return ErrValidation(fmt.Sprintf("coupon %s has reached its usage limit", c.Code))
	case c.CourseID != nil && *c.CourseID != courseID:
		return ErrValidation(fmt.Sprintf("coupon %s does not apply to this course", c.Code))
	case c.Role == RoleAffiliate && c.AffiliateID == nil:
		return ErrValidation(fmt.Sprintf("coupon %s has no affiliate", c.Code))
	case !c.Value.IsPositive():
		return ErrValidation(fmt.Sprintf("coupon %s has no discount value", c.Code))
	}
	return nil
}

// ParseCouponCodes splits a comma-separated list, trims and upper-cases each
// code and drops empty entries. Duplicates are rejected.
func ParseCouponCodes(raw string) ([]string, error) {
	var codes []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		if len(code) > 64 {
			return nil, ErrValidation("coupon code too long")
		}
		if _, dup := seen[code]; dup {
			return nil, ErrValidation(fmt.Sprintf("coupon %s supplied more than once", code))
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// AppliedCoupon is one line of the per-coupon discount breakdown stored on a payment.
type AppliedCoupon struct {
	CouponID uuid.UUID       `json:"coupon_id"`
	Code     string          `json:"code"`
	Role     CreatorRole     `json:"role"`
	Kind     DiscountKind    `json:"kind"`
	Value    decimal.Decimal `json:"value"`
	Amount   decimal.Decimal `json:"amount"`
	Clamped  bool            `json:"clamped"`
}
