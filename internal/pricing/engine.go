// Package pricing turns a list price and a set of redeemable coupons into the
// frozen breakdown stored on a payment.
package pricing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the scale every monetary result is rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Input is everything the engine needs for one order.
type Input struct {
	BasePrice decimal.Decimal
	Coupons   []domain.Coupon
	Channel   domain.Channel
}

// Quote is the price breakdown of one order.
type Quote struct {
	BasePrice                  decimal.Decimal        `json:"base_price"`
	PlatformDiscount           decimal.Decimal        `json:"platform_discount"`
	PriceAfterPlatformDiscount decimal.Decimal        `json:"price_after_platform_discount"`
	AffiliateDiscount          decimal.Decimal        `json:"affiliate_discount"`
	Subtotal                   decimal.Decimal        `json:"subtotal"`
	TaxRate                    decimal.Decimal        `json:"tax_rate"`
	Tax                        decimal.Decimal        `json:"tax"`
	FinalAmount                decimal.Decimal        `json:"final_amount"`
	Currency                   string                 `json:"currency"`
	Lines                      []domain.AppliedCoupon `json:"lines"`
	Clamped                    bool                   `json:"clamped"`
	AffiliateID                *uuid.UUID             `json:"affiliate_id,omitempty"`
}

// HasAffiliate reports whether an affiliate coupon took part in the order.
func (q *Quote) HasAffiliate() bool { return q.AffiliateID != nil }

// Engine applies platform coupons, then affiliate coupons, then tax.
type Engine struct {
	taxRate decimal.Decimal
}

// NewEngine creates an Engine charging taxRate (a fraction, e.g. 0.18) on
// taxable channels.
func NewEngine(taxRate decimal.Decimal) *Engine {
	return &Engine{taxRate: taxRate}
}

// Price computes the quote. Platform coupons are always applied before
// affiliate coupons whatever order they were supplied in; within a group the
// supplied order is kept and each percentage is taken of the group's running
// base. A discount larger than what is left is clamped and flagged.
//
// Fixed coupon values are in the domestic currency and are refused on any
// channel priced in another currency.
func (e *Engine) Price(in Input) (*Quote, error) {
	if in.BasePrice.IsNegative() {
		return nil, domain.ErrValidation("base price must not be negative")
	}

	var platform, affiliate []domain.Coupon
	for _, c := range in.Coupons {
		if c.Kind == domain.DiscountFixed && in.Channel.Currency() != domain.ChannelDomestic.Currency() {
			return nil, domain.ErrValidation(fmt.Sprintf("coupon %s is a fixed %s amount and cannot be used on the %s channel",
				c.Code, domain.ChannelDomestic.Currency(), in.Channel))
		}
		switch c.Role {
		case domain.RolePlatform:
			platform = append(platform, c)
		case domain.RoleAffiliate:
			affiliate = append(affiliate, c)
		default:
			return nil, domain.ErrValidation(fmt.Sprintf("coupon %s has unknown role %q", c.Code, c.Role))
		}
	}

	q := &Quote{
		BasePrice: round(in.BasePrice),
		Currency:  in.Channel.Currency(),
		TaxRate:   decimal.Zero,
	}

	platformLines, platformTotal, err := applyGroup(q.BasePrice, platform)
	if err != nil {
		return nil, err
	}
	q.PlatformDiscount = platformTotal
	q.PriceAfterPlatformDiscount = q.BasePrice.Sub(platformTotal)

	affiliateLines, affiliateTotal, err := applyGroup(q.PriceAfterPlatformDiscount, affiliate)
	if err != nil {
		return nil, err
	}
	q.AffiliateDiscount = affiliateTotal

	q.Lines = append(platformLines, affiliateLines...)
	for _, l := range q.Lines {
		if l.Clamped {
			q.Clamped = true
		}
	}
	for _, c := range affiliate {
		if c.AffiliateID != nil {
			id := *c.AffiliateID
			q.AffiliateID = &id
			break
		}
	}

	q.Subtotal = decimal.Max(decimal.Zero, q.BasePrice.Sub(q.PlatformDiscount).Sub(q.AffiliateDiscount))
	q.Tax = decimal.Zero
	if in.Channel.Taxable() {
		q.TaxRate = e.taxRate
		q.Tax = round(q.Subtotal.Mul(e.taxRate))
	}
	q.FinalAmount = q.Subtotal.Add(q.Tax)
	return q, nil
}

// applyGroup discounts base by each coupon in turn and returns the lines and
// the group total. The total never exceeds base.
func applyGroup(base decimal.Decimal, coupons []domain.Coupon) ([]domain.AppliedCoupon, decimal.Decimal, error) {
	lines := make([]domain.AppliedCoupon, 0, len(coupons))
	remaining := base
	for _, c := range coupons {
		if c.Value.IsNegative() {
			return nil, decimal.Zero, domain.ErrValidation(fmt.Sprintf("coupon %s has a negative value", c.Code))
		}
		var amount decimal.Decimal
		switch c.Kind {
		case domain.DiscountPercentage:
			amount = round(remaining.Mul(c.Value).Div(hundred))
		case domain.DiscountFixed:
			amount = round(c.Value)
		default:
			return nil, decimal.Zero, domain.ErrValidation(fmt.Sprintf("coupon %s has unknown kind %q", c.Code, c.Kind))
		}

		clamped := false
		if amount.GreaterThan(remaining) {
			amount = remaining
			clamped = true
		}
		remaining = remaining.Sub(amount)

		lines = append(lines, domain.AppliedCoupon{
			CouponID: c.ID,
			Code:     c.Code,
			Role:     c.Role,
			Kind:     c.Kind,
			Value:    c.Value,
			Amount:   amount,
			Clamped:  clamped,
		})
	}
	return lines, base.Sub(remaining), nil
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
