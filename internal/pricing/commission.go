package pricing

import (
	"github.com/learnly/platform/internal/domain"
	"github.com/shopspring/decimal"
)

// CommissionSnapshot is frozen on the payment at checkout and copied onto the
// commission row when the payment completes.
type CommissionSnapshot struct {
	Base   decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// CalculateCommission returns the affiliate's share of the price after
// platform discounts, or nil when no affiliate coupon was applied.
// rate is a percentage.
func CalculateCommission(q *Quote, rate decimal.Decimal) (*CommissionSnapshot, error) {
	if !q.HasAffiliate() {
		return nil, nil
	}
	if err := domain.ValidateRate(rate); err != nil {
		return nil, domain.ErrInternal("course commission rate", err)
	}
	base := q.PriceAfterPlatformDiscount
	return &CommissionSnapshot{
		Base:   base,
		Rate:   rate,
		Amount: round(base.Mul(rate).Div(hundred)),
	}, nil
}
