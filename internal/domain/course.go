package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel is the sales channel of an order. It fixes currency, taxability
// and the invoice series letter.
type Channel string

const (
	ChannelDomestic    Channel = "domestic"
	ChannelCrossBorder Channel = "cross_border"
)

// ParseChannel accepts the canonical names case-insensitively.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelDomestic:
		return ChannelDomestic, nil
	case ChannelCrossBorder:
		return ChannelCrossBorder, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// Currency returns the ISO 4217 code orders in this channel are charged in.
func (c Channel) Currency() string {
	if c == ChannelCrossBorder {
		return "USD"
	}
	return "INR"
}

// Taxable reports whether the flat tax rate applies.
func (c Channel) Taxable() bool { return c == ChannelDomestic }

// InvoiceLetter is the series letter embedded in invoice numbers.
func (c Channel) InvoiceLetter() string {
	if c == ChannelCrossBorder {
		return "E"
	}
	return "G"
}

// Course represents a courses table row. Only pricing-relevant columns are modelled.
type Course struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	PriceDomestic    decimal.Decimal `json:"price_domestic"`
	PriceCrossBorder decimal.Decimal `json:"price_cross_border"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PriceFor returns the list price in the channel's currency.
func (c *Course) PriceFor(ch Channel) decimal.Decimal {
	if ch == ChannelCrossBorder {
		return c.PriceCrossBorder
	}
	return c.PriceDomestic
}
