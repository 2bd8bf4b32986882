package domain

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	countryRegex  = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	gstinRegex    = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidateCountry checks for an ISO 3166 alpha-2 code.
func ValidateCountry(country string) error {
	if !countryRegex.MatchString(country) {
		return fmt.Errorf("invalid country code: %s", country)
	}
	return nil
}

// ValidateGSTIN checks the 15 character Indian GST identification number.
func ValidateGSTIN(gstin string) error {
	if !gstinRegex.MatchString(gstin) {
		return fmt.Errorf("invalid GSTIN: %s", gstin)
	}
	return nil
}

// ValidateNonNegativeAmount rejects negative money values.
func ValidateNonNegativeAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("amount must not be negative, got %s", amount.StringFixed(2))
	}
	return nil
}

// ValidateRate checks a percentage lies in [0, 100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("rate must be between 0 and 100, got %s", rate.String())
	}
	return nil
}
