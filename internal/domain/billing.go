package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillingProfile is the invoice address a student checks out with.
type BillingProfile struct {
	StudentID  uuid.UUID `json:"student_id"`
	Name       string    `json:"name"`
	Line1      string    `json:"line1"`
	Line2      string    `json:"line2,omitempty"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	PostalCode string    `json:"postal_code"`
	Country    string    `json:"country"`
	GSTIN      *string   `json:"gstin,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks required fields and the tax identifier format.
func (b *BillingProfile) Validate() error {
	if b.Name == "" || b.Line1 == "" || b.City == "" || b.Country == "" {
		return ErrValidation("billing name, line1, city and country are required")
	}
	if err := ValidateCountry(b.Country); err != nil {
		return ErrValidation(err.Error())
	}
	if b.GSTIN != nil {
		if err := ValidateGSTIN(*b.GSTIN); err != nil {
			return ErrValidation(err.Error())
		}
	}
	return nil
}
