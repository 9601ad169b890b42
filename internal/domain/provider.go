package domain

import (
	"fmt"
	"strings"
)

// DefaultProviderStatus is assumed when the Status column is empty.
const DefaultProviderStatus = "active"

// Provider is a service professional eligible to accept jobs. Identity is
// the phone number; the directory spreadsheet is the source of truth.
type Provider struct {
	Name     string
	Phone    string
	Location string
	Status   string
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.Phone) == "" {
		return fmt.Errorf("%w: provider phone is required", ErrValidation)
	}
	if strings.TrimSpace(p.Location) == "" {
		return fmt.Errorf("%w: provider location is required", ErrValidation)
	}
	return nil
}

// NormalizePhone strips everything but digits so that gateway webhook sender
// numbers and spreadsheet numbers compare equal regardless of formatting.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameLocation compares locations the way the directory filter does.
func SameLocation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
