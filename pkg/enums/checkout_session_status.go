package enums

import "fmt"

// CheckoutSessionStatus tracks the local correlation record for a gateway checkout session.
type CheckoutSessionStatus string

const (
	CheckoutSessionStatusOpen     CheckoutSessionStatus = "open"
	CheckoutSessionStatusConsumed CheckoutSessionStatus = "consumed"
	CheckoutSessionStatusExpired  CheckoutSessionStatus = "expired"
)

var validCheckoutSessionStatuses = []CheckoutSessionStatus{
	CheckoutSessionStatusOpen,
	CheckoutSessionStatusConsumed,
	CheckoutSessionStatusExpired,
}

// String implements fmt.Stringer.
func (s CheckoutSessionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s CheckoutSessionStatus) IsValid() bool {
	for _, candidate := range validCheckoutSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCheckoutSessionStatus converts raw input into a CheckoutSessionStatus.
func ParseCheckoutSessionStatus(value string) (CheckoutSessionStatus, error) {
	for _, candidate := range validCheckoutSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout session status %q", value)
}
