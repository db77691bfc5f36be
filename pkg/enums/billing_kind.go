package enums

import "fmt"

// BillingKind describes how a plan is charged.
type BillingKind string

const (
	BillingKindFree             BillingKind = "free"
	BillingKindOneTimePack      BillingKind = "one_time_pack"
	BillingKindRecurringMonthly BillingKind = "recurring_monthly"
)

var validBillingKinds = []BillingKind{
	BillingKindFree,
	BillingKindOneTimePack,
	BillingKindRecurringMonthly,
}

// String implements fmt.Stringer.
func (k BillingKind) String() string {
	return string(k)
}

// IsValid reports whether the billing kind is recognized.
func (k BillingKind) IsValid() bool {
	for _, candidate := range validBillingKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseBillingKind converts raw input into a BillingKind.
func ParseBillingKind(value string) (BillingKind, error) {
	for _, candidate := range validBillingKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing kind %q", value)
}
