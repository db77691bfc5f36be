package enums

import "fmt"

// SubscriptionStatus is the local lifecycle state of an organization subscription.
// Gateway spellings are mapped onto these by the gateway package.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// billingLive marks statuses under which the gateway may still charge.
var subscriptionStatuses = map[SubscriptionStatus]struct{ billingLive bool }{
	SubscriptionStatusActive:    {billingLive: true},
	SubscriptionStatusPending:   {billingLive: true},
	SubscriptionStatusPastDue:   {billingLive: true},
	SubscriptionStatusCancelled: {},
}

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool {
	_, ok := subscriptionStatuses[s]
	return ok
}

// BillingLive reports whether a gateway subscription in this state can still produce charges.
func (s SubscriptionStatus) BillingLive() bool {
	return subscriptionStatuses[s].billingLive
}

// BillingLiveStatuses lists every status for which BillingLive is true.
func BillingLiveStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusPending, SubscriptionStatusPastDue}
}

// ParseSubscriptionStatus accepts only local spellings; "canceled" is a gateway value.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	status := SubscriptionStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid subscription status %q", value)
	}
	return status, nil
}
