package gateway

import (
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// Correlation metadata keys written on every checkout session and echoed
// back by Stripe on the session, its subscription and its payment intent.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPlanID         = "plan_id"
)

// MapSubscriptionStatus folds Stripe's subscription states onto the local
// lifecycle. Unknown values map to past_due so access degrades instead of
// staying open.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return enums.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusPending
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCancelled
	default:
		return enums.SubscriptionStatusPastDue
	}
}

// PeriodEndOf returns the latest billing period end across the subscription items.
func PeriodEndOf(sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.Items == nil {
		return nil
	}
	var latest int64
	for _, item := range sub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	if latest == 0 {
		return nil
	}
	end := time.Unix(latest, 0).UTC()
	return &end
}

// PriceRefOf returns the price of the first subscription item.
func PriceRefOf(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if price := sub.Items.Data[0].Price; price != nil {
		return price.ID
	}
	return ""
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
