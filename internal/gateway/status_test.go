package gateway

import (
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

func TestMapSubscriptionStatus(t *testing.T) {
	cases := map[stripe.SubscriptionStatus]enums.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            enums.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing:          enums.SubscriptionStatusActive,
		stripe.SubscriptionStatusPastDue:           enums.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid:            enums.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusPaused:            enums.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusIncomplete:        enums.SubscriptionStatusPending,
		stripe.SubscriptionStatusCanceled:          enums.SubscriptionStatusCancelled,
		stripe.SubscriptionStatusIncompleteExpired: enums.SubscriptionStatusCancelled,
		"something_new":                            enums.SubscriptionStatusPastDue,
	}
	for in, want := range cases {
		if got := MapSubscriptionStatus(in); got != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestPeriodEndOfUsesLatestItem(t *testing.T) {
	sub := &stripe.Subscription{Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
		{CurrentPeriodEnd: 100},
		{CurrentPeriodEnd: 300},
		nil,
	}}}
	end := PeriodEndOf(sub)
	if end == nil || end.Unix() != 300 {
		t.Fatalf("expected latest period end, got %v", end)
	}
	if PeriodEndOf(&stripe.Subscription{}) != nil {
		t.Fatalf("subscription without items has no period end")
	}
}
