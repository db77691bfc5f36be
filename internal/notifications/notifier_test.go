package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox/payloads"
)

type stubEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	s.events = append(s.events, event)
	return uuid.New(), nil
}

func TestNotifyCheckoutCompleted(t *testing.T) {
	orgID := uuid.New()
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	units := 10
	emitter := &stubEmitter{}
	notifier, err := NewSubscriptionNotifier(emitter)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	change := subscriptions.Change{
		Transition: subscriptions.Transition{
			OrganizationID: orgID,
			Kind:           subscriptions.KindCheckoutCompleted,
			Source:         enums.TransitionSourceWebhook,
			EventID:        "evt_1",
			OccurredAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Before: models.OrgSubscription{OrganizationID: orgID, PlanID: "decouverte", Status: enums.SubscriptionStatusActive},
		After: models.OrgSubscription{
			OrganizationID:     orgID,
			PlanID:             "evenementielle-pack10",
			Status:             enums.SubscriptionStatusActive,
			PackageExpiry:      &expiry,
			RemainingPackUnits: &units,
		},
	}
	if err := notifier.Notify(context.Background(), nil, change); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	event := emitter.events[0]
	if event.EventType != enums.EventSubscriptionActivated || event.AggregateID != orgID {
		t.Fatalf("unexpected event %+v", event)
	}
	payload, ok := event.Data.(payloads.SubscriptionNotification)
	if !ok {
		t.Fatalf("unexpected payload type %T", event.Data)
	}
	if payload.PreviousPlanID != "decouverte" || payload.ExpiresAt == nil || !payload.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.GatewayEventID != "evt_1" {
		t.Fatalf("expected gateway event id, got %q", payload.GatewayEventID)
	}
}

func TestEventTypeFor(t *testing.T) {
	cases := []struct {
		name   string
		change subscriptions.Change
		want   enums.OutboxEventType
		ok     bool
	}{
		{
			name:   "cancelled",
			change: subscriptions.Change{Transition: subscriptions.Transition{Kind: subscriptions.KindSubscriptionEnded}},
			want:   enums.EventSubscriptionCancelled,
			ok:     true,
		},
		{
			name:   "payment failed",
			change: subscriptions.Change{Transition: subscriptions.Transition{Kind: subscriptions.KindPaymentFailed}},
			want:   enums.EventSubscriptionPaymentFailed,
			ok:     true,
		},
		{
			name: "update into past due",
			change: subscriptions.Change{
				Transition: subscriptions.Transition{Kind: subscriptions.KindSubscriptionUpdated},
				Before:     models.OrgSubscription{Status: enums.SubscriptionStatusActive},
				After:      models.OrgSubscription{Status: enums.SubscriptionStatusPastDue},
			},
			want: enums.EventSubscriptionPaymentFailed,
			ok:   true,
		},
		{
			name: "plain renewal",
			change: subscriptions.Change{
				Transition: subscriptions.Transition{Kind: subscriptions.KindSubscriptionUpdated},
				Before:     models.OrgSubscription{Status: enums.SubscriptionStatusActive},
				After:      models.OrgSubscription{Status: enums.SubscriptionStatusActive},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := EventTypeFor(tc.change)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("EventTypeFor = %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNotifyPropagatesEmitError(t *testing.T) {
	notifier, _ := NewSubscriptionNotifier(&stubEmitter{err: errors.New("outbox down")})
	err := notifier.Notify(context.Background(), nil, subscriptions.Change{
		Transition: subscriptions.Transition{Kind: subscriptions.KindPaymentFailed},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestNotifySkipsSilentChanges(t *testing.T) {
	emitter := &stubEmitter{}
	notifier, _ := NewSubscriptionNotifier(emitter)
	err := notifier.Notify(context.Background(), nil, subscriptions.Change{
		Transition: subscriptions.Transition{Kind: subscriptions.KindSubscriptionUpdated},
	})
	if err != nil || len(emitter.events) != 0 {
		t.Fatalf("expected no event, got %v / %d", err, len(emitter.events))
	}
}
