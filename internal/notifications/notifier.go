package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox/payloads"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error)
}

// SubscriptionNotifier turns applied transitions into outbox events for the billing notification topic.
type SubscriptionNotifier struct {
	outbox emitter
}

func NewSubscriptionNotifier(svc emitter) (*SubscriptionNotifier, error) {
	if svc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &SubscriptionNotifier{outbox: svc}, nil
}

// Notify queues at most one event per change. Transitions that users do not
// need to hear about, such as a status refresh, queue nothing.
func (n *SubscriptionNotifier) Notify(ctx context.Context, tx *gorm.DB, change subscriptions.Change) error {
	eventType, ok := EventTypeFor(change)
	if !ok {
		return nil
	}
	_, err := n.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   change.After.OrganizationID,
		Producer: &outbox.Producer{
			OrganizationID: change.After.OrganizationID,
			Source:         string(change.Transition.Source),
		},
		Data: BuildPayload(change),
	})
	return err
}

// EventTypeFor maps a change to its notification, if any.
func EventTypeFor(change subscriptions.Change) (enums.OutboxEventType, bool) {
	switch change.Transition.Kind {
	case subscriptions.KindCheckoutCompleted:
		return enums.EventSubscriptionActivated, true
	case subscriptions.KindSubscriptionEnded:
		return enums.EventSubscriptionCancelled, true
	case subscriptions.KindPaymentFailed:
		return enums.EventSubscriptionPaymentFailed, true
	case subscriptions.KindSubscriptionUpdated:
		if change.Before.Status != enums.SubscriptionStatusPastDue && change.After.Status == enums.SubscriptionStatusPastDue {
			return enums.EventSubscriptionPaymentFailed, true
		}
	}
	return "", false
}

func BuildPayload(change subscriptions.Change) payloads.SubscriptionNotification {
	after := change.After
	payload := payloads.SubscriptionNotification{
		OrganizationID:     after.OrganizationID,
		PlanID:             after.PlanID,
		Status:             string(after.Status),
		Source:             string(change.Transition.Source),
		ExpiresAt:          expiryOf(after),
		RemainingPackUnits: after.RemainingPackUnits,
		GatewayEventID:     change.Transition.EventID,
		OccurredAt:         change.Transition.OccurredAt,
	}
	if change.Before.PlanID != after.PlanID {
		payload.PreviousPlanID = change.Before.PlanID
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = after.UpdatedAt
	}
	return payload
}

func expiryOf(sub models.OrgSubscription) *time.Time {
	if sub.PackageExpiry != nil {
		return sub.PackageExpiry
	}
	return sub.CurrentPeriodEnd
}
