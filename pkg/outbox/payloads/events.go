package payloads

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionNotification is published for every billing notification event.
// Consumers branch on the outbox event type carried in the message attributes.
type SubscriptionNotification struct {
	OrganizationID     uuid.UUID  `json:"organizationId"`
	PlanID             string     `json:"planId"`
	PreviousPlanID     string     `json:"previousPlanId,omitempty"`
	Status             string     `json:"status"`
	Source             string     `json:"source"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	RemainingPackUnits *int       `json:"remainingPackUnits,omitempty"`
	GatewayEventID     string     `json:"gatewayEventId,omitempty"`
	OccurredAt         time.Time  `json:"occurredAt"`
}
