package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/internal/entitlements"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// Snapshot is the read model returned to callers after any lifecycle operation.
type Snapshot struct {
	OrganizationID         uuid.UUID                `json:"organizationId"`
	PlanID                 string                   `json:"planId"`
	PlanName               string                   `json:"planName,omitempty"`
	BillingKind            enums.BillingKind        `json:"billingKind,omitempty"`
	Status                 enums.SubscriptionStatus `json:"status"`
	ExpiresAt              *time.Time               `json:"expiresAt,omitempty"`
	DaysUntilExpiry        *int                     `json:"daysUntilExpiry,omitempty"`
	RemainingPackUnits     *int                     `json:"remainingPackUnits,omitempty"`
	Entitlement            entitlements.Verdict     `json:"entitlement"`
	HasGatewaySubscription bool                     `json:"hasGatewaySubscription"`
	LastAppliedEventID     *string                  `json:"lastAppliedEventId,omitempty"`
	Version                int64                    `json:"version"`
	UpdatedAt              time.Time                `json:"updatedAt"`
}

func BuildSnapshot(sub models.OrgSubscription, evaluator *entitlements.Evaluator) Snapshot {
	report := evaluator.Report(sub)
	snapshot := Snapshot{
		OrganizationID:         sub.OrganizationID,
		PlanID:                 sub.PlanID,
		Status:                 sub.Status,
		ExpiresAt:              report.Expiry,
		DaysUntilExpiry:        report.DaysUntilExpiry,
		RemainingPackUnits:     sub.RemainingPackUnits,
		Entitlement:            report.Verdict,
		HasGatewaySubscription: sub.ExternalSubscriptionRef != nil,
		LastAppliedEventID:     sub.LastAppliedEventID,
		Version:                sub.Version,
		UpdatedAt:              sub.UpdatedAt,
	}
	if report.Plan != nil {
		snapshot.PlanID = report.Plan.ID
		snapshot.PlanName = report.Plan.Name
		snapshot.BillingKind = report.Plan.BillingKind
	}
	return snapshot
}
