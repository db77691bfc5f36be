package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// OrgSubscription is the single subscription record owned by an organization.
type OrgSubscription struct {
	OrganizationID          uuid.UUID                `gorm:"column:organization_id;type:uuid;primaryKey"`
	PlanID                  string                   `gorm:"column:plan_id;not null"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;not null"`
	ExternalCustomerRef     *string                  `gorm:"column:external_customer_ref;index"`
	ExternalSubscriptionRef *string                  `gorm:"column:external_subscription_ref;index"`
	CurrentPeriodEnd        *time.Time               `gorm:"column:current_period_end"`
	PackageExpiry           *time.Time               `gorm:"column:package_expiry"`
	RemainingPackUnits      *int                     `gorm:"column:remaining_pack_units"`
	LastAppliedEventID      *string                  `gorm:"column:last_applied_event_id"`
	LastGatewayEventAt      *time.Time               `gorm:"column:last_gateway_event_at"`
	Version                 int64                    `gorm:"column:version;not null;default:0"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrgSubscription) TableName() string { return "org_subscriptions" }
