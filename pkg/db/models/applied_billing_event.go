package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// AppliedBillingEvent records every transition key consumed for an organization.
// The unique (organization_id, idempotency_key) pair is what makes a transition apply at most once.
type AppliedBillingEvent struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID              `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_applied_billing_events_org_key,priority:1"`
	IdempotencyKey string                 `gorm:"column:idempotency_key;not null;uniqueIndex:ux_applied_billing_events_org_key,priority:2"`
	EventID        *string                `gorm:"column:event_id"`
	Kind           string                 `gorm:"column:kind;not null"`
	Source         enums.TransitionSource `gorm:"column:source;not null"`
	Outcome        string                 `gorm:"column:outcome;not null"`
	AppliedAt      time.Time              `gorm:"column:applied_at;not null"`
}

func (AppliedBillingEvent) TableName() string { return "applied_billing_events" }

func (e *AppliedBillingEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
