package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// CheckoutSession correlates a gateway checkout session with the organization and plan it was opened for.
type CheckoutSession struct {
	SessionID      string                      `gorm:"column:session_id;primaryKey"`
	OrganizationID uuid.UUID                   `gorm:"column:organization_id;type:uuid;not null;index"`
	PlanID         string                      `gorm:"column:plan_id;not null"`
	Status         enums.CheckoutSessionStatus `gorm:"column:status;not null"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt      time.Time                   `gorm:"column:expires_at;not null;index"`
	ConsumedAt     *time.Time                  `gorm:"column:consumed_at"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }
