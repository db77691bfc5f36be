package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// OutboxEvent is a subscription notification written in the same transaction
// as the lifecycle change it describes. The relay owns every column after insert.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null;index:idx_outbox_events_aggregate,priority:1"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index:idx_outbox_events_aggregate,priority:2"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
	return nil
}

// NextAttempt is the attempt number the relay is about to make.
func (e OutboxEvent) NextAttempt() int { return e.AttemptCount + 1 }

// Exhausted reports whether the upcoming attempt is the last one allowed.
func (e OutboxEvent) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && e.NextAttempt() >= maxAttempts
}
