package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

// DomainEvent is what a writer hands to Emit. Data is marshalled into the
// envelope; OccurredAt defaults to now.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Producer      *Producer
	Data          any
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit stores the event inside tx so it commits or rolls back with the state change that produced it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !event.EventType.IsValid() {
		return uuid.Nil, fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	if event.AggregateID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("outbox event %s needs an aggregate id", event.EventType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	id := uuid.New()
	envelope := Envelope{
		Version:    EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt.UTC(),
		Producer:   event.Producer,
		Data:       data,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return uuid.Nil, err
	}
	row := models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       json.RawMessage(payloadJSON),
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return uuid.Nil, err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"outbox_id":    row.ID.String(),
			"event_type":   string(event.EventType),
			"aggregate_id": event.AggregateID.String(),
			"source":       envelope.Source(),
		}), "outbox event queued")
	}
	return row.ID, nil
}
