package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the schema version Emit writes. Consumers reject
// versions newer than the one they were built against.
const EnvelopeVersion = 1

// Producer names the subscription writer behind an event: verify, webhook,
// cancel or resync.
type Producer struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	Source         string    `json:"source,omitempty"`
	Instance       string    `json:"instance,omitempty"`
}

// Envelope is the JSON stored in outbox_events.payload and published as the
// message body. EventID equals the outbox row id so consumers can dedupe on it.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Producer   *Producer       `json:"producer,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses and checks a stored payload.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, env.Validate()
}

func (e Envelope) Validate() error {
	switch {
	case e.Version < 1 || e.Version > EnvelopeVersion:
		return fmt.Errorf("unsupported envelope version %d", e.Version)
	case e.EventID == "":
		return fmt.Errorf("envelope missing eventId")
	}
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("envelope %s has no data", e.EventID)
	}
	return nil
}

// Source is the producing writer, or "" when unknown.
func (e Envelope) Source() string {
	if e.Producer == nil {
		return ""
	}
	return e.Producer.Source
}
