package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ActorID *uuid.UUID      `json:"actorId,omitempty"`
	Role    enums.ActorRole `json:"role"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored or delivered envelope.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, err
	}
	return env, nil
}

// ParsedEventID returns the envelope event id as a uuid.
func (e PayloadEnvelope) ParsedEventID() (uuid.UUID, error) {
	return uuid.Parse(e.EventID)
}
