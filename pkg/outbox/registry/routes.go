package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/outbox"
)

// EventDescriptor says which aggregate owns an event type and which topic
// carries it.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation, with its envelope
// and typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry validates outbox rows before the publisher ships them.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *Decoders
}

var owners = []struct {
	event     enums.OutboxEventType
	aggregate enums.OutboxAggregateType
}{
	{enums.EventRequestStatusChanged, enums.AggregateServiceRequest},
	{enums.EventPaymentSettled, enums.AggregateServiceRequest},
	{enums.EventTransferInitiated, enums.AggregateTransaction},
	{enums.EventTransferUpdated, enums.AggregateTransaction},
	{enums.EventPayoutConfigured, enums.AggregateProvider},
}

// NewEventRegistry routes every event to the domain topic. Subscribers
// select what they handle with the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	r := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]EventDescriptor, len(owners)),
		decoders: NewDecoders(),
	}
	for _, o := range owners {
		r.routes[o.event] = EventDescriptor{EventType: o.event, AggregateType: o.aggregate, Topic: cfg.DomainTopic}
	}
	return r, nil
}

// Descriptor returns the route registered for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	d, ok := r.routes[eventType]
	return d, ok
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case route.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row has %s", event.EventType, route.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s row has no aggregate id", event.EventType))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("envelope: %w", err))
	}
	payload, err := r.decoders.Decode(event.EventType, env)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: route, Envelope: env, Payload: payload}, nil
}
