package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
)

type decodeFunc func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoders maps an event type and envelope version to the payload struct a
// consumer should receive. Consumers use it so that a schema bump is a
// registration, not a change to every handler.
type Decoders struct {
	mu    sync.RWMutex
	funcs map[decoderKey]decodeFunc
}

// NewDecoders returns the decoders for every event towline publishes.
func NewDecoders() *Decoders {
	d := &Decoders{funcs: make(map[decoderKey]decodeFunc)}
	Register[payloads.RequestStatusChanged](d, enums.EventRequestStatusChanged, 1)
	Register[payloads.PaymentSettledEvent](d, enums.EventPaymentSettled, 1)
	Register[payloads.TransferInitiatedEvent](d, enums.EventTransferInitiated, 1)
	Register[payloads.TransferUpdatedEvent](d, enums.EventTransferUpdated, 1)
	Register[payloads.PayoutConfiguredEvent](d, enums.EventPayoutConfigured, 1)
	return d
}

// Register installs a JSON decoder producing *T for eventType at version.
func Register[T any](d *Decoders, eventType enums.OutboxEventType, version int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[decoderKey{eventType, version}] = func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Decode returns the typed payload of env. A missing decoder or a body that
// does not parse is a NonRetryableError: redelivery cannot fix either.
func (d *Decoders) Decode(eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (any, error) {
	version := env.Version
	if version == 0 {
		version = 1
	}
	d.mu.RLock()
	fn, ok := d.funcs[decoderKey{eventType, version}]
	d.mu.RUnlock()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("no decoder for %s@v%d", eventType, version))
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("%s payload missing", eventType))
	}
	payload, err := fn(trimmed)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s@v%d: %w", eventType, version, err))
	}
	return payload, nil
}

// DecodeAs is Decode with the result asserted to *T.
func DecodeAs[T any](d *Decoders, eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (*T, error) {
	payload, err := d.Decode(eventType, env)
	if err != nil {
		return nil, err
	}
	typed, ok := payload.(*T)
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%s decoded to %T", eventType, payload))
	}
	return typed, nil
}
