package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/redis"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	// DefaultLease bounds how long a crashed worker's claim blocks redelivery.
	DefaultLease = 5 * time.Minute
)

// Claim is the outcome of trying to take ownership of an event.
type Claim int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed Claim = iota
	// InFlight means another worker holds an unexpired claim.
	InFlight
	// Done means the event was already handled.
	Done
)

func (c Claim) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	}
	return fmt.Sprintf("claim(%d)", int(c))
}

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager deduplicates Pub/Sub deliveries per consumer. A delivery first
// takes a short processing lease; success upgrades it to a done marker kept
// for the retention TTL. Keys follow
// tl:idempotency:evt:processed:<consumer>:<event_id>.
type Manager struct {
	store store
	ttl   time.Duration
	lease time.Duration
}

func NewManager(s store, ttl time.Duration) (*Manager, error) {
	if s == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Manager{store: s, ttl: ttl, lease: lease}, nil
}

// Claim tries to take the processing lease for eventID.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return 0, err
	}
	ok, err := m.store.SetNX(ctx, key, markerProcessing, m.lease)
	if err != nil {
		return 0, err
	}
	if ok {
		return Claimed, nil
	}
	value, err := m.store.Get(ctx, key)
	switch {
	case redis.IsMiss(err):
		// The lease expired between SETNX and GET; let redelivery retry.
		return InFlight, nil
	case err != nil:
		return 0, err
	case value == markerDone:
		return Done, nil
	}
	return InFlight, nil
}

// Complete records eventID as handled for the retention TTL.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops the claim so a redelivered message is processed again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
