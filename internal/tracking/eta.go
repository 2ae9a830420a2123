package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/redis"
)

// ETA is the latest arrival estimate for a request.
type ETA struct {
	RequestID  uuid.UUID `json:"requestId"`
	DistanceKm float64   `json:"distanceKm"`
	SpeedKmh   float64   `json:"speedKmh"`
	Minutes    float64   `json:"etaMinutes"`
	ComputedAt time.Time `json:"computedAt"`
}

type etaStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	ETAKey(requestID string) string
}

// ETACache keeps the last estimate per request in Redis.
type ETACache struct {
	store etaStore
	ttl   time.Duration
}

func NewETACache(store etaStore, ttl time.Duration) *ETACache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ETACache{store: store, ttl: ttl}
}

func (c *ETACache) Put(ctx context.Context, eta ETA) error {
	if c == nil || c.store == nil {
		return nil
	}
	raw, err := json.Marshal(eta)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.store.ETAKey(eta.RequestID.String()), string(raw), c.ttl)
}

// Get returns NotFound when no fresh estimate exists.
func (c *ETACache) Get(ctx context.Context, requestID uuid.UUID) (*ETA, error) {
	if c == nil || c.store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "eta not available")
	}
	raw, err := c.store.Get(ctx, c.store.ETAKey(requestID.String()))
	if err != nil {
		if redis.IsMiss(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "eta not available")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read eta")
	}
	var eta ETA
	if err := json.Unmarshal([]byte(raw), &eta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode eta")
	}
	return &eta, nil
}
