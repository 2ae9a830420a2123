// Package paystackwebhook decodes Paystack deliveries and guards against
// reprocessing repeats.
package paystackwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/towline/towline-backend/pkg/redis"
)

const Scope = "paystack_webhook"

// Guard marks deliveries as seen in Redis. The database constraints remain
// the source of truth; the guard only saves repeated work.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, scope: Scope}, nil
}

// CheckAndMark reports whether key was already seen, marking it otherwise.
func (g *Guard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("delivery key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook guard: %w", err)
	}
	return !set, nil
}

// Release forgets key so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
