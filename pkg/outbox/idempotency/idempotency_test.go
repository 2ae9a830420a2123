package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type entry struct {
	value string
	ttl   time.Duration
}

type memStore struct {
	data map[string]entry
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string]entry{}} }

func (m *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = entry{value: value.(string), ttl: ttl}
	return true, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = entry{value: value.(string), ttl: ttl}
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	e, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return e.value, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "tl:idempotency:" + scope + ":" + id
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()
	key := "tl:idempotency:evt:processed:request-notifications:" + eventID.String()

	claim, err := manager.Claim(ctx, "request-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, claim)
	require.Equal(t, entry{value: markerProcessing, ttl: DefaultLease}, store.data[key])

	claim, err = manager.Claim(ctx, "request-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, InFlight, claim)

	require.NoError(t, manager.Complete(ctx, "request-notifications", eventID))
	require.Equal(t, entry{value: markerDone, ttl: 24 * time.Hour}, store.data[key])

	claim, err = manager.Claim(ctx, "request-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Done, claim)
}

func TestReleaseAllowsReprocessing(t *testing.T) {
	ctx := context.Background()
	manager, err := NewManager(newMemStore(), time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()

	_, err = manager.Claim(ctx, "c", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, "c", eventID))

	claim, err := manager.Claim(ctx, "c", eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, claim)
}

func TestConsumersAreIsolated(t *testing.T) {
	ctx := context.Background()
	manager, err := NewManager(newMemStore(), time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()

	require.NoError(t, manager.Complete(ctx, "request-notifications", eventID))
	claim, err := manager.Claim(ctx, "payout-audit", eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, claim)
}

func TestLeaseNeverExceedsTTL(t *testing.T) {
	store := newMemStore()
	manager, err := NewManager(store, time.Minute)
	require.NoError(t, err)
	eventID := uuid.New()

	_, err = manager.Claim(context.Background(), "c", eventID)
	require.NoError(t, err)
	require.Equal(t, time.Minute, store.data["tl:idempotency:evt:processed:c:"+eventID.String()].ttl)
}

func TestClaimErrors(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("boom")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "c", uuid.New())
	require.Error(t, err)
	_, err = manager.Claim(context.Background(), "", uuid.New())
	require.Error(t, err)
	_, err = manager.Claim(context.Background(), "c", uuid.Nil)
	require.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	require.Error(t, err)
	_, err = NewManager(newMemStore(), -time.Second)
	require.Error(t, err)
}
