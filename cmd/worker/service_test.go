package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

var healthy = pingFunc(func(context.Context) error { return nil })

func testParams(c consumer) ServiceParams {
	return ServiceParams{
		Config:               &config.Config{},
		Logger:               logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:                   healthy,
		Redis:                healthy,
		PubSub:               healthy,
		NotificationConsumer: c,
	}
}

func TestRunChecksDependenciesFirst(t *testing.T) {
	started := false
	params := testParams(runFunc(func(context.Context) error {
		started = true
		return nil
	}))
	params.Redis = pingFunc(func(context.Context) error { return errors.New("connection refused") })
	svc, err := NewService(params)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "redis not ready")
	require.False(t, started)
}

func TestRunReturnsConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, err := NewService(testParams(runFunc(func(context.Context) error { return boom })))
	require.NoError(t, err)
	require.ErrorIs(t, svc.Run(context.Background()), boom)
}

func TestRunTreatsCleanConsumerExitAsFailure(t *testing.T) {
	svc, err := NewService(testParams(runFunc(func(context.Context) error { return nil })))
	require.NoError(t, err)
	require.ErrorIs(t, svc.Run(context.Background()), errConsumerExited)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, err := NewService(testParams(runFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	missingConsumer := testParams(nil)
	_, err := NewService(missingConsumer)
	require.Error(t, err)

	missingDB := testParams(runFunc(func(context.Context) error { return nil }))
	missingDB.DB = nil
	_, err = NewService(missingDB)
	require.ErrorContains(t, err, "database")
}
