package main

import (
	"context"

	"github.com/towline/towline-backend/internal/customers"
	"github.com/towline/towline-backend/internal/notifications"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/pkg/bootstrap"
	"github.com/towline/towline-backend/pkg/fcm"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox/idempotency"
)

func main() {
	boot := context.Background()
	rt, err := bootstrap.Start(boot, "worker", bootstrap.WithRedis(), bootstrap.WithPubSub())
	if err != nil {
		bootstrap.Fatal("worker", err)
	}
	cfg := rt.Config

	consumer, err := newNotificationConsumer(boot, rt)
	if err != nil {
		rt.Exit(boot, "failed to create notification consumer", err)
	}

	service, err := NewService(ServiceParams{
		Config:               cfg,
		Logger:               rt.Logger,
		DB:                   rt.DB,
		Redis:                rt.Redis,
		PubSub:               rt.PubSub,
		NotificationConsumer: consumer,
	})
	if err != nil {
		rt.Exit(boot, "failed to create worker", err)
	}

	ctx, stop := rt.SignalContext(map[string]any{"push": cfg.FeatureFlags.PushEnabled})
	defer stop()
	metrics.Serve(ctx, cfg.App.MetricsAddr, rt.Logger)
	rt.Logger.Info(ctx, "starting worker")

	rt.Finish(ctx, service.Run(ctx))
}

func newNotificationConsumer(ctx context.Context, rt *bootstrap.Runtime) (*notifications.Consumer, error) {
	claims, err := idempotency.NewManager(rt.Redis, rt.Config.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return nil, err
	}
	repo := notifications.NewRepository(rt.DB.DB())
	sub := rt.PubSub.NotificationSubscription()
	if !rt.Config.FeatureFlags.PushEnabled {
		// Untyped nils keep push disabled inside the consumer.
		return notifications.NewConsumer(repo, sub, claims, nil, nil, rt.Logger)
	}

	pusher, err := fcm.New(ctx, rt.Config.Firebase)
	if err != nil {
		return nil, err
	}
	devices := notifications.NewDirectory(customers.NewRepository(rt.DB.DB()), providers.NewRepository(rt.DB.DB()))
	return notifications.NewConsumer(repo, sub, claims, pusher, devices, rt.Logger)
}
