package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/towline/towline-backend/internal/cron"
	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/notifications"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/internal/settlement"
	paystackwebhook "github.com/towline/towline-backend/internal/webhooks/paystack"
	"github.com/towline/towline-backend/pkg/bootstrap"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/paystack"
	"github.com/towline/towline-backend/pkg/redis"
)

const kind = "cron-worker"

func main() {
	boot := context.Background()
	rt, err := bootstrap.Start(boot, kind, bootstrap.WithRedis())
	if err != nil {
		bootstrap.Fatal(kind, err)
	}
	cfg := rt.Config

	engine, err := newSettlementEngine(cfg, rt.Logger, rt.DB, rt.Redis)
	if err != nil {
		rt.Exit(boot, "failed to create settlement engine", err)
	}
	jobs, err := buildJobs(cfg, rt.Logger, rt.DB, engine)
	if err != nil {
		rt.Exit(boot, "failed to build cron jobs", err)
	}
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(kind+":"+envOrLocal(cfg.App.Env)), lockTTL(cfg, len(jobs)))
	if err != nil {
		rt.Exit(boot, "failed to create cron lock", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     rt.Logger,
		Registry:   cron.NewRegistry(jobs...),
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		rt.Exit(boot, "failed to create cron service", err)
	}

	ctx, stop := rt.SignalContext(map[string]any{"jobs": len(jobs)})
	defer stop()
	metrics.Serve(ctx, cfg.App.MetricsAddr, rt.Logger)
	rt.Logger.Info(ctx, "starting cron worker")

	rt.Finish(ctx, service.Run(ctx))
}

// lockTTL covers a pass in which every job runs to its timeout.
func lockTTL(cfg *config.Config, jobs int) time.Duration {
	return cfg.Cron.Interval + time.Duration(jobs)*cfg.Cron.JobTimeout
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, engine *settlement.Engine) ([]cron.Entry, error) {
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("notification cleanup job: %w", err)
	}

	providerOffline, err := cron.NewProviderOfflineJob(cron.ProviderOfflineJobParams{
		Logger:     logg,
		Repository: providers.NewRepository(dbClient.DB()),
		After:      cfg.Cron.ProviderOfflineAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("provider offline job: %w", err)
	}

	paymentReconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:     logg,
		Reconciler: engine,
		After:      cfg.Settlement.ReconcileAfter,
		BatchSize:  cfg.Cron.PaymentReconcileBatchMax,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconcile job: %w", err)
	}

	return []cron.Entry{
		{Job: outboxRetention, Every: cfg.Cron.RetentionEvery},
		{Job: notificationCleanup, Every: cfg.Cron.RetentionEvery},
		{Job: providerOffline},
		{Job: paymentReconcile},
	}, nil
}

func newSettlementEngine(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*settlement.Engine, error) {
	gateway, err := paystack.NewClient(cfg.Paystack.SecretKey,
		paystack.WithBaseURL(cfg.Paystack.BaseURL),
		paystack.WithTimeout(cfg.Paystack.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("paystack client: %w", err)
	}
	guard, err := paystackwebhook.NewGuard(redisClient, cfg.Eventing.WebhookGuardTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}

	requestRepo := ledger.NewRequestRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	lifecycleSvc, err := lifecycle.NewService(lifecycle.ServiceParams{
		Machine:  lifecycle.NewMachine(),
		TxRunner: dbClient,
		Requests: requestRepo,
		Outbox:   outboxSvc,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle service: %w", err)
	}

	return settlement.NewEngine(settlement.EngineParams{
		TxRunner:     dbClient,
		Requests:     requestRepo,
		Transactions: ledger.NewTransactionRepository(dbClient.DB()),
		Providers:    providers.NewRepository(dbClient.DB()),
		Lifecycle:    lifecycleSvc,
		Outbox:       outboxSvc,
		Gateway:      gateway,
		Guard:        guard,
		Locker:       redisClient,
		Metrics:      metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		Settlement:   cfg.Settlement,
		Paystack:     cfg.Paystack,
		Logger:       logg,
	})
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
