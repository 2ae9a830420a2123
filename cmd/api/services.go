package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/towline/towline-backend/api/routes"
	"github.com/towline/towline-backend/internal/customers"
	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/matching"
	"github.com/towline/towline-backend/internal/notifications"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/internal/requests"
	"github.com/towline/towline-backend/internal/settlement"
	"github.com/towline/towline-backend/internal/tracking"
	paystackwebhook "github.com/towline/towline-backend/internal/webhooks/paystack"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/paystack"
	"github.com/towline/towline-backend/pkg/redis"
)

type application struct {
	routes   routes.Services
	tracking *tracking.Manager
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*application, error) {
	gormDB := dbClient.DB()
	requestRepo := ledger.NewRequestRepository(gormDB)
	customerRepo := customers.NewRepository(gormDB)
	providerRepo := providers.NewRepository(gormDB)
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

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

	matchingSvc, err := matching.NewService(matching.ServiceParams{
		Providers: providerRepo,
		Requests:  requestRepo,
		Lifecycle: lifecycleSvc,
		Config:    cfg.Matching,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("matching service: %w", err)
	}

	sink, err := tracking.NewStoreSink(requestRepo, providerRepo, logg)
	if err != nil {
		return nil, fmt.Errorf("tracking sink: %w", err)
	}
	trackingMgr, err := tracking.NewManager(tracking.ManagerParams{
		Requests: requestRepo,
		Sink:     sink,
		ETA:      tracking.NewETACache(redisClient, cfg.Tracking.ETACacheTTL),
		Config:   cfg.Tracking,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("tracking manager: %w", err)
	}

	requestSvc, err := requests.NewService(requests.ServiceParams{
		TxRunner:  dbClient,
		Requests:  requestRepo,
		Customers: customerRepo,
		Providers: providerRepo,
		Lifecycle: lifecycleSvc,
		Matcher:   matchingSvc,
		Tracking:  trackingMgr,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("requests service: %w", err)
	}

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
	engine, err := settlement.NewEngine(settlement.EngineParams{
		TxRunner:     dbClient,
		Requests:     requestRepo,
		Transactions: ledger.NewTransactionRepository(gormDB),
		Providers:    providerRepo,
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
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	providerSvc, err := providers.NewService(providerRepo, logg, nil)
	if err != nil {
		return nil, fmt.Errorf("providers service: %w", err)
	}

	devices := notifications.NewDirectory(customerRepo, providerRepo)
	notificationSvc, err := notifications.NewService(notifications.NewRepository(gormDB), devices.Writers())
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	return &application{
		routes: routes.Services{
			Requests:      requestSvc,
			Matching:      matchingSvc,
			Tracking:      trackingMgr,
			Payments:      engine,
			Providers:     providerSvc,
			Notifications: notificationSvc,
			Webhooks:      engine,
		},
		tracking: trackingMgr,
	}, nil
}
