package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
}

// Service drains the transactional outbox onto Pub/Sub. Each batch is
// claimed with SKIP LOCKED inside one transaction, so replicas never
// publish the same row concurrently.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	metrics          *metrics.OutboxMetrics
	publisherFactory publisherFactory
	dlqTopic         string
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	publishTimeout   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var missing []string
	for _, dep := range []struct {
		name string
		ok   bool
	}{
		{"config", params.Config != nil},
		{"logger", params.Logger != nil},
		{"database client", params.DB != nil},
		{"pubsub client", params.PubSub != nil},
		{"outbox repository", params.Repository != nil},
		{"event registry", params.Registry != nil},
		{"dlq repository", params.DLQRepository != nil},
	} {
		if !dep.ok {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("outbox publisher missing %s", strings.Join(missing, ", "))
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = pubsubPublishers(params.PubSub)
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		metrics:          params.Metrics,
		publisherFactory: factory,
		dlqTopic:         params.Config.PubSub.DLQTopic,
		batchSize:        positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     positiveOr(time.Duration(cfg.PollIntervalMS)*time.Millisecond, defaultPollInterval),
		publishTimeout:   positiveOr(cfg.PublishTimeout, defaultPublishTimeout),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval; a failing batch
// backs off exponentially up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	wait := backoff{base: s.pollInterval, max: maxIdleBackoff}
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			err = sleep(ctx, wait.fail())
		case processed:
			wait.reset()
			continue
		default:
			wait.reset()
			err = sleep(ctx, wait.idle())
		}
		if err != nil {
			return err
		}
	}
}

// backoff doubles the wait after each failed batch.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func (b *backoff) reset() { b.current = 0 }

func (b *backoff) idle() time.Duration { return jitter(b.base) }

func (b *backoff) fail() time.Duration {
	if b.current == 0 {
		b.current = b.base
	}
	b.current = min(b.current*2, b.max)
	return jitter(b.current)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
