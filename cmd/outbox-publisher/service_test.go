package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
	"github.com/towline/towline-backend/pkg/outbox/registry"
)

const domainTopic = "towline-domain"

type harness struct {
	svc  *Service
	repo *fakeRepo
	dlq  *fakeDLQRepo
	pubs map[string]*fakePublisher
	db   *fakeDB
}

type harnessOption func(*config.Config, *ServiceParams)

func withMaxAttempts(n int) harnessOption {
	return func(cfg *config.Config, _ *ServiceParams) { cfg.Outbox.MaxAttempts = n }
}

func withDLQTopic(topic string) harnessOption {
	return func(cfg *config.Config, _ *ServiceParams) { cfg.PubSub.DLQTopic = topic }
}

func newHarness(t *testing.T, reg registryResolver, events []models.OutboxEvent, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		repo: &fakeRepo{events: events},
		dlq:  &fakeDLQRepo{},
		pubs: map[string]*fakePublisher{domainTopic: {}},
		db:   &fakeDB{},
	}
	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 5}}
	params := ServiceParams{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            h.db,
		PubSub:        &fakePubSubClient{},
		Repository:    h.repo,
		Registry:      reg,
		DLQRepository: h.dlq,
		PublisherFactory: func(topic string) publisher {
			if p, ok := h.pubs[topic]; ok {
				return p
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(cfg, &params)
	}
	if cfg.PubSub.DLQTopic != "" {
		h.pubs[cfg.PubSub.DLQTopic] = &fakePublisher{}
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func statusEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventRequestStatusChanged,
		AggregateType: enums.AggregateServiceRequest,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t, id.String()),
		AttemptCount:  attempts,
	}
}

func resolvesTo(topic string) *fakeRegistry {
	return &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: topic},
		Payload:    &payloads.RequestStatusChanged{},
	}}
}

func TestNewServiceReportsMissingDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}})
	require.ErrorContains(t, err, "logger")
	require.ErrorContains(t, err, "dlq repository")
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	h := newHarness(t, resolvesTo(domainTopic), nil, func(cfg *config.Config, _ *ServiceParams) {
		cfg.Outbox = config.OutboxConfig{}
	})
	require.Equal(t, defaultBatchSize, h.svc.batchSize)
	require.Equal(t, defaultMaxAttempts, h.svc.maxAttempts)
	require.Equal(t, defaultPollInterval, h.svc.pollInterval)
	require.Equal(t, defaultPublishTimeout, h.svc.publishTimeout)
}

func TestProcessBatchEmpty(t *testing.T) {
	h := newHarness(t, resolvesTo(domainTopic), nil)
	processed, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first, second := statusEvent(t, 0), statusEvent(t, 0)
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{first, second})
	h.pubs[domainTopic].errs = []error{errors.New("unavailable"), nil}

	processed, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []uuid.UUID{first.ID}, h.repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, h.repo.published)
	require.Empty(t, h.dlq.entries)
}

func TestProcessBatchPublishesAllBeforeAwaiting(t *testing.T) {
	events := []models.OutboxEvent{statusEvent(t, 0), statusEvent(t, 0), statusEvent(t, 0)}
	h := newHarness(t, resolvesTo(domainTopic), events)
	pub := h.pubs[domainTopic]

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.sent, 3)
	require.Equal(t, 3, pub.publishedBeforeFirstGet)
}

func TestPublishCarriesRoutingAttributes(t *testing.T) {
	event := statusEvent(t, 0)
	event.EventType = enums.EventPaymentSettled
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{event})

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	sent := h.pubs[domainTopic].sent
	require.Len(t, sent, 1)
	require.Equal(t, map[string]string{
		"event_id":       event.ID.String(),
		"event_type":     string(enums.EventPaymentSettled),
		"aggregate_type": string(enums.AggregateServiceRequest),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}, sent[0].Attributes)
	require.JSONEq(t, string(event.Payload), string(sent[0].Data))
}

func TestUnresolvableEventIsDeadLettered(t *testing.T) {
	event := statusEvent(t, 0)
	h := newHarness(t, &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}, []models.OutboxEvent{event})

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	require.Equal(t, event.ID, entry.EventID)
	require.Equal(t, enums.OutboxDLQReasonUnresolvable, entry.ErrorReason)
	require.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	require.NotNil(t, entry.ErrorMessage)
	require.Contains(t, *entry.ErrorMessage, "invalid payload")
	require.Equal(t, []uuid.UUID{event.ID}, h.repo.terminal)
	require.Empty(t, h.pubs[domainTopic].sent)
}

func TestMissingPublisherIsNonRetryable(t *testing.T) {
	event := statusEvent(t, 0)
	h := newHarness(t, resolvesTo("unknown-topic"), []models.OutboxEvent{event})

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, h.dlq.entries[0].ErrorReason)
}

func TestNonRetryablePublishErrorIsDeadLettered(t *testing.T) {
	event := statusEvent(t, 0)
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{event})
	h.pubs[domainTopic].errs = []error{registry.NewNonRetryableError(errors.New("message too large"))}

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, h.dlq.entries[0].ErrorReason)
	require.Empty(t, h.repo.failed)
}

func TestMaxAttemptsIsDeadLettered(t *testing.T) {
	event := statusEvent(t, 1)
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{event}, withMaxAttempts(2))
	h.pubs[domainTopic].errs = []error{errors.New("deadline exceeded")}

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, entry.ErrorReason)
	require.Contains(t, *entry.ErrorMessage, "max publish attempts reached")
	require.Empty(t, h.repo.failed)
}

func TestDeadLetterMirroredAfterCommit(t *testing.T) {
	event := statusEvent(t, 4)
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{event}, withDLQTopic("towline-dlq"))
	h.pubs[domainTopic].errs = []error{errors.New("unavailable")}
	mirror := h.pubs["towline-dlq"]

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, mirror.sent, 1)
	require.True(t, h.db.committed, "mirror must follow commit")
	attrs := mirror.sent[0].Attributes
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts.String(), attrs["error_reason"])
	require.Equal(t, "true", attrs["replayable"])
	require.Equal(t, event.ID.String(), attrs["event_id"])
}

func TestUnresolvableMirrorIsNotReplayable(t *testing.T) {
	event := statusEvent(t, 0)
	h := newHarness(t, &fakeRegistry{err: errors.New("unknown event type")}, []models.OutboxEvent{event}, withDLQTopic("towline-dlq"))

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	mirror := h.pubs["towline-dlq"]
	require.Len(t, mirror.sent, 1)
	require.NotContains(t, mirror.sent[0].Attributes, "replayable")
}

func TestRolledBackBatchSkipsMirror(t *testing.T) {
	event := statusEvent(t, 0)
	h := newHarness(t, &fakeRegistry{err: errors.New("unknown event type")}, []models.OutboxEvent{event}, withDLQTopic("towline-dlq"))
	h.dlq.err = errors.New("disk full")

	_, err := h.svc.processBatch(context.Background())
	require.ErrorContains(t, err, "insert dlq")
	require.Empty(t, h.pubs["towline-dlq"].sent)
}

func TestProcessBatchCountsOutcomes(t *testing.T) {
	ok, retry := statusEvent(t, 0), statusEvent(t, 0)
	h := newHarness(t, resolvesTo(domainTopic), []models.OutboxEvent{ok, retry}, func(_ *config.Config, p *ServiceParams) {
		p.Metrics = metrics.NewOutboxMetrics(prometheus.NewRegistry())
	})
	h.pubs[domainTopic].errs = []error{nil, errors.New("unavailable")}

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ok.ID}, h.repo.published)
	require.Equal(t, []uuid.UUID{retry.ID}, h.repo.failed)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := backoff{base: time.Second, max: 5 * time.Second}
	require.GreaterOrEqual(t, b.fail(), 2*time.Second)
	require.GreaterOrEqual(t, b.fail(), 4*time.Second)
	d := b.fail()
	require.GreaterOrEqual(t, d, 5*time.Second)
	require.Less(t, d, 5*time.Second+jitterWindow)
	b.reset()
	require.Less(t, b.fail(), 2*time.Second+jitterWindow)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, resolvesTo(domainTopic), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.svc.Run(ctx), context.Canceled)
}

func envelopeJSON(t *testing.T, eventID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return raw
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct {
	committed bool
}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	f.committed = true
	return nil
}

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

// fakePublisher pops one error per Publish call; a nil entry or an
// exhausted list means success.
type fakePublisher struct {
	errs                    []error
	sent                    []*gcppubsub.Message
	publishedBeforeFirstGet int
	awaited                 bool
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	return &fakeResult{pub: f, err: err}
}

type fakeResult struct {
	pub *fakePublisher
	err error
}

func (r *fakeResult) Get(context.Context) (string, error) {
	if !r.pub.awaited {
		r.pub.awaited = true
		r.pub.publishedBeforeFirstGet = len(r.pub.sent)
	}
	return "server-id", r.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope = outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()}
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
	err     error
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}
