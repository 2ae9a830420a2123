package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
)

func roleOf(s string) enums.ActorRole       { return enums.ActorRole(s) }
func statusOf(s string) enums.RequestStatus { return enums.RequestStatus(s) }

type stubRequests struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ServiceRequest
}

func (s *stubRequests) FindByID(_ context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *stubRequests) setStatus(id uuid.UUID, status enums.RequestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Status = status
}

type persisted struct {
	target Target
	sample Sample
}

type recordingSink struct {
	calls chan persisted
	count atomic.Int64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{calls: make(chan persisted, 64)}
}

func (s *recordingSink) Persist(_ context.Context, target Target, sample Sample) error {
	s.count.Add(1)
	s.calls <- persisted{target: target, sample: sample}
	return nil
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

type tickerFactory struct {
	mu        sync.Mutex
	tickers   []*manualTicker
	intervals []time.Duration
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := &manualTicker{ch: make(chan time.Time)}
	f.tickers = append(f.tickers, tk)
	f.intervals = append(f.intervals, d)
	return tk
}

func (f *tickerFactory) last() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[len(f.tickers)-1]
}

type memoryETAStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryETAStore() *memoryETAStore {
	return &memoryETAStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryETAStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryETAStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryETAStore) ETAKey(requestID string) string { return "tl:eta:" + requestID }

type fixture struct {
	mgr      *Manager
	requests *stubRequests
	sink     *recordingSink
	tickers  *tickerFactory
	etaStore *memoryETAStore
	request  *models.ServiceRequest
	customer uuid.UUID
	provider uuid.UUID
}

func newFixture(t *testing.T, status enums.RequestStatus) *fixture {
	t.Helper()
	customerID := uuid.New()
	providerID := uuid.New()
	lat, lng := accra.Lat, accra.Lng
	req := &models.ServiceRequest{
		ID:          uuid.New(),
		CustomerID:  customerID,
		ProviderID:  &providerID,
		Status:      status,
		CustomerLat: &lat,
		CustomerLng: &lng,
	}
	requests := &stubRequests{rows: map[uuid.UUID]*models.ServiceRequest{req.ID: req}}
	sink := newRecordingSink()
	tickers := &tickerFactory{}
	store := newMemoryETAStore()
	mgr, err := NewManager(ManagerParams{
		Requests: requests,
		Sink:     sink,
		ETA:      NewETACache(store, 2*time.Minute),
		Config: config.TrackingConfig{
			ProviderFlushInterval: 10 * time.Second,
			CustomerFlushInterval: 30 * time.Second,
		},
		Clock:     func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) },
		NewTicker: tickers.New,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return &fixture{
		mgr:      mgr,
		requests: requests,
		sink:     sink,
		tickers:  tickers,
		etaStore: store,
		request:  req,
		customer: customerID,
		provider: providerID,
	}
}

func waitPersist(t *testing.T, sink *recordingSink) persisted {
	t.Helper()
	select {
	case p := <-sink.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return persisted{}
	}
}

func TestActivateIsGatedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusAccepted)

	_, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider)
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("expected precondition for provider before en_route, got %v", err)
	}

	first, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorCustomer, f.customer)
	if err != nil {
		t.Fatalf("activate customer: %v", err)
	}
	second, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorCustomer, f.customer)
	if err != nil {
		t.Fatalf("re-activate customer: %v", err)
	}
	if first != second {
		t.Fatal("expected the same session on re-activation")
	}
	if f.mgr.ActiveLoops() != 1 || f.mgr.ActiveSessions() != 1 {
		t.Fatalf("expected one loop, got loops=%d sessions=%d", f.mgr.ActiveLoops(), f.mgr.ActiveSessions())
	}
	if first.Interval() != 30*time.Second {
		t.Fatalf("expected 30s customer cadence, got %v", first.Interval())
	}

	_, err = f.mgr.Activate(ctx, f.request.ID, enums.ActorCustomer, uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
}

func TestIngestRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	_, err := f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(accra, time.Time{}))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("expected precondition, got %v", err)
	}

	if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_, err = f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, uuid.New(), sampleAt(accra, time.Time{}))
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for another provider, got %v", err)
	}
	_, err = f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, Sample{Lat: 91, Lng: 0})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation for bad latitude, got %v", err)
	}
}

func TestFlushWritesOnlyLatestSample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	session, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if session.Interval() != 10*time.Second {
		t.Fatalf("expected 10s provider cadence, got %v", session.Interval())
	}
	tk := f.tickers.last()

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	start := geo.Offset(accra, -4, 0)
	for i := 0; i < 3; i++ {
		p := geo.Offset(start, 0.1*float64(i), 0)
		if _, err := f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(p, t0.Add(time.Duration(i)*5*time.Second))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	tk.ch <- time.Now()

	got := waitPersist(t, f.sink)
	if !got.sample.RecordedAt.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("expected latest sample flushed, got %v", got.sample.RecordedAt)
	}
	if got.target.ActorID != f.provider || got.target.Role != enums.ActorProvider {
		t.Fatalf("unexpected target %+v", got.target)
	}

	// Nothing new since the last flush.
	tk.ch <- time.Now()
	if n := f.sink.count.Load(); n != 1 {
		t.Fatalf("expected a single flush, got %d", n)
	}

	f.mgr.Deactivate(ctx, f.request.ID, enums.ActorProvider)
	if !tk.stopped.Load() {
		t.Fatal("expected ticker stopped")
	}
	if f.mgr.ActiveLoops() != 0 {
		t.Fatalf("expected loop exited, got %d", f.mgr.ActiveLoops())
	}
	if n := f.sink.count.Load(); n != 1 {
		t.Fatalf("expected no flush after stop, got %d", n)
	}
}

func TestProviderSamplesRefreshETA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
		t.Fatalf("activate: %v", err)
	}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	p := geo.Offset(accra, -4, 0)
	res, err := f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(p, t0))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ETA == nil || !almost(res.ETA.Minutes, 6.0, 0.01) {
		t.Fatalf("expected ~6.0 minutes at default speed, got %+v", res.ETA)
	}

	step := 30 * time.Second
	at := t0
	for i := 0; i < 4; i++ {
		p = geo.Offset(p, 20*step.Hours(), 0)
		at = at.Add(step)
		res, err = f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(p, at))
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	remaining := geo.DistanceKm(p, accra)
	if !almost(res.ETA.SpeedKmh, 20, 0.01) {
		t.Fatalf("expected ~20 km/h, got %v", res.ETA.SpeedKmh)
	}
	if !almost(res.ETA.Minutes, remaining/20*60, 0.01) {
		t.Fatalf("expected eta %v, got %v", remaining/20*60, res.ETA.Minutes)
	}

	cached, err := f.mgr.ETA(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("cached eta: %v", err)
	}
	if !almost(cached.Minutes, res.ETA.Minutes, 1e-9) {
		t.Fatalf("expected cached eta to match, got %v", cached.Minutes)
	}
	if ttl := f.etaStore.ttls["tl:eta:"+f.request.ID.String()]; ttl != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %v", ttl)
	}

	if _, err := f.mgr.ETA(ctx, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown request, got %v", err)
	}
}

func TestActivateDeactivateCyclesLeakNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	for i := 0; i < 100; i++ {
		if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
			t.Fatalf("activate %d: %v", i, err)
		}
		if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorCustomer, f.customer); !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
			t.Fatalf("expected customer gated out while en_route, got %v", err)
		}
		if !f.mgr.Deactivate(ctx, f.request.ID, enums.ActorProvider) {
			t.Fatalf("deactivate %d returned false", i)
		}
	}
	if f.mgr.ActiveLoops() != 0 || f.mgr.ActiveSessions() != 0 {
		t.Fatalf("leaked loops=%d sessions=%d", f.mgr.ActiveLoops(), f.mgr.ActiveSessions())
	}
	f.tickers.mu.Lock()
	defer f.tickers.mu.Unlock()
	if len(f.tickers.tickers) != 100 {
		t.Fatalf("expected 100 tickers, got %d", len(f.tickers.tickers))
	}
	for i, tk := range f.tickers.tickers {
		if !tk.stopped.Load() {
			t.Fatalf("ticker %d not stopped", i)
		}
	}
}

func TestSweepStopsSessionsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if stopped := f.mgr.Sweep(ctx); stopped != 0 {
		t.Fatalf("expected nothing swept, got %d", stopped)
	}
	f.requests.setStatus(f.request.ID, enums.RequestStatusCompleted)
	if stopped := f.mgr.Sweep(ctx); stopped != 1 {
		t.Fatalf("expected one session swept, got %d", stopped)
	}
	if f.mgr.ActiveLoops() != 0 {
		t.Fatalf("expected no loops, got %d", f.mgr.ActiveLoops())
	}

	_, err := f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(accra, time.Time{}))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("expected precondition after sweep, got %v", err)
	}
}

func TestStatusChangedStopsSessionsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)

	if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if stopped := f.mgr.StatusChanged(ctx, f.request.ID, enums.RequestStatusInProgress); stopped != 0 {
		t.Fatalf("in_progress keeps the provider session, stopped %d", stopped)
	}
	if stopped := f.mgr.StatusChanged(ctx, f.request.ID, enums.RequestStatusCompleted); stopped != 1 {
		t.Fatalf("expected the provider session stopped, got %d", stopped)
	}
	if f.mgr.ActiveSessions() != 0 || f.mgr.ActiveLoops() != 0 {
		t.Fatalf("expected nothing running, got sessions=%d loops=%d", f.mgr.ActiveSessions(), f.mgr.ActiveLoops())
	}
	_, err := f.mgr.Ingest(ctx, f.request.ID, enums.ActorProvider, f.provider, sampleAt(accra, time.Time{}))
	if !pkgerrors.IsCode(err, pkgerrors.CodePrecondition) {
		t.Fatalf("expected precondition after completion, got %v", err)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusEnRoute)
	if _, err := f.mgr.Activate(ctx, f.request.ID, enums.ActorProvider, f.provider); err != nil {
		t.Fatalf("activate: %v", err)
	}

	other := &models.ServiceRequest{ID: uuid.New(), CustomerID: uuid.New(), Status: enums.RequestStatusPending}
	f.requests.mu.Lock()
	f.requests.rows[other.ID] = other
	f.requests.mu.Unlock()
	if _, err := f.mgr.Activate(ctx, other.ID, enums.ActorCustomer, other.CustomerID); err != nil {
		t.Fatalf("activate other: %v", err)
	}

	if err := f.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if f.mgr.ActiveLoops() != 0 || f.mgr.ActiveSessions() != 0 {
		t.Fatalf("expected clean shutdown, loops=%d sessions=%d", f.mgr.ActiveLoops(), f.mgr.ActiveSessions())
	}
}

func TestActivateUnknownRequest(t *testing.T) {
	f := newFixture(t, enums.RequestStatusPending)
	_, err := f.mgr.Activate(context.Background(), uuid.New(), enums.ActorCustomer, f.customer)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatal("expected gorm error to be mapped")
	}
}
