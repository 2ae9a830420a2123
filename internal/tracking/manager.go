package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
	"github.com/towline/towline-backend/pkg/logger"
)

type requestReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error)
}

type ManagerParams struct {
	Requests  requestReader
	Sink      Sink
	ETA       *ETACache
	Config    config.TrackingConfig
	Logger    *logger.Logger
	Clock     func() time.Time
	NewTicker func(time.Duration) Ticker
}

// Manager owns every live session, keyed by request and role.
type Manager struct {
	requests  requestReader
	sink      Sink
	eta       *ETACache
	cfg       config.TrackingConfig
	logg      *logger.Logger
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	mu         sync.Mutex
	sessions   map[Key]*Session
	estimators map[uuid.UUID]*Estimator
	loops      atomic.Int64
}

// IngestResult reports what happened to a sample.
type IngestResult struct {
	Key Key  `json:"-"`
	ETA *ETA `json:"eta,omitempty"`
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Requests == nil {
		return nil, errors.New("request reader required")
	}
	if params.Sink == nil {
		return nil, errors.New("tracking sink required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	newTicker := params.NewTicker
	if newTicker == nil {
		newTicker = NewTicker
	}
	cfg := params.Config
	if cfg.ProviderFlushInterval <= 0 {
		cfg.ProviderFlushInterval = 10 * time.Second
	}
	if cfg.CustomerFlushInterval <= 0 {
		cfg.CustomerFlushInterval = 30 * time.Second
	}
	return &Manager{
		requests:   params.Requests,
		sink:       params.Sink,
		eta:        params.ETA,
		cfg:        cfg,
		logg:       params.Logger,
		now:        clock,
		newTicker:  newTicker,
		sessions:   map[Key]*Session{},
		estimators: map[uuid.UUID]*Estimator{},
	}, nil
}

func (m *Manager) interval(role enums.ActorRole) time.Duration {
	if role == enums.ActorProvider {
		return m.cfg.ProviderFlushInterval
	}
	return m.cfg.CustomerFlushInterval
}

// Activate starts a session for the caller when the request allows it.
// Activating an existing session returns it unchanged.
func (m *Manager) Activate(ctx context.Context, requestID uuid.UUID, role enums.ActorRole, actorID uuid.UUID) (*Session, error) {
	if role != enums.ActorCustomer && role != enums.ActorProvider {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers and providers can be tracked")
	}
	req, err := m.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := checkParticipant(req, role, actorID); err != nil {
		return nil, err
	}
	if !IsActive(role, req.Status) {
		return nil, pkgerrors.Newf(pkgerrors.CodePrecondition, "tracking is not available while request is %s", req.Status).
			WithDetails(map[string]string{"status": string(req.Status), "role": string(role)})
	}

	key := Key{RequestID: requestID, Role: role}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[key]; ok {
		return existing, nil
	}
	session := newSession(Target{Key: key, ActorID: actorID}, m.interval(role), m.sink, m.logg, &m.loops)
	session.start(m.newTicker(session.interval))
	m.sessions[key] = session
	if role == enums.ActorProvider {
		if _, ok := m.estimators[requestID]; !ok {
			m.estimators[requestID] = NewEstimator()
		}
	}

	if m.logg != nil {
		logCtx := m.logg.WithServiceRequestID(ctx, requestID.String())
		m.logg.Info(m.logg.WithActorRole(logCtx, string(role)), "tracking session started")
	}
	return session, nil
}

// Deactivate stops the session if one is running.
func (m *Manager) Deactivate(ctx context.Context, requestID uuid.UUID, role enums.ActorRole) bool {
	key := Key{RequestID: requestID, Role: role}
	m.mu.Lock()
	session, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		if role == enums.ActorProvider {
			delete(m.estimators, requestID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	session.Stop()

	if m.logg != nil {
		logCtx := m.logg.WithServiceRequestID(ctx, requestID.String())
		m.logg.Info(m.logg.WithActorRole(logCtx, string(role)), "tracking session stopped")
	}
	return true
}

// StatusChanged stops the request's sessions whose tracking window does not
// include status, and reports how many it stopped.
func (m *Manager) StatusChanged(ctx context.Context, requestID uuid.UUID, status enums.RequestStatus) int {
	stopped := 0
	for _, role := range []enums.ActorRole{enums.ActorCustomer, enums.ActorProvider} {
		if IsActive(role, status) {
			continue
		}
		if m.Deactivate(ctx, requestID, role) {
			stopped++
		}
	}
	return stopped
}

// Ingest routes a sample to its session. Provider samples also refresh the
// arrival estimate against the customer's location.
func (m *Manager) Ingest(ctx context.Context, requestID uuid.UUID, role enums.ActorRole, actorID uuid.UUID, sample Sample) (*IngestResult, error) {
	if err := sample.validate(); err != nil {
		return nil, err
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = m.now()
	}
	sample.RecordedAt = sample.RecordedAt.UTC()

	key := Key{RequestID: requestID, Role: role}
	m.mu.Lock()
	session, ok := m.sessions[key]
	estimator := m.estimators[requestID]
	m.mu.Unlock()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "tracking session is not active")
	}
	if session.target.ActorID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "tracking session belongs to another actor")
	}
	if err := session.Offer(ctx, sample); err != nil {
		return nil, err
	}

	result := &IngestResult{Key: key}
	if role != enums.ActorProvider || estimator == nil {
		return result, nil
	}
	estimator.Observe(sample)

	req, err := m.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	customer, ok := geo.PointFrom(req.CustomerLat, req.CustomerLng)
	if !ok {
		return result, nil
	}
	dist := geo.DistanceKm(sample.Point(), customer)
	eta := ETA{
		RequestID:  requestID,
		DistanceKm: dist,
		SpeedKmh:   estimator.SpeedKmh(),
		Minutes:    estimator.ETA(dist),
		ComputedAt: m.now().UTC(),
	}
	result.ETA = &eta
	if err := m.eta.Put(ctx, eta); err != nil && m.logg != nil {
		m.logg.Warn(m.logg.WithServiceRequestID(ctx, requestID.String()), "eta cache write failed: "+err.Error())
	}
	return result, nil
}

// ETA returns the cached estimate for a request.
func (m *Manager) ETA(ctx context.Context, requestID uuid.UUID) (*ETA, error) {
	return m.eta.Get(ctx, requestID)
}

// Sweep stops sessions whose request has left the tracking window.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	stopped := 0
	for _, key := range keys {
		req, err := m.requests.FindByID(ctx, key.RequestID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			if m.logg != nil {
				m.logg.Error(m.logg.WithServiceRequestID(ctx, key.RequestID.String()), "tracking sweep lookup failed", err)
			}
			continue
		}
		if req != nil && IsActive(key.Role, req.Status) {
			continue
		}
		if m.Deactivate(ctx, key.RequestID, key.Role) {
			stopped++
		}
	}
	return stopped
}

// Run sweeps on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Shutdown stops every session, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[Key]*Session{}
	m.estimators = map[uuid.UUID]*Estimator{}
	m.mu.Unlock()

	results := make(chan error, len(sessions))
	for _, session := range sessions {
		go func(s *Session) {
			results <- s.StopContext(ctx)
		}(session)
	}
	var err error
	for range sessions {
		err = multierr.Append(err, <-results)
	}
	return err
}

// ActiveSessions is the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ActiveLoops is the number of session goroutines still running.
func (m *Manager) ActiveLoops() int64 {
	return m.loops.Load()
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	req, err := m.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	return req, nil
}

func checkParticipant(req *models.ServiceRequest, role enums.ActorRole, actorID uuid.UUID) error {
	switch role {
	case enums.ActorCustomer:
		if req.CustomerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "request belongs to another customer")
		}
	case enums.ActorProvider:
		if req.ProviderID == nil || *req.ProviderID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "request is not assigned to this provider")
		}
	}
	return nil
}
