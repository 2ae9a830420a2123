package requests

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/matching"
	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
	"github.com/towline/towline-backend/pkg/logger"
)

const maxTrackingCodeAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transitioner interface {
	Transition(ctx context.Context, requestID uuid.UUID, target enums.RequestStatus, actor enums.ActorRole, opts ...lifecycle.Option) (*lifecycle.Result, error)
}

type autoAssigner interface {
	AutoAssign(ctx context.Context, requestID uuid.UUID) (*matching.AssignResult, error)
}

// sessionStopper ends live tracking once a request leaves its window.
type sessionStopper interface {
	StatusChanged(ctx context.Context, requestID uuid.UUID, status enums.RequestStatus) int
}

type customerReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type providerReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)
}

// Caller identifies who is acting on a request.
type Caller struct {
	Role    enums.ActorRole
	ActorID uuid.UUID
}

// CreateInput is the customer's new request.
type CreateInput struct {
	CustomerID  uuid.UUID
	ServiceType string
	Description string
	Lat         float64
	Lng         float64
	Email       string
}

// CreateResult carries the stored request and the matching outcome. Match
// is nil when matching failed; the request stays pending either way.
type CreateResult struct {
	Request *models.ServiceRequest `json:"request"`
	Match   *matching.AssignResult `json:"match,omitempty"`
}

// TrackingView is the public projection returned for a tracking code.
type TrackingView struct {
	TrackingCode string              `json:"trackingCode"`
	Status       enums.RequestStatus `json:"status"`
	ServiceType  string              `json:"serviceType"`
	ProviderLat  *float64            `json:"providerLat,omitempty"`
	ProviderLng  *float64            `json:"providerLng,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

type ServiceParams struct {
	TxRunner  txRunner
	Requests  ledger.RequestRepository
	Customers customerReader
	Providers providerReader
	Lifecycle transitioner
	Matcher   autoAssigner
	Tracking  sessionStopper
	Logger    *logger.Logger
	Clock     func() time.Time
	// NewCode overrides tracking code generation in tests.
	NewCode func() (string, error)
}

// Service owns the request-facing operations. Every status change goes
// through the lifecycle service.
type Service struct {
	tx        txRunner
	requests  ledger.RequestRepository
	customers customerReader
	providers providerReader
	lifecycle transitioner
	matcher   autoAssigner
	tracking  sessionStopper
	logg      *logger.Logger
	now       func() time.Time
	newCode   func() (string, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Requests == nil {
		return nil, errors.New("request repository required")
	}
	if params.Providers == nil {
		return nil, errors.New("provider reader required")
	}
	if params.Lifecycle == nil {
		return nil, errors.New("lifecycle service required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	newCode := params.NewCode
	if newCode == nil {
		newCode = NewTrackingCode
	}
	return &Service{
		tx:        params.TxRunner,
		requests:  params.Requests,
		customers: params.Customers,
		providers: params.Providers,
		lifecycle: params.Lifecycle,
		matcher:   params.Matcher,
		tracking:  params.Tracking,
		logg:      params.Logger,
		now:       clock,
		newCode:   newCode,
	}, nil
}

// Create stores a pending request and immediately runs matching. A
// matching failure is logged; the request is still returned.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	serviceType := strings.TrimSpace(input.ServiceType)
	if serviceType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service type required")
	}
	point := geo.Point{Lat: input.Lat, Lng: input.Lng}
	if err := point.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
	}
	email, err := s.customerEmail(ctx, input)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &models.ServiceRequest{
		CustomerID:                input.CustomerID,
		ServiceType:               serviceType,
		Status:                    enums.RequestStatusPending,
		PaymentStatus:             enums.PaymentStatusUnpaid,
		CustomerEmail:             email,
		CustomerLat:               &point.Lat,
		CustomerLng:               &point.Lng,
		CustomerLocationUpdatedAt: &now,
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		req.Description = &desc
	}
	if err := s.insert(ctx, req); err != nil {
		return nil, err
	}
	s.info(ctx, req.ID, "service request created")

	out := &CreateResult{Request: req}
	if s.matcher == nil {
		return out, nil
	}
	match, err := s.matcher.AutoAssign(ctx, req.ID)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithServiceRequestID(ctx, req.ID.String()), "auto-assign failed: "+err.Error())
		}
		return out, nil
	}
	out.Match = match
	if match.AssignedProviderID != nil {
		if fresh, err := s.requests.FindByID(ctx, req.ID); err == nil {
			out.Request = fresh
		}
	}
	return out, nil
}

func (s *Service) customerEmail(ctx context.Context, input CreateInput) (string, error) {
	if email := strings.TrimSpace(input.Email); email != "" {
		return email, nil
	}
	if s.customers == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	customer, err := s.customers.FindByID(ctx, input.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load customer")
	}
	if customer.Email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	return customer.Email, nil
}

// insert retries on tracking code collisions.
func (s *Service) insert(ctx context.Context, req *models.ServiceRequest) error {
	for attempt := 0; attempt < maxTrackingCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate tracking code")
		}
		req.TrackingCode = code
		req.ID = uuid.Nil
		err = s.requests.Create(ctx, req)
		if err == nil {
			return nil
		}
		if !dbpkg.IsUniqueViolation(err, ledger.TrackingCodeConstraint) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create service request")
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate tracking code")
}

// Get returns the request to its customer, its assigned provider or an admin.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller Caller) (*models.ServiceRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(req, caller); err != nil {
		return nil, err
	}
	return req, nil
}

// Track is the public lookup by tracking code. The provider position is
// only exposed while the provider is travelling or on site.
func (s *Service) Track(ctx context.Context, code string) (*TrackingView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !IsTrackingCode(code) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid tracking code")
	}
	req, err := s.requests.FindByTrackingCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	view := &TrackingView{
		TrackingCode: req.TrackingCode,
		Status:       req.Status,
		ServiceType:  req.ServiceType,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.UpdatedAt,
	}
	if req.Status == enums.RequestStatusEnRoute || req.Status == enums.RequestStatusInProgress {
		view.ProviderLat = req.ProviderLat
		view.ProviderLng = req.ProviderLng
	}
	return view, nil
}

// Assign moves a pending request to the chosen provider.
func (s *Service) Assign(ctx context.Context, id, providerID uuid.UUID, caller Caller) (*lifecycle.Result, error) {
	if caller.Role != enums.ActorCustomer && caller.Role != enums.ActorAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers or admins assign providers")
	}
	if providerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	provider, err := s.providers.FindByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load provider")
	}
	if !provider.IsAvailable {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "provider is not available").
			WithDetails(map[string]string{"reason": "provider_unavailable"})
	}
	return s.transition(ctx, id, enums.RequestStatusAssigned, caller, lifecycle.WithProvider(providerID))
}

// Quote records the provider's price.
func (s *Service) Quote(ctx context.Context, id uuid.UUID, amount decimal.Decimal, caller Caller) (*lifecycle.Result, error) {
	if caller.Role != enums.ActorProvider {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned provider can quote")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quoted amount must be positive")
	}
	return s.transition(ctx, id, enums.RequestStatusQuoted, caller, lifecycle.WithQuote(amount))
}

func (s *Service) Accept(ctx context.Context, id uuid.UUID, caller Caller) (*lifecycle.Result, error) {
	if caller.Role != enums.ActorCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer can accept a quote")
	}
	return s.transition(ctx, id, enums.RequestStatusAccepted, caller)
}

// UpdateStatus drives the provider's on-the-job progress.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target enums.RequestStatus, caller Caller) (*lifecycle.Result, error) {
	switch target {
	case enums.RequestStatusEnRoute, enums.RequestStatusInProgress, enums.RequestStatusCompleted:
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "status %q cannot be set directly", target)
	}
	if caller.Role != enums.ActorProvider {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned provider can update progress")
	}
	return s.transition(ctx, id, target, caller)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, caller Caller) (*lifecycle.Result, error) {
	return s.transition(ctx, id, enums.RequestStatusCancelled, caller, lifecycle.WithCancelReason(strings.TrimSpace(reason)))
}

// ConfirmCompletion records the customer's sign-off on a completed job.
// The first confirmation time is kept.
func (s *Service) ConfirmCompletion(ctx context.Context, id uuid.UUID, caller Caller) (*models.ServiceRequest, error) {
	if caller.Role != enums.ActorCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer can confirm completion")
	}
	var out *models.ServiceRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.requests.WithTx(tx)
		req, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
		}
		if req.CustomerID != caller.ActorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "request belongs to another customer")
		}
		if req.Status != enums.RequestStatusCompleted {
			return pkgerrors.Newf(pkgerrors.CodePrecondition, "request is %s, not completed", req.Status).
				WithDetails(map[string]string{"reason": "not_completed"})
		}
		if req.CustomerConfirmedAt == nil {
			now := s.now().UTC()
			if err := repo.Update(ctx, req.ID, map[string]any{"customer_confirmed_at": now, "updated_at": now}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm completion")
			}
			req.CustomerConfirmedAt = &now
			req.UpdatedAt = now
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.info(ctx, out.ID, "completion confirmed")
	return out, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, target enums.RequestStatus, caller Caller, opts ...lifecycle.Option) (*lifecycle.Result, error) {
	if !caller.Role.IsUserRole() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unsupported role")
	}
	if caller.Role != enums.ActorAdmin {
		opts = append(opts, lifecycle.WithActorID(caller.ActorID))
	}
	res, err := s.lifecycle.Transition(ctx, id, target, caller.Role, opts...)
	if err != nil {
		return nil, err
	}
	if res.Changed && s.tracking != nil {
		s.tracking.StatusChanged(ctx, id, res.Request.Status)
	}
	return res, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	return req, nil
}

func authorize(req *models.ServiceRequest, caller Caller) error {
	switch caller.Role {
	case enums.ActorAdmin:
		return nil
	case enums.ActorCustomer:
		if req.CustomerID == caller.ActorID {
			return nil
		}
	case enums.ActorProvider:
		if req.ProviderID != nil && *req.ProviderID == caller.ActorID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this request")
}

func (s *Service) info(ctx context.Context, id uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithServiceRequestID(ctx, id.String()), msg)
}
