package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result describes the outcome of a transition.
type Result struct {
	Request  *models.ServiceRequest
	Previous enums.RequestStatus
	Changed  bool
}

type options struct {
	actorID      *uuid.UUID
	providerID   *uuid.UUID
	quote        *decimal.Decimal
	cancelReason *string
}

// Option adjusts a single transition.
type Option func(*options)

// WithActorID identifies the caller. Customers and providers must be the
// request's own customer or assigned provider.
func WithActorID(id uuid.UUID) Option {
	return func(o *options) { o.actorID = &id }
}

// WithProvider sets the provider on the pending to assigned edge.
func WithProvider(id uuid.UUID) Option {
	return func(o *options) { o.providerID = &id }
}

// WithQuote sets the quoted amount on the assigned to quoted edge.
func WithQuote(amount decimal.Decimal) Option {
	return func(o *options) { o.quote = &amount }
}

func WithCancelReason(reason string) Option {
	return func(o *options) {
		if reason != "" {
			o.cancelReason = &reason
		}
	}
}

type ServiceParams struct {
	Machine  *Machine
	TxRunner txRunner
	Requests ledger.RequestRepository
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Service applies lifecycle transitions atomically with their outbox event.
type Service struct {
	machine  *Machine
	tx       txRunner
	requests ledger.RequestRepository
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Requests == nil {
		return nil, errors.New("request repository required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	machine := params.Machine
	if machine == nil {
		machine = NewMachine()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		machine:  machine,
		tx:       params.TxRunner,
		requests: params.Requests,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      clock,
	}, nil
}

// Machine exposes the transition table.
func (s *Service) Machine() *Machine {
	return s.machine
}

// Transition moves the request to target in its own transaction.
func (s *Service) Transition(ctx context.Context, requestID uuid.UUID, target enums.RequestStatus, actor enums.ActorRole, opts ...Option) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.TransitionTx(ctx, tx, requestID, target, actor, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionTx performs the transition inside the caller's transaction.
func (s *Service) TransitionTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, target enums.RequestStatus, actor enums.ActorRole, opts ...Option) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	repo := s.requests.WithTx(tx)
	req, err := repo.FindByIDForUpdate(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	if err := checkParticipant(req, actor, o.actorID); err != nil {
		return nil, err
	}

	previous := req.Status
	if err := s.machine.Validate(previous, target, actor); err != nil {
		return nil, err
	}
	if previous == target {
		return &Result{Request: req, Previous: previous, Changed: false}, nil
	}

	before := snapshot(req)
	now := s.now().UTC()
	updates := map[string]any{
		"status":     target,
		"updated_at": now,
	}

	switch target {
	case enums.RequestStatusAssigned:
		providerID := req.ProviderID
		if o.providerID != nil {
			providerID = o.providerID
		}
		if providerID == nil || *providerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider required for assignment")
		}
		updates["provider_id"] = *providerID
		req.ProviderID = providerID
	case enums.RequestStatusQuoted:
		quote := req.QuotedAmount
		if o.quote != nil {
			quote = decimal.NullDecimal{Decimal: o.quote.Round(2), Valid: true}
		}
		if !quote.Valid || !quote.Decimal.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quoted amount must be positive")
		}
		updates["quoted_amount"] = quote.Decimal
		req.QuotedAmount = quote
	case enums.RequestStatusCancelled:
		role := actor
		updates["cancelled_by"] = role
		req.CancelledBy = &role
		if o.cancelReason != nil {
			updates["cancel_reason"] = *o.cancelReason
			req.CancelReason = o.cancelReason
		}
	}

	if err := repo.Update(ctx, req.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist status")
	}
	req.Status = target
	req.UpdatedAt = now

	payload := payloads.RequestStatusChanged{
		Type:           payloads.ChangeTypeUpdate,
		Table:          payloads.TableServiceRequests,
		RequestID:      req.ID,
		PreviousStatus: previous,
		NewStatus:      target,
		Actor:          actor,
		CustomerID:     req.CustomerID,
		ProviderID:     req.ProviderID,
		TrackingCode:   req.TrackingCode,
		Record:         snapshot(req),
		OldRecord:      before,
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventRequestStatusChanged,
		AggregateType: enums.AggregateServiceRequest,
		AggregateID:   req.ID,
		Actor:         &outbox.ActorRef{ActorID: o.actorID, Role: actor},
		Data:          payload,
		OccurredAt:    now,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit status event")
	}

	if s.logg != nil {
		logCtx := s.logg.WithServiceRequestID(ctx, req.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"from":  previous,
			"to":    target,
			"actor": actor,
		})
		s.logg.Info(logCtx, "service request transitioned")
	}
	return &Result{Request: req, Previous: previous, Changed: true}, nil
}

func checkParticipant(req *models.ServiceRequest, actor enums.ActorRole, actorID *uuid.UUID) error {
	if actorID == nil {
		return nil
	}
	switch actor {
	case enums.ActorCustomer:
		if req.CustomerID != *actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "request belongs to another customer")
		}
	case enums.ActorProvider:
		if req.ProviderID == nil || *req.ProviderID != *actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "request is not assigned to this provider")
		}
	}
	return nil
}

func snapshot(req *models.ServiceRequest) payloads.RequestSnapshot {
	return payloads.RequestSnapshot{
		ID:            req.ID,
		TrackingCode:  req.TrackingCode,
		CustomerID:    req.CustomerID,
		ProviderID:    req.ProviderID,
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		UpdatedAt:     req.UpdatedAt,
	}
}
