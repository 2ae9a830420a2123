package matching

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
	"github.com/towline/towline-backend/pkg/logger"
)

// Mode says how a match result was produced.
type Mode string

const (
	ModeRanked   Mode = "ranked"
	ModeFallback Mode = "fallback"
	ModeNone     Mode = "none"
)

// Query is a nearby-provider search around a customer.
type Query struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

// Result carries the ranked list, or the single fallback provider.
type Result struct {
	Mode    Mode    `json:"mode"`
	Matches []Match `json:"matches"`
}

// AssignResult is the outcome of AutoAssign.
type AssignResult struct {
	Result
	AssignedProviderID *uuid.UUID `json:"assignedProviderId,omitempty"`
}

type providerStore interface {
	ListAvailableNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.Provider, error)
	ListAvailable(ctx context.Context, freshSince time.Time) ([]models.Provider, error)
}

type requestReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error)
}

type transitioner interface {
	Transition(ctx context.Context, requestID uuid.UUID, target enums.RequestStatus, actor enums.ActorRole, opts ...lifecycle.Option) (*lifecycle.Result, error)
}

type ServiceParams struct {
	Providers providerStore
	Requests  requestReader
	Lifecycle transitioner
	Config    config.MatchingConfig
	Logger    *logger.Logger
	Clock     func() time.Time
}

type Service struct {
	providers providerStore
	requests  requestReader
	lifecycle transitioner
	cfg       config.MatchingConfig
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Providers == nil {
		return nil, errors.New("provider store required")
	}
	if params.Requests == nil {
		return nil, errors.New("request reader required")
	}
	if params.Lifecycle == nil {
		return nil, errors.New("lifecycle service required")
	}
	cfg := params.Config
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = DefaultRadiusKm
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = MaxRadiusKm
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		providers: params.Providers,
		requests:  params.Requests,
		lifecycle: params.Lifecycle,
		cfg:       cfg,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

// FindProviders ranks providers inside the radius, falling back to the
// single closest available provider when none qualify.
func (s *Service) FindProviders(ctx context.Context, q Query) (*Result, error) {
	center := geo.Point{Lat: q.Lat, Lng: q.Lng}
	if err := center.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
	}
	radius := q.RadiusKm
	if radius == 0 {
		radius = s.cfg.DefaultRadiusKm
	}
	if radius < 0 || radius > s.cfg.MaxRadiusKm {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "radius must be within (0, %.0f] km", s.cfg.MaxRadiusKm)
	}

	now := s.now()
	opts := Options{
		RadiusKm:   radius,
		StaleAfter: s.cfg.StaleAfter,
		Limit:      s.cfg.MaxResults,
		Now:        now,
	}

	nearby, err := s.providers.ListAvailableNear(ctx, center, radius)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list nearby providers")
	}
	if ranked := Rank(center, toCandidates(nearby), opts); len(ranked) > 0 {
		return &Result{Mode: ModeRanked, Matches: ranked}, nil
	}

	all, err := s.providers.ListAvailable(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list available providers")
	}
	if closest, ok := Closest(center, toCandidates(all), opts); ok {
		return &Result{Mode: ModeFallback, Matches: []Match{closest}}, nil
	}
	return &Result{Mode: ModeNone, Matches: []Match{}}, nil
}

// Closest returns only the globally closest available provider.
func (s *Service) Closest(ctx context.Context, lat, lng float64) (*Match, error) {
	center := geo.Point{Lat: lat, Lng: lng}
	if err := center.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
	}
	now := s.now()
	all, err := s.providers.ListAvailable(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list available providers")
	}
	match, ok := Closest(center, toCandidates(all), Options{StaleAfter: s.cfg.StaleAfter, Now: now})
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no available provider")
	}
	return &match, nil
}

// AutoAssign searches around the request's customer location. A fallback
// result assigns the closest provider as the system actor; a ranked result
// is returned for the customer to choose from.
func (s *Service) AutoAssign(ctx context.Context, requestID uuid.UUID) (*AssignResult, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	if req.Status != enums.RequestStatusPending {
		return nil, pkgerrors.Newf(pkgerrors.CodePrecondition, "request is %s, not pending", req.Status)
	}
	point, ok := geo.PointFrom(req.CustomerLat, req.CustomerLng)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request has no customer location")
	}

	result, err := s.FindProviders(ctx, Query{Lat: point.Lat, Lng: point.Lng})
	if err != nil {
		return nil, err
	}
	out := &AssignResult{Result: *result}
	if result.Mode != ModeFallback {
		return out, nil
	}

	providerID := result.Matches[0].ProviderID
	if _, err := s.lifecycle.Transition(ctx, req.ID, enums.RequestStatusAssigned, enums.ActorSystem, lifecycle.WithProvider(providerID)); err != nil {
		return nil, err
	}
	out.AssignedProviderID = &providerID
	if s.logg != nil {
		logCtx := s.logg.WithServiceRequestID(ctx, req.ID.String())
		logCtx = s.logg.WithField(logCtx, "provider_id", providerID.String())
		s.logg.Info(logCtx, "closest provider auto-assigned")
	}
	return out, nil
}

func toCandidates(providers []models.Provider) []Candidate {
	out := make([]Candidate, 0, len(providers))
	for _, p := range providers {
		c := Candidate{
			ProviderID:        p.ID,
			FullName:          p.FullName,
			Available:         p.IsAvailable,
			AvgRating:         p.AvgRating.InexactFloat64(),
			LocationUpdatedAt: p.LocationUpdatedAt,
		}
		if point, ok := geo.PointFrom(p.CurrentLat, p.CurrentLng); ok {
			c.Location = &point
		}
		out = append(out, c)
	}
	return out
}
