package providers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/db/models"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/geo"
	"github.com/towline/towline-backend/pkg/logger"
)

// AvailabilityInput toggles a provider on or off shift. Going online may
// carry the current position so the provider is immediately matchable.
type AvailabilityInput struct {
	Available bool
	Lat       *float64
	Lng       *float64
}

// Profile is the provider's own view of their account.
type Profile struct {
	ID                uuid.UUID  `json:"id"`
	FullName          string     `json:"fullName"`
	IsAvailable       bool       `json:"isAvailable"`
	CurrentLat        *float64   `json:"currentLat,omitempty"`
	CurrentLng        *float64   `json:"currentLng,omitempty"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt,omitempty"`
	PayoutConfigured  bool       `json:"payoutConfigured"`
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger, clock func() time.Time) (*Service, error) {
	if repo == nil {
		return nil, errors.New("providers repository required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, logg: logg, now: clock}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	provider, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load provider")
	}
	return toProfile(provider), nil
}

// SetAvailability flips the provider's shift flag, storing the supplied
// position first so matching never sees an online provider with an old
// snapshot it could have refreshed.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, input AvailabilityInput) (*Profile, error) {
	if (input.Lat == nil) != (input.Lng == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lat and lng must be provided together")
	}
	if input.Lat != nil {
		point := geo.Point{Lat: *input.Lat, Lng: *input.Lng}
		if err := point.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
		}
		if _, err := s.repo.UpdateLocation(ctx, id, point, s.now().UTC()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update location")
		}
	}
	if err := s.repo.SetAvailability(ctx, id, input.Available); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update availability")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"provider_id": id.String(), "available": input.Available})
		s.logg.Info(logCtx, "provider availability changed")
	}
	return s.Get(ctx, id)
}

func toProfile(p *models.Provider) *Profile {
	return &Profile{
		ID:                p.ID,
		FullName:          p.FullName,
		IsAvailable:       p.IsAvailable,
		CurrentLat:        p.CurrentLat,
		CurrentLng:        p.CurrentLng,
		LocationUpdatedAt: p.LocationUpdatedAt,
		PayoutConfigured:  p.HasPayoutAccount() && p.SubaccountCode != nil,
	}
}
