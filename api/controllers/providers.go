package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/api/validators"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/pkg/logger"
)

type ProviderService interface {
	Get(ctx context.Context, id uuid.UUID) (*providers.Profile, error)
	SetAvailability(ctx context.Context, id uuid.UUID, input providers.AvailabilityInput) (*providers.Profile, error)
}

type availabilityBody struct {
	Available *bool    `json:"available" validate:"required"`
	Lat       *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng       *float64 `json:"lng" validate:"omitempty,longitude"`
}

func GetProviderProfile(svc ProviderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := svc.Get(r.Context(), callerFrom(r).ActorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}

// SetAvailability toggles the calling provider on or off shift.
func SetAvailability(svc ProviderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body availabilityBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		profile, err := svc.SetAvailability(r.Context(), callerFrom(r).ActorID, providers.AvailabilityInput{
			Available: *body.Available,
			Lat:       body.Lat,
			Lng:       body.Lng,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}
