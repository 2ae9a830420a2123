package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/api/validators"
	"github.com/towline/towline-backend/internal/matching"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
)

type MatchingService interface {
	FindProviders(ctx context.Context, q matching.Query) (*matching.Result, error)
	Closest(ctx context.Context, lat, lng float64) (*matching.Match, error)
}

// NearbyProviders ranks available providers around lat,lng. radiusKm is
// optional and falls back to the configured default.
func NearbyProviders(svc MatchingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, lng, err := parseLatLng(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := matching.Query{Lat: lat, Lng: lng}
		if raw := strings.TrimSpace(r.URL.Query().Get("radiusKm")); raw != "" {
			radius, err := strconv.ParseFloat(raw, 64)
			if err != nil || radius <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "radiusKm must be a positive number"))
				return
			}
			q.RadiusKm = radius
		}

		result, err := svc.FindProviders(r.Context(), q)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ClosestProvider(svc MatchingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, lng, err := parseLatLng(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		match, err := svc.Closest(r.Context(), lat, lng)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, match)
	}
}

func parseLatLng(r *http.Request) (float64, float64, error) {
	lat, err := validators.ParseQueryFloat(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	lng, err := validators.ParseQueryFloat(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}
