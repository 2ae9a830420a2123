package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/api/validators"
	"github.com/towline/towline-backend/internal/requests"
	"github.com/towline/towline-backend/internal/tracking"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
)

type TrackingService interface {
	Activate(ctx context.Context, requestID uuid.UUID, role enums.ActorRole, actorID uuid.UUID) (*tracking.Session, error)
	Deactivate(ctx context.Context, requestID uuid.UUID, role enums.ActorRole) bool
	Ingest(ctx context.Context, requestID uuid.UUID, role enums.ActorRole, actorID uuid.UUID, sample tracking.Sample) (*tracking.IngestResult, error)
	ETA(ctx context.Context, requestID uuid.UUID) (*tracking.ETA, error)
}

// requestAuthorizer confirms the caller takes part in the request.
type requestAuthorizer interface {
	Get(ctx context.Context, id uuid.UUID, caller requests.Caller) (*models.ServiceRequest, error)
}

type sessionResponse struct {
	RequestID       uuid.UUID       `json:"requestId"`
	Role            enums.ActorRole `json:"role"`
	Active          bool            `json:"active"`
	IntervalSeconds float64         `json:"intervalSeconds,omitempty"`
}

type sampleBody struct {
	Lat        float64    `json:"lat" validate:"latitude"`
	Lng        float64    `json:"lng" validate:"longitude"`
	RecordedAt *time.Time `json:"recordedAt"`
}

// ActivateTracking starts the caller's location session for a request.
func ActivateTracking(svc TrackingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		caller := callerFrom(r)
		session, err := svc.Activate(r.Context(), id, caller.Role, caller.ActorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sessionResponse{
			RequestID:       id,
			Role:            caller.Role,
			Active:          true,
			IntervalSeconds: session.Interval().Seconds(),
		})
	}
}

func DeactivateTracking(svc TrackingService, authz requestAuthorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		caller := callerFrom(r)
		if _, err := authz.Get(r.Context(), id, caller); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc.Deactivate(r.Context(), id, caller.Role)
		responses.WriteSuccess(w, sessionResponse{RequestID: id, Role: caller.Role, Active: false})
	}
}

func IngestSample(svc TrackingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body sampleBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sample := tracking.Sample{Lat: body.Lat, Lng: body.Lng}
		if body.RecordedAt != nil {
			sample.RecordedAt = *body.RecordedAt
		}

		caller := callerFrom(r)
		result, err := svc.Ingest(r.Context(), id, caller.Role, caller.ActorID, sample)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

// RequestETA serves the cached arrival estimate.
func RequestETA(svc TrackingService, authz requestAuthorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := authz.Get(r.Context(), id, callerFrom(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eta, err := svc.ETA(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if eta == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no estimate available"))
			return
		}
		responses.WriteSuccess(w, eta)
	}
}
