package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/api/validators"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/requests"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
)

// RequestService is the request workflow the HTTP surface drives.
type RequestService interface {
	Create(ctx context.Context, input requests.CreateInput) (*requests.CreateResult, error)
	Get(ctx context.Context, id uuid.UUID, caller requests.Caller) (*models.ServiceRequest, error)
	Track(ctx context.Context, code string) (*requests.TrackingView, error)
	Assign(ctx context.Context, id, providerID uuid.UUID, caller requests.Caller) (*lifecycle.Result, error)
	Quote(ctx context.Context, id uuid.UUID, amount decimal.Decimal, caller requests.Caller) (*lifecycle.Result, error)
	Accept(ctx context.Context, id uuid.UUID, caller requests.Caller) (*lifecycle.Result, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target enums.RequestStatus, caller requests.Caller) (*lifecycle.Result, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, caller requests.Caller) (*lifecycle.Result, error)
	ConfirmCompletion(ctx context.Context, id uuid.UUID, caller requests.Caller) (*models.ServiceRequest, error)
}

type createRequestBody struct {
	ServiceType string  `json:"serviceType" validate:"required,max=64"`
	Description string  `json:"description" validate:"max=1000"`
	Lat         float64 `json:"lat" validate:"latitude"`
	Lng         float64 `json:"lng" validate:"longitude"`
	Email       string  `json:"email" validate:"omitempty,email"`
}

type assignBody struct {
	ProviderID string `json:"providerId" validate:"required,uuid"`
}

type quoteBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type statusBody struct {
	Status string `json:"status" validate:"required,oneof=en_route in_progress completed"`
}

type cancelBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CreateRequest opens a pending request for the calling customer and runs
// matching.
func CreateRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
			return
		}

		var body createRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := callerFrom(r)
		result, err := svc.Create(r.Context(), requests.CreateInput{
			CustomerID:  caller.ActorID,
			ServiceType: validators.SanitizeString(body.ServiceType, 64),
			Description: validators.SanitizeString(body.Description, 1000),
			Lat:         body.Lat,
			Lng:         body.Lng,
			Email:       strings.TrimSpace(body.Email),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, requests.NewCreatedDTO(result))
	}
}

func GetRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.Get(r.Context(), id, callerFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, requests.NewRequestDTO(req))
	}
}

// TrackRequest is the public lookup by tracking code.
func TrackRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Track(r.Context(), urlParam(r, "code"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AssignProvider(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body assignBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := uuid.Parse(body.ProviderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider id"))
			return
		}
		writeTransition(w, r, logg)(svc.Assign(r.Context(), id, providerID, callerFrom(r)))
	}
}

func QuoteRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body quoteBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransition(w, r, logg)(svc.Quote(r.Context(), id, body.Amount, callerFrom(r)))
	}
}

func AcceptQuote(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransition(w, r, logg)(svc.Accept(r.Context(), id, callerFrom(r)))
	}
}

// UpdateRequestStatus moves an assigned provider through the job.
func UpdateRequestStatus(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body statusBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransition(w, r, logg)(svc.UpdateStatus(r.Context(), id, enums.RequestStatus(body.Status), callerFrom(r)))
	}
}

func CancelRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cancelBody
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransition(w, r, logg)(svc.Cancel(r.Context(), id, body.Reason, callerFrom(r)))
	}
}

func ConfirmCompletion(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.ConfirmCompletion(r.Context(), id, callerFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, requests.NewRequestDTO(req))
	}
}

func writeTransition(w http.ResponseWriter, r *http.Request, logg *logger.Logger) func(*lifecycle.Result, error) {
	return func(res *lifecycle.Result, err error) {
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, requests.NewTransitionDTO(res))
	}
}
