package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/api/validators"
	"github.com/towline/towline-backend/internal/settlement"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
)

// PaymentService is the escrow flow exposed over HTTP.
type PaymentService interface {
	Initialize(ctx context.Context, in settlement.InitializeInput) (*settlement.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*settlement.VerifyResult, error)
	TransferToProvider(ctx context.Context, requestID uuid.UUID, actor enums.ActorRole, actorID *uuid.UUID) (*settlement.TransferResult, error)
	SetupPayout(ctx context.Context, providerID uuid.UUID, in settlement.PayoutInput) (*settlement.PayoutResult, error)
}

type initializeBody struct {
	RequestID   string `json:"requestId" validate:"required,uuid"`
	Email       string `json:"email" validate:"omitempty,email"`
	CallbackURL string `json:"callbackUrl" validate:"omitempty,url"`
}

type transferBody struct {
	RequestID string `json:"requestId" validate:"required,uuid"`
}

type payoutBody struct {
	BusinessName  string `json:"businessName" validate:"max=100"`
	AccountNumber string `json:"accountNumber" validate:"required,max=32"`
	BankCode      string `json:"bankCode" validate:"required,max=32"`
	AccountType   string `json:"accountType" validate:"omitempty,oneof=bank mobile_money"`
}

// InitializePayment starts checkout for the caller's accepted request.
func InitializePayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body initializeBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := uuid.Parse(body.RequestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}
		customerID := callerFrom(r).ActorID
		result, err := svc.Initialize(r.Context(), settlement.InitializeInput{
			RequestID:   requestID,
			CustomerID:  &customerID,
			Email:       strings.TrimSpace(body.Email),
			CallbackURL: strings.TrimSpace(body.CallbackURL),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// VerifyPayment asks the gateway for a charge and settles it when captured.
func VerifyPayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := urlParam(r, "reference")
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference required"))
			return
		}
		result, err := svc.Verify(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func TransferToProvider(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body transferBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := uuid.Parse(body.RequestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}
		caller := callerFrom(r)
		actorID := caller.ActorID
		result, err := svc.TransferToProvider(r.Context(), requestID, caller.Role, &actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SetupPayout registers the calling provider's settlement account.
func SetupPayout(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body payoutBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.SetupPayout(r.Context(), callerFrom(r).ActorID, settlement.PayoutInput{
			BusinessName:  validators.SanitizeString(body.BusinessName, 100),
			AccountNumber: strings.TrimSpace(body.AccountNumber),
			BankCode:      strings.TrimSpace(body.BankCode),
			AccountType:   enums.PayoutAccountType(body.AccountType),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
