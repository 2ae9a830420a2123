package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/paystack"
)

// InitializeInput starts a hosted checkout for a quoted request.
type InitializeInput struct {
	RequestID   uuid.UUID
	CustomerID  *uuid.UUID
	Email       string
	CallbackURL string
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}

// Initialize charges the quoted amount. A request already awaiting payment
// gets a fresh reference.
func (e *Engine) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	req, err := e.loadRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if in.CustomerID != nil && req.CustomerID != *in.CustomerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "request belongs to another customer")
	}
	if !req.QuotedAmount.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request has no quote").
			WithDetails(map[string]string{"reason": "missing_quote"})
	}
	if req.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "request is already paid")
	}
	if err := e.lifecycle.Machine().Validate(req.Status, enums.RequestStatusAwaitingPayment, enums.ActorSettlement); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = req.CustomerEmail
	}
	callback := strings.TrimSpace(in.CallbackURL)
	if callback == "" {
		callback = e.paystack.CallbackURL
	}

	started := time.Now()
	resp, err := e.gateway.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      MinorUnits(req.QuotedAmount.Decimal),
		Currency:    e.currency,
		CallbackURL: callback,
		Metadata: paystack.Metadata{
			"service_request_id": req.ID.String(),
			"tracking_code":      req.TrackingCode,
		},
	})
	e.metrics.ObserveGateway("initialize", started, err)
	if err != nil {
		return nil, gatewayErr(err, "initialize payment")
	}
	if resp == nil || resp.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no reference")
	}

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.requests.WithTx(tx).Update(ctx, req.ID, map[string]any{
			"payment_reference": resp.Reference,
			"payment_status":    enums.PaymentStatusAwaitingPayment,
			"updated_at":        e.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment reference")
		}
		_, err := e.lifecycle.TransitionTx(ctx, tx, req.ID, enums.RequestStatusAwaitingPayment, enums.ActorSettlement)
		return err
	})
	if err != nil {
		return nil, err
	}

	logCtx := e.logContext(ctx, req.ID)
	if e.logg != nil {
		logCtx = e.logg.WithReference(logCtx, resp.Reference)
	}
	e.info(logCtx, "payment initialized")
	return &InitializeResult{
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        resp.Reference,
	}, nil
}
