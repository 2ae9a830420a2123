package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/ledger"
	paystackwebhook "github.com/towline/towline-backend/internal/webhooks/paystack"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
	"github.com/towline/towline-backend/pkg/paystack"
)

// Outcome says what a webhook delivery or settlement attempt did.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// HandleWebhook verifies, decodes and applies one gateway delivery. An
// invalid signature yields Unauthorized and a malformed body Validation;
// in both cases nothing is written.
func (e *Engine) HandleWebhook(ctx context.Context, raw []byte, signature string) (Outcome, error) {
	signature = strings.TrimSpace(signature)
	switch {
	case signature != "":
		if !paystack.VerifySignature(e.paystack.SecretKey, raw, signature) {
			e.metrics.IncWebhook("unknown", "bad_signature")
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
		}
	case e.paystack.RequireSignature:
		e.metrics.IncWebhook("unknown", "bad_signature")
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing")
	}

	delivery, err := paystackwebhook.Decode(raw)
	if err != nil {
		e.metrics.IncWebhook("unknown", "malformed")
		return "", err
	}

	key := delivery.Key()
	if e.guard != nil && key != "" {
		seen, err := e.guard.CheckAndMark(ctx, key)
		if err != nil {
			e.warn(ctx, "webhook guard unavailable: "+err.Error())
		} else if seen {
			e.metrics.IncWebhook(delivery.Event, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := e.apply(ctx, delivery)
	if err != nil {
		if e.guard != nil && key != "" {
			if relErr := e.guard.Release(ctx, key); relErr != nil {
				e.warn(ctx, "release webhook guard: "+relErr.Error())
			}
		}
		e.metrics.IncWebhook(delivery.Event, "failed")
		return "", err
	}
	e.metrics.IncWebhook(delivery.Event, string(outcome))
	return outcome, nil
}

func (e *Engine) apply(ctx context.Context, d *paystackwebhook.Delivery) (Outcome, error) {
	switch d.Event {
	case paystack.EventChargeSuccess:
		return e.settleCharge(ctx, d.Charge)
	case paystack.EventTransferSuccess:
		return e.applyTransfer(ctx, d.Transfer, enums.TransferStatusSuccess)
	case paystack.EventTransferFailed:
		return e.applyTransfer(ctx, d.Transfer, enums.TransferStatusFailed)
	case paystack.EventTransferReversed:
		return e.applyTransfer(ctx, d.Transfer, enums.TransferStatusReversed)
	default:
		e.info(ctx, "webhook event ignored: "+d.Event)
		return OutcomeIgnored, nil
	}
}

var errDuplicatePayment = errors.New("payment already recorded")

// settleCharge records a captured charge exactly once. The request row lock
// and the paid check stop most repeats; the unique indexes on transactions
// stop the rest.
func (e *Engine) settleCharge(ctx context.Context, charge *paystack.Charge) (Outcome, error) {
	if charge == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "charge payload missing")
	}
	if strings.TrimSpace(charge.Reference) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "charge reference missing")
	}

	var (
		settled  *models.ServiceRequest
		txnID    uuid.UUID
		outcome  = OutcomeProcessed
		amount   = FromMinorUnits(charge.Amount)
		currency = strings.ToUpper(strings.TrimSpace(charge.Currency))
	)
	if currency == "" {
		currency = e.currency
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := e.requests.WithTx(tx)
		req, err := e.resolveChargeRequest(ctx, requests, charge)
		if err != nil {
			return err
		}
		if req.PaymentStatus == enums.PaymentStatusPaid {
			outcome = OutcomeDuplicate
			settled = req
			return nil
		}

		now := e.now().UTC()
		updates := map[string]any{
			"payment_status":    enums.PaymentStatusPaid,
			"amount":            amount,
			"paid_at":           now,
			"payment_reference": charge.Reference,
			"updated_at":        now,
		}
		if err := requests.Update(ctx, req.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark request paid")
		}
		req.PaymentStatus = enums.PaymentStatusPaid

		if e.lifecycle.Machine().Allows(req.Status, enums.RequestStatusPaid, enums.ActorSettlement) {
			if _, err := e.lifecycle.TransitionTx(ctx, tx, req.ID, enums.RequestStatusPaid, enums.ActorSettlement); err != nil {
				return err
			}
		} else if req.Status != enums.RequestStatusPaid {
			e.warn(e.logContext(ctx, req.ID), "payment captured for request in status "+string(req.Status))
		}

		split := SplitWith(amount, e.platformPct)
		txn := &models.Transaction{
			ServiceRequestID:   req.ID,
			ProviderID:         req.ProviderID,
			Reference:          charge.Reference,
			TransactionType:    enums.TransactionTypeCustomerToBusiness,
			Currency:           currency,
			Amount:             amount,
			ProviderPercentage: split.ProviderPercent,
			PlatformPercentage: split.PlatformPercent,
			ProviderAmount:     split.ProviderAmount,
			PlatformAmount:     split.PlatformAmount,
		}
		if ch := strings.TrimSpace(charge.Channel); ch != "" {
			txn.Channel = &ch
		}
		if err := e.transactions.WithTx(tx).Create(ctx, txn); err != nil {
			if ledger.IsDuplicatePayment(err) {
				return errDuplicatePayment
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transaction")
		}
		txnID = txn.ID

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateServiceRequest,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{Role: enums.ActorSettlement},
			Data: payloads.PaymentSettledEvent{
				RequestID:      req.ID,
				TransactionID:  txn.ID,
				ProviderID:     req.ProviderID,
				Reference:      charge.Reference,
				Amount:         amount,
				ProviderAmount: split.ProviderAmount,
				PlatformAmount: split.PlatformAmount,
				Currency:       currency,
				PaidAt:         now,
			},
			OccurredAt: now,
		}
		if err := e.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment settled")
		}
		settled = req
		return nil
	})
	if errors.Is(err, errDuplicatePayment) {
		e.info(ctx, "duplicate charge ignored: "+charge.Reference)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	logCtx := e.logContext(ctx, settled.ID)
	if e.logg != nil {
		logCtx = e.logg.WithReference(logCtx, charge.Reference)
	}
	if outcome == OutcomeDuplicate {
		e.info(logCtx, "charge already settled")
		return outcome, nil
	}
	if e.logg != nil {
		logCtx = e.logg.WithField(logCtx, "transaction_id", txnID.String())
	}
	e.info(logCtx, "charge settled")
	return outcome, nil
}

func (e *Engine) resolveChargeRequest(ctx context.Context, requests ledger.RequestRepository, charge *paystack.Charge) (*models.ServiceRequest, error) {
	if raw := charge.Metadata.String("service_request_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			req, err := requests.FindByIDForUpdate(ctx, id)
			if err == nil {
				return req, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
			}
		}
	}
	req, err := requests.FindByPaymentReference(ctx, charge.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no service request for charge").
				WithDetails(map[string]string{"reference": charge.Reference})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	return req, nil
}

// applyTransfer mirrors a transfer webhook onto the ledger. Unknown
// transfer codes are ignored.
func (e *Engine) applyTransfer(ctx context.Context, transfer *paystack.Transfer, status enums.TransferStatus) (Outcome, error) {
	if transfer == nil || strings.TrimSpace(transfer.TransferCode) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "transfer code missing")
	}

	outcome := OutcomeProcessed
	var txn *models.Transaction
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = e.transactions.WithTx(tx).FindByTransferCode(ctx, transfer.TransferCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = OutcomeIgnored
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transfer")
		}
		if txn.TransferStatus != nil && *txn.TransferStatus == status {
			outcome = OutcomeDuplicate
			return nil
		}

		now := e.now().UTC()
		updates := map[string]any{
			"transfer_status": status,
			"updated_at":      now,
		}
		var reason string
		if status == enums.TransferStatusSuccess {
			updates["transfer_completed_at"] = now
			updates["transfer_failure_reason"] = nil
		} else {
			reason = strings.TrimSpace(transfer.Reason)
			if reason == "" {
				reason = "transfer " + string(status)
			}
			updates["transfer_failure_reason"] = reason
		}
		if err := e.transactions.WithTx(tx).Update(ctx, txn.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update transfer")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventTransferUpdated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{Role: enums.ActorSettlement},
			Data: payloads.TransferUpdatedEvent{
				RequestID:     txn.ServiceRequestID,
				TransactionID: txn.ID,
				TransferCode:  transfer.TransferCode,
				Status:        status,
				Reason:        reason,
			},
			OccurredAt: now,
		}
		return e.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeIgnored:
		e.warn(ctx, "transfer webhook for unknown code "+transfer.TransferCode)
	case OutcomeProcessed:
		e.metrics.IncTransfer(string(status))
		e.info(e.logContext(ctx, txn.ServiceRequestID), "transfer "+string(status))
	}
	return outcome, nil
}
