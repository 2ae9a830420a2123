package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
	"github.com/towline/towline-backend/pkg/paystack"
)

const (
	transferLockTTL = time.Minute
	// A claim older than this that never got a transfer code back is
	// considered abandoned.
	transferClaimTTL = 5 * time.Minute
)

type TransferResult struct {
	TransactionID uuid.UUID            `json:"transactionId"`
	TransferCode  string               `json:"transferCode"`
	Reference     string               `json:"reference"`
	Status        enums.TransferStatus `json:"status"`
	AmountMinor   int64                `json:"amountMinor"`
}

// TransferToProvider releases escrowed funds once the customer confirmed
// completion. It is never retried automatically; a failed or reversed
// transfer can be started again by calling it explicitly.
func (e *Engine) TransferToProvider(ctx context.Context, requestID uuid.UUID, actor enums.ActorRole, actorID *uuid.UUID) (*TransferResult, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor == enums.ActorCustomer && (actorID == nil || req.CustomerID != *actorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "request belongs to another customer")
	}
	if req.PaymentStatus != enums.PaymentStatusPaid || !req.Amount.Valid {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "request is not paid").
			WithDetails(map[string]string{"reason": "not_paid"})
	}
	if req.CustomerConfirmedAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "customer has not confirmed completion").
			WithDetails(map[string]string{"reason": "not_confirmed"})
	}
	if req.ProviderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "request has no provider")
	}

	release, err := e.lockTransfer(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	provider, err := e.providers.FindByID(ctx, *req.ProviderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load provider")
	}

	now := e.now().UTC()
	txn, reference, err := e.claimTransfer(ctx, req.ID, now)
	if err != nil {
		return nil, err
	}
	amountMinor := MinorUnits(txn.ProviderAmount)

	recipient, err := e.ensureRecipient(ctx, provider)
	if err != nil {
		e.releaseClaim(ctx, txn)
		return nil, err
	}

	started := time.Now()
	transfer, err := e.gateway.InitiateTransfer(ctx, paystack.TransferRequest{
		Source:    "balance",
		Amount:    amountMinor,
		Recipient: recipient,
		Reason:    "Towline job " + req.TrackingCode,
		Reference: reference,
		Currency:  txn.Currency,
	})
	e.metrics.ObserveGateway("transfer", started, err)
	if err != nil {
		e.error(e.logContext(ctx, req.ID), "transfer initiation failed", err)
		e.releaseClaim(ctx, txn)
		return nil, gatewayErr(err, "initiate transfer")
	}
	if transfer == nil || transfer.TransferCode == "" {
		e.releaseClaim(ctx, txn)
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no transfer code")
	}

	status := enums.TransferStatusPending
	if parsed, perr := enums.ParseTransferStatus(transfer.Status); perr == nil {
		status = parsed
	}
	if transfer.Reference != "" {
		reference = transfer.Reference
	}

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.transactions.WithTx(tx)
		updates := map[string]any{
			"transfer_code":           transfer.TransferCode,
			"transfer_status":         status,
			"transfer_reference":      reference,
			"transfer_initiated_at":   now,
			"transfer_completed_at":   nil,
			"transfer_failure_reason": nil,
			"updated_at":              now,
		}
		if status == enums.TransferStatusSuccess {
			updates["transfer_completed_at"] = now
		}
		if err := repo.Update(ctx, txn.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventTransferInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{ActorID: actorID, Role: actor},
			Data: payloads.TransferInitiatedEvent{
				RequestID:         req.ID,
				TransactionID:     txn.ID,
				ProviderID:        provider.ID,
				TransferCode:      transfer.TransferCode,
				TransferReference: reference,
				AmountMinor:       amountMinor,
				Status:            status,
			},
			OccurredAt: now,
		}
		return e.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		// The gateway already accepted the transfer; operators reconcile by code.
		e.error(e.logContext(ctx, req.ID), "transfer accepted but not recorded: "+transfer.TransferCode, err)
		return nil, err
	}

	e.metrics.IncTransfer(string(status))
	e.info(e.logContext(ctx, req.ID), "transfer initiated")
	return &TransferResult{
		TransactionID: txn.ID,
		TransferCode:  transfer.TransferCode,
		Reference:     reference,
		Status:        status,
		AmountMinor:   amountMinor,
	}, nil
}

// claimTransfer re-reads the customer payment under a row lock and marks it
// pending before the gateway is called, so at most one caller initiates a
// transfer per payment. It returns the row as it was before the claim and
// the reference to send. An abandoned claim keeps its reference so the
// gateway can dedupe the retry.
func (e *Engine) claimTransfer(ctx context.Context, requestID uuid.UUID, now time.Time) (*models.Transaction, string, error) {
	var (
		prior     *models.Transaction
		reference string
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.transactions.WithTx(tx)
		txn, err := repo.FindCustomerPaymentForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodePrecondition, "no settled payment for request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}

		staleBefore := now.Add(-transferClaimTTL)
		reference = fmt.Sprintf("transfer_%s_%d", requestID, now.UnixMilli())
		switch {
		case txn.TransferClaimStale(staleBefore):
			if txn.TransferReference != nil && *txn.TransferReference != "" {
				reference = *txn.TransferReference
			}
		case txn.TransferInFlight():
			return transferConflict(txn)
		}

		won, err := repo.ClaimTransfer(ctx, txn.ID, reference, now, staleBefore)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim transfer")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeConflict, "transfer already initiated")
		}
		prior = txn
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return prior, reference, nil
}

// releaseClaim puts the transfer columns back the way claimTransfer found
// them after a failure that left no transfer at the gateway.
func (e *Engine) releaseClaim(ctx context.Context, prior *models.Transaction) {
	err := e.transactions.Update(context.WithoutCancel(ctx), prior.ID, map[string]any{
		"transfer_code":           prior.TransferCode,
		"transfer_status":         prior.TransferStatus,
		"transfer_reference":      prior.TransferReference,
		"transfer_initiated_at":   prior.TransferInitiatedAt,
		"transfer_completed_at":   prior.TransferCompletedAt,
		"transfer_failure_reason": prior.TransferFailureReason,
	})
	if err != nil {
		e.error(e.logContext(ctx, prior.ServiceRequestID), "release transfer claim", err)
	}
}

func transferConflict(txn *models.Transaction) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "transfer already initiated").
		WithDetails(map[string]string{"transferStatus": string(*txn.TransferStatus)})
}

// ensureRecipient returns the provider's cached recipient code, creating
// and caching one on first use.
func (e *Engine) ensureRecipient(ctx context.Context, provider *models.Provider) (string, error) {
	if provider.RecipientCode != nil && *provider.RecipientCode != "" {
		return *provider.RecipientCode, nil
	}
	if !provider.HasPayoutAccount() {
		return "", pkgerrors.New(pkgerrors.CodePrecondition, "provider payout account not configured").
			WithDetails(map[string]string{"reason": "payout_not_configured"})
	}

	name := provider.FullName
	if provider.PayoutAccountName != nil && strings.TrimSpace(*provider.PayoutAccountName) != "" {
		name = *provider.PayoutAccountName
	}
	started := time.Now()
	recipient, err := e.gateway.CreateRecipient(ctx, paystack.RecipientRequest{
		Type:          provider.PayoutAccountType.RecipientType(),
		Name:          name,
		AccountNumber: *provider.PayoutAccountNumber,
		BankCode:      *provider.PayoutBankCode,
		Currency:      e.currency,
	})
	e.metrics.ObserveGateway("create_recipient", started, err)
	if err != nil {
		return "", gatewayErr(err, "create transfer recipient")
	}
	if recipient == nil || recipient.RecipientCode == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no recipient code")
	}

	stored, err := e.providers.SetRecipientCodeIfEmpty(ctx, provider.ID, recipient.RecipientCode)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cache recipient code")
	}
	if stored {
		return recipient.RecipientCode, nil
	}
	// Another caller cached a code first; use theirs.
	fresh, err := e.providers.FindByID(ctx, provider.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload provider")
	}
	if fresh.RecipientCode == nil {
		return recipient.RecipientCode, nil
	}
	return *fresh.RecipientCode, nil
}

func (e *Engine) lockTransfer(ctx context.Context, requestID uuid.UUID) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	key := e.locker.LockKey("transfer:" + requestID.String())
	ok, err := e.locker.SetNX(ctx, key, "1", transferLockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire transfer lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transfer already in progress")
	}
	return func() {
		if err := e.locker.Del(context.WithoutCancel(ctx), key); err != nil {
			e.warn(ctx, "release transfer lock: "+err.Error())
		}
	}, nil
}
