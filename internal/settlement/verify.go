package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/paystack"
)

// VerifyResult is the gateway's view of a charge.
type VerifyResult struct {
	Success   bool              `json:"success"`
	Status    string            `json:"status"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	PaidAt    *time.Time        `json:"paidAt,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Metadata  paystack.Metadata `json:"metadata,omitempty"`
	Outcome   Outcome           `json:"outcome,omitempty"`
}

// Verify polls the gateway and settles a successful charge through the same
// path the webhook uses.
func (e *Engine) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	started := time.Now()
	charge, err := e.gateway.VerifyTransaction(ctx, reference)
	e.metrics.ObserveGateway("verify", started, err)
	if err != nil {
		return nil, gatewayErr(err, "verify payment")
	}
	if charge.Reference == "" {
		charge.Reference = reference
	}

	result := &VerifyResult{
		Success:   charge.Succeeded(),
		Status:    charge.Status,
		Amount:    FromMinorUnits(charge.Amount),
		Currency:  charge.Currency,
		Reference: charge.Reference,
		PaidAt:    charge.PaidAt,
		Channel:   charge.Channel,
		Metadata:  charge.Metadata,
	}
	if !charge.Succeeded() {
		return result, nil
	}
	outcome, err := e.settleCharge(ctx, charge)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	return result, nil
}

// ReconcileReport summarizes a reconcile pass.
type ReconcileReport struct {
	Checked int
	Settled int
	Failed  int
}

// Reconcile verifies requests stuck in awaiting_payment since before cutoff.
// It covers webhooks that never arrived.
func (e *Engine) Reconcile(ctx context.Context, cutoff time.Time, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	pending, err := e.requests.ListAwaitingPaymentBefore(ctx, cutoff, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list awaiting payments")
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if req.PaymentReference == nil {
			continue
		}
		report.Checked++
		res, err := e.Verify(ctx, *req.PaymentReference)
		if err != nil {
			report.Failed++
			e.error(e.logContext(ctx, req.ID), "reconcile verify failed", err)
			continue
		}
		if res.Outcome == OutcomeProcessed {
			report.Settled++
		}
	}
	return report, nil
}
