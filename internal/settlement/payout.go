package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/payloads"
	"github.com/towline/towline-backend/pkg/paystack"
)

type PayoutInput struct {
	BusinessName  string
	AccountNumber string
	BankCode      string
	AccountType   enums.PayoutAccountType
}

type PayoutResult struct {
	SubaccountCode string `json:"subaccountCode"`
	AccountName    string `json:"accountName"`
}

// SetupPayout resolves the provider's account and registers a split
// subaccount for it. Changing the account drops the cached transfer
// recipient.
func (e *Engine) SetupPayout(ctx context.Context, providerID uuid.UUID, in PayoutInput) (*PayoutResult, error) {
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.BankCode = strings.TrimSpace(in.BankCode)
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	if in.AccountNumber == "" || in.BankCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account number and bank code are required")
	}
	if in.AccountType == "" {
		in.AccountType = enums.PayoutAccountBank
	}
	if !in.AccountType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout account type")
	}

	provider, err := e.providers.FindByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load provider")
	}
	if in.BusinessName == "" {
		in.BusinessName = provider.FullName
	}

	started := time.Now()
	resolved, err := e.gateway.ResolveAccount(ctx, in.AccountNumber, in.BankCode)
	e.metrics.ObserveGateway("resolve_account", started, err)
	if err != nil {
		return nil, gatewayErr(err, "resolve payout account")
	}

	started = time.Now()
	sub, err := e.gateway.CreateSubaccount(ctx, paystack.SubaccountRequest{
		BusinessName:     in.BusinessName,
		SettlementBank:   in.BankCode,
		AccountNumber:    in.AccountNumber,
		PercentageCharge: e.platformPct.InexactFloat64(),
	})
	e.metrics.ObserveGateway("create_subaccount", started, err)
	if err != nil {
		return nil, gatewayErr(err, "create subaccount")
	}

	accountName := resolved.AccountName
	if accountName == "" {
		accountName = sub.AccountName
	}
	now := e.now().UTC()
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.providers.WithTx(tx).UpdatePayout(ctx, providerID, map[string]any{
			"payout_account_type":   in.AccountType,
			"payout_bank_code":      in.BankCode,
			"payout_account_number": in.AccountNumber,
			"payout_account_name":   accountName,
			"subaccount_code":       sub.SubaccountCode,
			"recipient_code":        nil,
			"updated_at":            now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payout account")
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutConfigured,
			AggregateType: enums.AggregateProvider,
			AggregateID:   providerID,
			Actor:         &outbox.ActorRef{ActorID: &providerID, Role: enums.ActorProvider},
			Data: payloads.PayoutConfiguredEvent{
				ProviderID:     providerID,
				SubaccountCode: sub.SubaccountCode,
				AccountName:    accountName,
				AccountType:    in.AccountType,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if e.logg != nil {
		e.info(e.logg.WithField(ctx, "provider_id", providerID.String()), "payout account configured")
	}
	return &PayoutResult{SubaccountCode: sub.SubaccountCode, AccountName: accountName}, nil
}
