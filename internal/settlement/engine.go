// Package settlement collects customer payments into escrow and releases
// them to providers once the customer confirms the job.
package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/paystack"
)

// Gateway is the payment provider surface. *paystack.Client satisfies it.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Charge, error)
	CreateRecipient(ctx context.Context, req paystack.RecipientRequest) (*paystack.Recipient, error)
	InitiateTransfer(ctx context.Context, req paystack.TransferRequest) (*paystack.Transfer, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystack.ResolvedAccount, error)
	CreateSubaccount(ctx context.Context, req paystack.SubaccountRequest) (*paystack.Subaccount, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transitioner interface {
	TransitionTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, target enums.RequestStatus, actor enums.ActorRole, opts ...lifecycle.Option) (*lifecycle.Result, error)
	Machine() *lifecycle.Machine
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Locker serializes transfers per request across API instances.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

type EngineParams struct {
	TxRunner     txRunner
	Requests     ledger.RequestRepository
	Transactions ledger.TransactionRepository
	Providers    *providers.Repository
	Lifecycle    transitioner
	Outbox       outbox.Emitter
	Gateway      Gateway
	Guard        webhookGuard
	Locker       Locker
	Metrics      *metrics.SettlementMetrics
	Settlement   config.SettlementConfig
	Paystack     config.PaystackConfig
	Logger       *logger.Logger
	Clock        func() time.Time
}

// Engine runs the escrow flow against the ledger and the gateway.
type Engine struct {
	tx           txRunner
	requests     ledger.RequestRepository
	transactions ledger.TransactionRepository
	providers    *providers.Repository
	lifecycle    transitioner
	outbox       outbox.Emitter
	gateway      Gateway
	guard        webhookGuard
	locker       Locker
	metrics      *metrics.SettlementMetrics
	platformPct  decimal.Decimal
	currency     string
	paystack     config.PaystackConfig
	logg         *logger.Logger
	now          func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Requests == nil || params.Transactions == nil {
		return nil, errors.New("ledger repositories required")
	}
	if params.Providers == nil {
		return nil, errors.New("provider repository required")
	}
	if params.Lifecycle == nil {
		return nil, errors.New("lifecycle service required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Gateway == nil {
		return nil, errors.New("payment gateway required")
	}
	pct := DefaultPlatformPercent
	if params.Settlement.PlatformPercent > 0 {
		pct = decimal.NewFromFloat(params.Settlement.PlatformPercent)
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Settlement.Currency))
	if currency == "" {
		currency = "GHS"
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		tx:           params.TxRunner,
		requests:     params.Requests,
		transactions: params.Transactions,
		providers:    params.Providers,
		lifecycle:    params.Lifecycle,
		outbox:       params.Outbox,
		gateway:      params.Gateway,
		guard:        params.Guard,
		locker:       params.Locker,
		metrics:      params.Metrics,
		platformPct:  pct,
		currency:     currency,
		paystack:     params.Paystack,
		logg:         params.Logger,
		now:          clock,
	}, nil
}

func (e *Engine) loadRequest(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	req, err := e.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service request")
	}
	return req, nil
}

// gatewayErr keeps typed gateway errors and marks anything else as a
// Dependency failure.
func gatewayErr(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func (e *Engine) logContext(ctx context.Context, requestID uuid.UUID) context.Context {
	if e.logg == nil {
		return ctx
	}
	return e.logg.WithServiceRequestID(ctx, requestID.String())
}

func (e *Engine) info(ctx context.Context, msg string) {
	if e.logg != nil {
		e.logg.Info(ctx, msg)
	}
}

func (e *Engine) warn(ctx context.Context, msg string) {
	if e.logg != nil {
		e.logg.Warn(ctx, msg)
	}
}

func (e *Engine) error(ctx context.Context, msg string, err error) {
	if e.logg != nil {
		e.logg.Error(ctx, msg, err)
	}
}
