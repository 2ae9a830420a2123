package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/internal/ledger"
	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/providers"
	"github.com/towline/towline-backend/pkg/config"
	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/dbtest"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/paystack"
)

const testSecret = "sk_test_towline"

type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int

	initReference string
	charge        *paystack.Charge
	transferErr   error
	resolveErr    error
	transferCodes []string
	transfers     []paystack.TransferRequest
	// onTransfer runs at the start of InitiateTransfer.
	onTransfer func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}, initReference: "ref_init_1"}
}

func (g *fakeGateway) hit(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) InitializeTransaction(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error) {
	g.hit("initialize")
	return &paystack.InitializeResponse{
		AuthorizationURL: "https://checkout.paystack.com/abc",
		AccessCode:       "abc",
		Reference:        g.initReference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*paystack.Charge, error) {
	g.hit("verify")
	if g.charge == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "not found")
	}
	out := *g.charge
	return &out, nil
}

func (g *fakeGateway) CreateRecipient(_ context.Context, req paystack.RecipientRequest) (*paystack.Recipient, error) {
	g.hit("recipient")
	return &paystack.Recipient{RecipientCode: "RCP_" + req.AccountNumber, Active: true}, nil
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, req paystack.TransferRequest) (*paystack.Transfer, error) {
	if g.onTransfer != nil {
		g.onTransfer()
	}
	g.hit("transfer")
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	code := "TRF_" + string(rune('a'+len(g.transferCodes)))
	g.transferCodes = append(g.transferCodes, code)
	g.transfers = append(g.transfers, req)
	return &paystack.Transfer{TransferCode: code, Reference: req.Reference, Status: "pending", Amount: req.Amount}, nil
}

func (g *fakeGateway) ResolveAccount(_ context.Context, accountNumber, bankCode string) (*paystack.ResolvedAccount, error) {
	g.hit("resolve")
	if g.resolveErr != nil {
		return nil, g.resolveErr
	}
	return &paystack.ResolvedAccount{AccountNumber: accountNumber, AccountName: "KOFI MENSAH"}, nil
}

func (g *fakeGateway) CreateSubaccount(_ context.Context, req paystack.SubaccountRequest) (*paystack.Subaccount, error) {
	g.hit("subaccount")
	return &paystack.Subaccount{SubaccountCode: "ACCT_towline", BusinessName: req.BusinessName}, nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) CheckAndMark(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return true, nil
	}
	g.seen[key] = true
	return false, nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

type fixture struct {
	conn     *gorm.DB
	engine   *Engine
	gateway  *fakeGateway
	guard    *memoryGuard
	request  *models.ServiceRequest
	provider *models.Provider
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, status enums.RequestStatus, withGuard bool) *fixture {
	t.Helper()
	conn := dbtest.Open(t)

	bank := enums.PayoutAccountBank
	bankCode, account, name := "GCB", "0123456789", "Kofi Mensah"
	provider := &models.Provider{
		UserID:              uuid.New(),
		FullName:            "Kofi Mensah",
		Email:               "kofi@example.com",
		IsAvailable:         true,
		AvgRating:           decimal.RequireFromString("4.5"),
		PayoutAccountType:   &bank,
		PayoutBankCode:      &bankCode,
		PayoutAccountNumber: &account,
		PayoutAccountName:   &name,
	}
	require.NoError(t, conn.Create(provider).Error)

	req := &models.ServiceRequest{
		TrackingCode:  "TL-AB12CD34",
		CustomerID:    uuid.New(),
		ProviderID:    &provider.ID,
		ServiceType:   "towing",
		Status:        status,
		QuotedAmount:  decimal.NullDecimal{Decimal: decimal.RequireFromString("100.00"), Valid: true},
		PaymentStatus: enums.PaymentStatusUnpaid,
		CustomerEmail: "ama@example.com",
	}
	require.NoError(t, conn.Create(req).Error)

	clock := func() time.Time { return fixedNow }
	requests := ledger.NewRequestRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	life, err := lifecycle.NewService(lifecycle.ServiceParams{
		TxRunner: dbpkg.Wrap(conn),
		Requests: requests,
		Outbox:   emitter,
		Clock:    clock,
	})
	require.NoError(t, err)

	gw := newFakeGateway()
	var guard *memoryGuard
	params := EngineParams{
		TxRunner:     dbpkg.Wrap(conn),
		Requests:     requests,
		Transactions: ledger.NewTransactionRepository(conn),
		Providers:    providers.NewRepository(conn),
		Lifecycle:    life,
		Outbox:       emitter,
		Gateway:      gw,
		Settlement:   config.SettlementConfig{PlatformPercent: 15, Currency: "GHS"},
		Paystack:     config.PaystackConfig{SecretKey: testSecret},
		Clock:        clock,
	}
	if withGuard {
		guard = &memoryGuard{seen: map[string]bool{}}
		params.Guard = guard
	}
	engine, err := NewEngine(params)
	require.NoError(t, err)

	return &fixture{conn: conn, engine: engine, gateway: gw, guard: guard, request: req, provider: provider}
}

func (f *fixture) reload(t *testing.T) *models.ServiceRequest {
	t.Helper()
	var req models.ServiceRequest
	require.NoError(t, f.conn.First(&req, "id = ?", f.request.ID).Error)
	return &req
}

func (f *fixture) transactions(t *testing.T) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, f.conn.Find(&rows).Error)
	return rows
}

func (f *fixture) outboxTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.EventType)
	}
	return out
}

func chargeBody(t *testing.T, requestID *uuid.UUID, reference string, amountMinor int64) []byte {
	t.Helper()
	data := map[string]any{
		"id":        42,
		"status":    "success",
		"reference": reference,
		"amount":    amountMinor,
		"currency":  "GHS",
		"channel":   "mobile_money",
	}
	if requestID != nil {
		data["metadata"] = map[string]any{"service_request_id": requestID.String(), "tracking_code": "TL-AB12CD34"}
	}
	raw, err := json.Marshal(map[string]any{"event": paystack.EventChargeSuccess, "data": data})
	require.NoError(t, err)
	return raw
}

func transferBody(t *testing.T, event, code, reason string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event": event,
		"data":  map[string]any{"transfer_code": code, "status": strings.TrimPrefix(event, "transfer."), "reason": reason},
	})
	require.NoError(t, err)
	return raw
}

func (f *fixture) deliver(t *testing.T, body []byte) (Outcome, error) {
	t.Helper()
	return f.engine.HandleWebhook(context.Background(), body, paystack.Sign(testSecret, body))
}

func TestInitializeRequiresQuote(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAccepted, false)
	require.NoError(t, f.conn.Model(&models.ServiceRequest{}).Where("id = ?", f.request.ID).
		Update("quoted_amount", nil).Error)

	_, err := f.engine.Initialize(context.Background(), InitializeInput{RequestID: f.request.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	require.Equal(t, map[string]string{"reason": "missing_quote"}, pkgerrors.As(err).Details())
	require.Zero(t, f.gateway.total())
}

func TestInitializeMovesToAwaitingPayment(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAccepted, false)
	ctx := context.Background()

	res, err := f.engine.Initialize(ctx, InitializeInput{RequestID: f.request.ID, CustomerID: &f.request.CustomerID})
	require.NoError(t, err)
	require.Equal(t, "ref_init_1", res.Reference)
	require.Equal(t, "https://checkout.paystack.com/abc", res.AuthorizationURL)

	req := f.reload(t)
	require.Equal(t, enums.RequestStatusAwaitingPayment, req.Status)
	require.Equal(t, enums.PaymentStatusAwaitingPayment, req.PaymentStatus)
	require.NotNil(t, req.PaymentReference)
	require.Equal(t, "ref_init_1", *req.PaymentReference)
	require.Equal(t, []enums.OutboxEventType{enums.EventRequestStatusChanged}, f.outboxTypes(t))

	// Re-initializing swaps the reference without another status event.
	f.gateway.initReference = "ref_init_2"
	res, err = f.engine.Initialize(ctx, InitializeInput{RequestID: f.request.ID})
	require.NoError(t, err)
	require.Equal(t, "ref_init_2", res.Reference)
	require.Equal(t, "ref_init_2", *f.reload(t).PaymentReference)
	require.Len(t, f.outboxTypes(t), 1)

	other := uuid.New()
	_, err = f.engine.Initialize(ctx, InitializeInput{RequestID: f.request.ID, CustomerID: &other})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestInitializeRejectsWrongStatusBeforeGateway(t *testing.T) {
	f := newFixture(t, enums.RequestStatusQuoted, false)
	_, err := f.engine.Initialize(context.Background(), InitializeInput{RequestID: f.request.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition), "got %v", err)
	require.Zero(t, f.gateway.total())
}

func TestWebhookRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, true)
	body := chargeBody(t, &f.request.ID, "ref_init_1", 10000)

	_, err := f.engine.HandleWebhook(context.Background(), body, paystack.Sign("wrong-secret", body))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "got %v", err)

	req := f.reload(t)
	require.Equal(t, enums.PaymentStatusUnpaid, req.PaymentStatus)
	require.Equal(t, enums.RequestStatusAwaitingPayment, req.Status)
	require.Empty(t, f.transactions(t))
	require.Empty(t, f.outboxTypes(t))
	require.Empty(t, f.guard.seen)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	body := []byte(`{"event":`)
	_, err := f.deliver(t, body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestWebhookSkipsCheckWithoutHeader(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	body := chargeBody(t, &f.request.ID, "ref_init_1", 10000)
	outcome, err := f.engine.HandleWebhook(context.Background(), body, "")
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	f.engine.paystack.RequireSignature = true
	_, err = f.engine.HandleWebhook(context.Background(), body, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestChargeSuccessSettlesOnce(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	body := chargeBody(t, &f.request.ID, "ref_init_1", 10001)

	outcome, err := f.deliver(t, body)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	req := f.reload(t)
	require.Equal(t, enums.RequestStatusPaid, req.Status)
	require.Equal(t, enums.PaymentStatusPaid, req.PaymentStatus)
	require.True(t, req.Amount.Valid)
	require.True(t, req.Amount.Decimal.Equal(decimal.RequireFromString("100.01")))
	require.NotNil(t, req.PaidAt)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	txn := txns[0]
	require.Equal(t, "ref_init_1", txn.Reference)
	require.Equal(t, enums.TransactionTypeCustomerToBusiness, txn.TransactionType)
	require.True(t, txn.ProviderAmount.Equal(decimal.RequireFromString("85.01")))
	require.True(t, txn.PlatformAmount.Equal(decimal.RequireFromString("15.00")))
	require.True(t, txn.ProviderPercentage.Equal(decimal.NewFromInt(85)))
	require.NotNil(t, txn.Channel)
	require.Equal(t, "mobile_money", *txn.Channel)
	require.ElementsMatch(t, []enums.OutboxEventType{enums.EventRequestStatusChanged, enums.EventPaymentSettled}, f.outboxTypes(t))

	outcome, err = f.deliver(t, body)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.Len(t, f.transactions(t), 1)
	require.Len(t, f.outboxTypes(t), 2)
}

func TestChargeConcurrentRedeliverySettlesOnce(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	body := chargeBody(t, &f.request.ID, "ref_init_1", 10000)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.engine.HandleWebhook(context.Background(), body, paystack.Sign(testSecret, body))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.ElementsMatch(t, []Outcome{OutcomeProcessed, OutcomeDuplicate}, outcomes)
	require.Len(t, f.transactions(t), 1)

	statusChanges := 0
	for _, typ := range f.outboxTypes(t) {
		if typ == enums.EventRequestStatusChanged {
			statusChanges++
		}
	}
	require.Equal(t, 1, statusChanges)
	require.Equal(t, enums.RequestStatusPaid, f.reload(t).Status)
}

func TestChargeDuplicateCaughtByGuard(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, true)
	body := chargeBody(t, &f.request.ID, "ref_init_1", 10000)

	_, err := f.deliver(t, body)
	require.NoError(t, err)
	outcome, err := f.deliver(t, body)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.Len(t, f.transactions(t), 1)
}

func TestChargeResolvedByStoredReference(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	require.NoError(t, f.conn.Model(&models.ServiceRequest{}).Where("id = ?", f.request.ID).
		Update("payment_reference", "ref_stored").Error)

	outcome, err := f.deliver(t, chargeBody(t, nil, "ref_stored", 10000))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
	require.Equal(t, enums.RequestStatusPaid, f.reload(t).Status)
}

func TestChargeForUnknownRequestReleasesGuard(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, true)
	_, err := f.deliver(t, chargeBody(t, nil, "ref_nobody", 10000))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	require.Empty(t, f.guard.seen)
	require.Empty(t, f.transactions(t))
}

func TestChargeOnCancelledRequestRecordsPaymentOnly(t *testing.T) {
	f := newFixture(t, enums.RequestStatusCancelled, false)
	outcome, err := f.deliver(t, chargeBody(t, &f.request.ID, "ref_late", 10000))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	req := f.reload(t)
	require.Equal(t, enums.RequestStatusCancelled, req.Status)
	require.Equal(t, enums.PaymentStatusPaid, req.PaymentStatus)
	require.Len(t, f.transactions(t), 1)
	require.Equal(t, []enums.OutboxEventType{enums.EventPaymentSettled}, f.outboxTypes(t))
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	outcome, err := f.deliver(t, []byte(`{"event":"subscription.create","data":{}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
}

func (f *fixture) settleAndComplete(t *testing.T) {
	t.Helper()
	f.settleAndCompleteFor(t, 10000)
}

func (f *fixture) settleAndCompleteFor(t *testing.T, amountMinor int64) {
	t.Helper()
	_, err := f.deliver(t, chargeBody(t, &f.request.ID, "ref_init_1", amountMinor))
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.ServiceRequest{}).Where("id = ?", f.request.ID).
		Updates(map[string]any{"status": enums.RequestStatusCompleted, "customer_confirmed_at": fixedNow}).Error)
}

func TestTransferRequiresPaymentAndConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaid", func(t *testing.T) {
		f := newFixture(t, enums.RequestStatusCompleted, false)
		_, err := f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "got %v", err)
		require.Zero(t, f.gateway.total())
	})

	t.Run("paid but unconfirmed", func(t *testing.T) {
		f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
		_, err := f.deliver(t, chargeBody(t, &f.request.ID, "ref_init_1", 10000))
		require.NoError(t, err)

		_, err = f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "got %v", err)
		require.Zero(t, f.gateway.total())
		require.Nil(t, f.transactions(t)[0].TransferCode)
	})
}

func TestTransferToProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndComplete(t)

	res, err := f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorCustomer, &f.request.CustomerID)
	require.NoError(t, err)
	require.Equal(t, "TRF_a", res.TransferCode)
	require.Equal(t, int64(8500), res.AmountMinor)
	require.Equal(t, enums.TransferStatusPending, res.Status)
	require.True(t, strings.HasPrefix(res.Reference, "transfer_"+f.request.ID.String()+"_"))
	require.Equal(t, "RCP_0123456789", f.gateway.transfers[0].Recipient)

	var provider models.Provider
	require.NoError(t, f.conn.First(&provider, "id = ?", f.provider.ID).Error)
	require.NotNil(t, provider.RecipientCode)
	require.Equal(t, "RCP_0123456789", *provider.RecipientCode)

	txn := f.transactions(t)[0]
	require.NotNil(t, txn.TransferCode)
	require.Equal(t, "TRF_a", *txn.TransferCode)
	require.Equal(t, enums.TransferStatusPending, *txn.TransferStatus)
	require.NotNil(t, txn.TransferInitiatedAt)
	require.Contains(t, f.outboxTypes(t), enums.EventTransferInitiated)

	_, err = f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	require.Equal(t, 1, f.gateway.count("transfer"))

	stranger := uuid.New()
	_, err = f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorCustomer, &stranger)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestTransferGatewayFailureLeavesLedger(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndComplete(t)
	f.gateway.transferErr = errors.New("connection reset")

	_, err := f.engine.TransferToProvider(context.Background(), f.request.ID, enums.ActorAdmin, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)

	txn := f.transactions(t)[0]
	require.Nil(t, txn.TransferCode)
	require.Nil(t, txn.TransferStatus)
	require.Nil(t, txn.TransferReference)
	require.Nil(t, txn.TransferInitiatedAt)
	require.NotContains(t, f.outboxTypes(t), enums.EventTransferInitiated)
	require.Equal(t, 1, f.gateway.count("transfer"))
}

func TestTransferPaysLedgerProviderAmount(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndCompleteFor(t, 1050)

	txn := f.transactions(t)[0]
	require.True(t, txn.ProviderAmount.Equal(decimal.RequireFromString("8.92")), "got %s", txn.ProviderAmount)

	res, err := f.engine.TransferToProvider(context.Background(), f.request.ID, enums.ActorAdmin, nil)
	require.NoError(t, err)
	require.Equal(t, int64(892), res.AmountMinor)
	require.Len(t, f.gateway.transfers, 1)
	require.Equal(t, int64(892), f.gateway.transfers[0].Amount)
}

func TestTransferConcurrentCallersInitiateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndComplete(t)

	// The second caller arrives while the first is waiting on the gateway.
	var (
		once      sync.Once
		secondErr error
	)
	f.gateway.onTransfer = func() {
		once.Do(func() {
			_, secondErr = f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
		})
	}

	res, err := f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorCustomer, &f.request.CustomerID)
	require.NoError(t, err)
	require.Equal(t, "TRF_a", res.TransferCode)
	require.True(t, pkgerrors.IsCode(secondErr, pkgerrors.CodeConflict), "got %v", secondErr)
	require.Equal(t, 1, f.gateway.count("transfer"))

	txn := f.transactions(t)[0]
	require.Equal(t, "TRF_a", *txn.TransferCode)
	require.Equal(t, res.Reference, *txn.TransferReference)
}

func TestTransferTakesOverAbandonedClaim(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndComplete(t)
	txn := f.transactions(t)[0]
	require.NoError(t, f.conn.Model(&models.Transaction{}).Where("id = ?", txn.ID).
		Updates(map[string]any{
			"transfer_status":       enums.TransferStatusPending,
			"transfer_reference":    "transfer_abandoned",
			"transfer_initiated_at": fixedNow.Add(-time.Hour),
		}).Error)

	res, err := f.engine.TransferToProvider(context.Background(), f.request.ID, enums.ActorAdmin, nil)
	require.NoError(t, err)
	require.Equal(t, "transfer_abandoned", res.Reference)
	require.Equal(t, "transfer_abandoned", f.gateway.transfers[0].Reference)

	// A fresh claim without a code still blocks.
	require.NoError(t, f.conn.Model(&models.Transaction{}).Where("id = ?", txn.ID).
		Updates(map[string]any{"transfer_code": nil, "transfer_initiated_at": fixedNow}).Error)
	_, err = f.engine.TransferToProvider(context.Background(), f.request.ID, enums.ActorAdmin, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	require.Equal(t, 1, f.gateway.count("transfer"))
}

func TestTransferWebhooksAndManualRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	f.settleAndComplete(t)

	_, err := f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
	require.NoError(t, err)

	outcome, err := f.deliver(t, transferBody(t, paystack.EventTransferFailed, "TRF_a", "insufficient balance"))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
	txn := f.transactions(t)[0]
	require.Equal(t, enums.TransferStatusFailed, *txn.TransferStatus)
	require.NotNil(t, txn.TransferFailureReason)
	require.Equal(t, "insufficient balance", *txn.TransferFailureReason)

	res, err := f.engine.TransferToProvider(ctx, f.request.ID, enums.ActorAdmin, nil)
	require.NoError(t, err)
	require.Equal(t, "TRF_b", res.TransferCode)
	require.Equal(t, 1, f.gateway.count("recipient"), "recipient is cached after first use")

	outcome, err = f.deliver(t, transferBody(t, paystack.EventTransferSuccess, "TRF_b", ""))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
	txn = f.transactions(t)[0]
	require.Equal(t, enums.TransferStatusSuccess, *txn.TransferStatus)
	require.NotNil(t, txn.TransferCompletedAt)
	require.Nil(t, txn.TransferFailureReason)

	outcome, err = f.deliver(t, transferBody(t, paystack.EventTransferSuccess, "TRF_b", ""))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	outcome, err = f.deliver(t, transferBody(t, paystack.EventTransferReversed, "TRF_unknown", ""))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
}

func TestVerifySettlesSuccessfulCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	require.NoError(t, f.conn.Model(&models.ServiceRequest{}).Where("id = ?", f.request.ID).
		Update("payment_reference", "ref_poll").Error)

	f.gateway.charge = &paystack.Charge{Status: "abandoned", Reference: "ref_poll", Amount: 10000, Currency: "GHS"}
	res, err := f.engine.Verify(ctx, "ref_poll")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Empty(t, f.transactions(t))

	f.gateway.charge.Status = "success"
	res, err = f.engine.Verify(ctx, "ref_poll")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, OutcomeProcessed, res.Outcome)
	require.True(t, res.Amount.Equal(decimal.NewFromInt(100)))
	require.Equal(t, enums.RequestStatusPaid, f.reload(t).Status)

	res, err = f.engine.Verify(ctx, "ref_poll")
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	require.Len(t, f.transactions(t), 1)
}

func TestReconcileVerifiesStalePayments(t *testing.T) {
	f := newFixture(t, enums.RequestStatusAwaitingPayment, false)
	require.NoError(t, f.conn.Model(&models.ServiceRequest{}).Where("id = ?", f.request.ID).
		Updates(map[string]any{
			"payment_reference": "ref_poll",
			"payment_status":    enums.PaymentStatusAwaitingPayment,
			"updated_at":        fixedNow.Add(-time.Hour),
		}).Error)
	f.gateway.charge = &paystack.Charge{Status: "success", Reference: "ref_poll", Amount: 10000, Currency: "GHS"}

	report, err := f.engine.Reconcile(context.Background(), fixedNow.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, ReconcileReport{Checked: 1, Settled: 1}, report)
	require.Equal(t, enums.PaymentStatusPaid, f.reload(t).PaymentStatus)
}

func TestSetupPayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enums.RequestStatusPending, false)
	require.NoError(t, f.conn.Model(&models.Provider{}).Where("id = ?", f.provider.ID).
		Update("recipient_code", "RCP_old").Error)

	res, err := f.engine.SetupPayout(ctx, f.provider.ID, PayoutInput{
		BusinessName:  "Mensah Towing",
		AccountNumber: "0551234567",
		BankCode:      "MTN",
		AccountType:   enums.PayoutAccountMobileMoney,
	})
	require.NoError(t, err)
	require.Equal(t, PayoutResult{SubaccountCode: "ACCT_towline", AccountName: "KOFI MENSAH"}, *res)

	var provider models.Provider
	require.NoError(t, f.conn.First(&provider, "id = ?", f.provider.ID).Error)
	require.Equal(t, enums.PayoutAccountMobileMoney, *provider.PayoutAccountType)
	require.Equal(t, "0551234567", *provider.PayoutAccountNumber)
	require.Equal(t, "ACCT_towline", *provider.SubaccountCode)
	require.Nil(t, provider.RecipientCode)
	require.Equal(t, []enums.OutboxEventType{enums.EventPayoutConfigured}, f.outboxTypes(t))

	f.gateway.resolveErr = errors.New("account not found")
	_, err = f.engine.SetupPayout(ctx, f.provider.ID, PayoutInput{AccountNumber: "1", BankCode: "GCB"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	require.Equal(t, 1, f.gateway.count("subaccount"))
}
