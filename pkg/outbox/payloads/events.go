package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/towline/towline-backend/pkg/enums"
)

const (
	ChangeTypeUpdate     = "UPDATE"
	TableServiceRequests = "service_requests"
)

// RequestSnapshot is the row image carried in record/old_record.
type RequestSnapshot struct {
	ID            uuid.UUID           `json:"id"`
	TrackingCode  string              `json:"tracking_code"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	ProviderID    *uuid.UUID          `json:"provider_id,omitempty"`
	Status        enums.RequestStatus `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// RequestStatusChanged is emitted for every lifecycle edge a request takes.
type RequestStatusChanged struct {
	Type           string              `json:"type"`
	Table          string              `json:"table"`
	RequestID      uuid.UUID           `json:"requestId"`
	PreviousStatus enums.RequestStatus `json:"previousStatus"`
	NewStatus      enums.RequestStatus `json:"newStatus"`
	Actor          enums.ActorRole     `json:"actor"`
	CustomerID     uuid.UUID           `json:"customerId"`
	ProviderID     *uuid.UUID          `json:"providerId,omitempty"`
	TrackingCode   string              `json:"trackingCode"`
	Record         RequestSnapshot     `json:"record"`
	OldRecord      RequestSnapshot     `json:"old_record"`
}

// PaymentSettledEvent records a captured customer charge and its split.
type PaymentSettledEvent struct {
	RequestID      uuid.UUID       `json:"requestId"`
	TransactionID  uuid.UUID       `json:"transactionId"`
	ProviderID     *uuid.UUID      `json:"providerId,omitempty"`
	Reference      string          `json:"reference"`
	Amount         decimal.Decimal `json:"amount"`
	ProviderAmount decimal.Decimal `json:"providerAmount"`
	PlatformAmount decimal.Decimal `json:"platformAmount"`
	Currency       string          `json:"currency"`
	PaidAt         time.Time       `json:"paidAt"`
}

// TransferInitiatedEvent is emitted once the gateway accepted a payout transfer.
type TransferInitiatedEvent struct {
	RequestID         uuid.UUID            `json:"requestId"`
	TransactionID     uuid.UUID            `json:"transactionId"`
	ProviderID        uuid.UUID            `json:"providerId"`
	TransferCode      string               `json:"transferCode"`
	TransferReference string               `json:"transferReference"`
	AmountMinor       int64                `json:"amountMinor"`
	Status            enums.TransferStatus `json:"status"`
}

// TransferUpdatedEvent mirrors gateway transfer webhooks.
type TransferUpdatedEvent struct {
	RequestID     uuid.UUID            `json:"requestId"`
	TransactionID uuid.UUID            `json:"transactionId"`
	TransferCode  string               `json:"transferCode"`
	Status        enums.TransferStatus `json:"status"`
	Reason        string               `json:"reason,omitempty"`
}

// PayoutConfiguredEvent is emitted when a provider's settlement account is set.
type PayoutConfiguredEvent struct {
	ProviderID     uuid.UUID               `json:"providerId"`
	SubaccountCode string                  `json:"subaccountCode"`
	AccountName    string                  `json:"accountName"`
	AccountType    enums.PayoutAccountType `json:"accountType"`
}
