package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
)

// Transaction records one verified customer payment and its payout leg.
type Transaction struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ServiceRequestID uuid.UUID             `gorm:"column:service_request_id;type:uuid;not null"`
	ProviderID       *uuid.UUID            `gorm:"column:provider_id;type:uuid"`
	Reference        string                `gorm:"column:reference;not null;uniqueIndex"`
	TransactionType  enums.TransactionType `gorm:"column:transaction_type;not null"`
	Currency         string                `gorm:"column:currency;not null"`
	Channel          *string               `gorm:"column:channel"`

	Amount             decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	ProviderPercentage decimal.Decimal `gorm:"column:provider_percentage;type:numeric(5,2);not null"`
	PlatformPercentage decimal.Decimal `gorm:"column:platform_percentage;type:numeric(5,2);not null"`
	ProviderAmount     decimal.Decimal `gorm:"column:provider_amount;type:numeric(12,2);not null"`
	PlatformAmount     decimal.Decimal `gorm:"column:platform_amount;type:numeric(12,2);not null"`

	TransferCode          *string               `gorm:"column:transfer_code"`
	TransferReference     *string               `gorm:"column:transfer_reference"`
	TransferStatus        *enums.TransferStatus `gorm:"column:transfer_status"`
	TransferInitiatedAt   *time.Time            `gorm:"column:transfer_initiated_at"`
	TransferCompletedAt   *time.Time            `gorm:"column:transfer_completed_at"`
	TransferFailureReason *string               `gorm:"column:transfer_failure_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// TransferInFlight reports whether a transfer is claimed, pending or
// already succeeded.
func (t *Transaction) TransferInFlight() bool {
	if t == nil || t.TransferStatus == nil {
		return false
	}
	return !t.TransferStatus.Retriable()
}

// TransferClaimStale reports whether a transfer was claimed before cutoff but
// never got a gateway code back.
func (t *Transaction) TransferClaimStale(cutoff time.Time) bool {
	if t == nil || t.TransferStatus == nil || *t.TransferStatus != enums.TransferStatusPending {
		return false
	}
	return t.TransferCode == nil && t.TransferInitiatedAt != nil && t.TransferInitiatedAt.Before(cutoff)
}
