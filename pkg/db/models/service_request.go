package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/enums"
)

// ServiceRequest is a customer's request for roadside assistance.
type ServiceRequest struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TrackingCode string     `gorm:"column:tracking_code;not null;uniqueIndex"`
	CustomerID   uuid.UUID  `gorm:"column:customer_id;type:uuid;not null"`
	ProviderID   *uuid.UUID `gorm:"column:provider_id;type:uuid"`
	ServiceType  string     `gorm:"column:service_type;not null"`
	Description  *string    `gorm:"column:description"`

	Status enums.RequestStatus `gorm:"column:status;not null;default:pending"`

	CustomerLat               *float64   `gorm:"column:customer_lat"`
	CustomerLng               *float64   `gorm:"column:customer_lng"`
	CustomerLocationUpdatedAt *time.Time `gorm:"column:customer_location_updated_at"`
	ProviderLat               *float64   `gorm:"column:provider_lat"`
	ProviderLng               *float64   `gorm:"column:provider_lng"`
	ProviderLocationUpdatedAt *time.Time `gorm:"column:provider_location_updated_at"`

	QuotedAmount        decimal.NullDecimal `gorm:"column:quoted_amount;type:numeric(12,2)"`
	Amount              decimal.NullDecimal `gorm:"column:amount;type:numeric(12,2)"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;not null;default:unpaid"`
	PaymentReference    *string             `gorm:"column:payment_reference;uniqueIndex"`
	CustomerEmail       string              `gorm:"column:customer_email;not null"`
	CustomerConfirmedAt *time.Time          `gorm:"column:customer_confirmed_at"`

	CancelledBy  *enums.ActorRole `gorm:"column:cancelled_by"`
	CancelReason *string          `gorm:"column:cancel_reason"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
}

func (ServiceRequest) TableName() string { return "service_requests" }

func (r *ServiceRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// HasCustomerLocation reports whether both customer coordinates are set.
func (r *ServiceRequest) HasCustomerLocation() bool {
	return r != nil && r.CustomerLat != nil && r.CustomerLng != nil
}
