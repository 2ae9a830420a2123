package requests

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/towline/towline-backend/internal/lifecycle"
	"github.com/towline/towline-backend/internal/matching"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

// RequestDTO is the participant view of a service request.
type RequestDTO struct {
	ID                  uuid.UUID           `json:"id"`
	TrackingCode        string              `json:"trackingCode"`
	CustomerID          uuid.UUID           `json:"customerId"`
	ProviderID          *uuid.UUID          `json:"providerId,omitempty"`
	ServiceType         string              `json:"serviceType"`
	Description         *string             `json:"description,omitempty"`
	Status              enums.RequestStatus `json:"status"`
	CustomerLat         *float64            `json:"customerLat,omitempty"`
	CustomerLng         *float64            `json:"customerLng,omitempty"`
	ProviderLat         *float64            `json:"providerLat,omitempty"`
	ProviderLng         *float64            `json:"providerLng,omitempty"`
	QuotedAmount        *decimal.Decimal    `json:"quotedAmount,omitempty"`
	Amount              *decimal.Decimal    `json:"amount,omitempty"`
	PaymentStatus       enums.PaymentStatus `json:"paymentStatus"`
	PaymentReference    *string             `json:"paymentReference,omitempty"`
	CustomerConfirmedAt *time.Time          `json:"customerConfirmedAt,omitempty"`
	CancelledBy         *enums.ActorRole    `json:"cancelledBy,omitempty"`
	CancelReason        *string             `json:"cancelReason,omitempty"`
	PaidAt              *time.Time          `json:"paidAt,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// TransitionDTO reports a status change made through the API.
type TransitionDTO struct {
	Request        RequestDTO          `json:"request"`
	PreviousStatus enums.RequestStatus `json:"previousStatus"`
	Changed        bool                `json:"changed"`
}

// CreatedDTO is the response to a new request.
type CreatedDTO struct {
	Request RequestDTO             `json:"request"`
	Match   *matching.AssignResult `json:"match,omitempty"`
}

func NewRequestDTO(req *models.ServiceRequest) RequestDTO {
	if req == nil {
		return RequestDTO{}
	}
	return RequestDTO{
		ID:                  req.ID,
		TrackingCode:        req.TrackingCode,
		CustomerID:          req.CustomerID,
		ProviderID:          req.ProviderID,
		ServiceType:         req.ServiceType,
		Description:         req.Description,
		Status:              req.Status,
		CustomerLat:         req.CustomerLat,
		CustomerLng:         req.CustomerLng,
		ProviderLat:         req.ProviderLat,
		ProviderLng:         req.ProviderLng,
		QuotedAmount:        nullable(req.QuotedAmount),
		Amount:              nullable(req.Amount),
		PaymentStatus:       req.PaymentStatus,
		PaymentReference:    req.PaymentReference,
		CustomerConfirmedAt: req.CustomerConfirmedAt,
		CancelledBy:         req.CancelledBy,
		CancelReason:        req.CancelReason,
		PaidAt:              req.PaidAt,
		CreatedAt:           req.CreatedAt,
		UpdatedAt:           req.UpdatedAt,
	}
}

func NewTransitionDTO(res *lifecycle.Result) TransitionDTO {
	if res == nil {
		return TransitionDTO{}
	}
	return TransitionDTO{
		Request:        NewRequestDTO(res.Request),
		PreviousStatus: res.Previous,
		Changed:        res.Changed,
	}
}

func NewCreatedDTO(res *CreateResult) CreatedDTO {
	if res == nil {
		return CreatedDTO{}
	}
	return CreatedDTO{Request: NewRequestDTO(res.Request), Match: res.Match}
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
