package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/pagination"
	"github.com/towline/towline-backend/pkg/types"
)

const maxDeviceTokenLength = 4096

// Service defines notification list/read operations and device registration.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	RegisterDevice(ctx context.Context, role enums.ActorRole, actorID uuid.UUID, token string) error
}

// TokenWriter stores a push token on a customer or provider row.
type TokenWriter interface {
	UpdateFCMToken(ctx context.Context, id uuid.UUID, token *string) error
}

type service struct {
	repo    Repository
	devices map[enums.ActorRole]TokenWriter
	now     func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	RecipientID   uuid.UUID
	RecipientRole enums.ActorRole
	Limit         int
	Cursor        string
	UnreadOnly    bool
}

// NotificationDTO is the recipient's view of a notification.
type NotificationDTO struct {
	ID               uuid.UUID              `json:"id"`
	ServiceRequestID *uuid.UUID             `json:"serviceRequestId,omitempty"`
	Type             enums.NotificationType `json:"type"`
	Title            string                 `json:"title"`
	Body             string                 `json:"body"`
	ReadAt           *time.Time             `json:"readAt,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// ListResult is one page of a recipient's notifications.
type ListResult = types.Page[NotificationDTO]

// NewService wires notifications dependencies. devices maps the customer
// and provider roles to the store holding their push tokens.
func NewService(repo Repository, devices map[enums.ActorRole]TokenWriter) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, devices: devices, now: time.Now}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	var after *pagination.Cursor
	if params.Cursor != "" {
		c, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		after = c
	}

	rows, next, err := s.repo.List(ctx, listNotificationsParams{
		RecipientID:   params.RecipientID,
		RecipientRole: params.RecipientRole,
		Limit:         params.Limit,
		Cursor:        after,
		UnreadOnly:    params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list notifications")
	}

	page := &ListResult{Items: make([]NotificationDTO, len(rows))}
	for i, row := range rows {
		page.Items[i] = toDTO(row)
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, recipientID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	count, err := s.repo.MarkAllRead(ctx, recipientID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notifications read")
	}
	return count, nil
}

// RegisterDevice stores the caller's push token. An empty token clears it.
func (s *service) RegisterDevice(ctx context.Context, role enums.ActorRole, actorID uuid.UUID, token string) error {
	writer, ok := s.devices[role]
	if !ok || writer == nil {
		return pkgerrors.New(pkgerrors.CodeForbidden, "role cannot register devices")
	}
	if actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	token = strings.TrimSpace(token)
	if len(token) > maxDeviceTokenLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "device token too long")
	}
	var value *string
	if token != "" {
		value = &token
	}
	if err := writer.UpdateFCMToken(ctx, actorID, value); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store device token")
	}
	return nil
}

func toDTO(n models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:               n.ID,
		ServiceRequestID: n.ServiceRequestID,
		Type:             n.Type,
		Title:            n.Title,
		Body:             n.Body,
		ReadAt:           n.ReadAt,
		CreatedAt:        n.CreatedAt,
	}
}
