package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

type customerTokens interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	UpdateFCMToken(ctx context.Context, id uuid.UUID, token *string) error
}

type providerTokens interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	UpdateFCMToken(ctx context.Context, id uuid.UUID, token *string) error
}

// Directory resolves push tokens for notification recipients.
type Directory struct {
	customers customerTokens
	providers providerTokens
}

func NewDirectory(customers customerTokens, providers providerTokens) *Directory {
	return &Directory{customers: customers, providers: providers}
}

// Token returns the recipient's device token, or "" when none is stored.
func (d *Directory) Token(ctx context.Context, role enums.ActorRole, id uuid.UUID) (string, error) {
	var token *string
	switch role {
	case enums.ActorCustomer:
		c, err := d.customers.FindByID(ctx, id)
		if err != nil {
			return "", ignoreMissing(err)
		}
		token = c.FCMToken
	case enums.ActorProvider:
		p, err := d.providers.FindByID(ctx, id)
		if err != nil {
			return "", ignoreMissing(err)
		}
		token = p.FCMToken
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}

// Clear drops a token FCM reported as unregistered.
func (d *Directory) Clear(ctx context.Context, role enums.ActorRole, id uuid.UUID) error {
	switch role {
	case enums.ActorCustomer:
		return d.customers.UpdateFCMToken(ctx, id, nil)
	case enums.ActorProvider:
		return d.providers.UpdateFCMToken(ctx, id, nil)
	}
	return nil
}

// Writers maps each device-owning role to its token store.
func (d *Directory) Writers() map[enums.ActorRole]TokenWriter {
	return map[enums.ActorRole]TokenWriter{
		enums.ActorCustomer: d.customers,
		enums.ActorProvider: d.providers,
	}
}

func ignoreMissing(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
