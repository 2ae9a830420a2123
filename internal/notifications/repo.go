package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/pagination"
)

// EventRecipientConstraint makes redelivered events store one row per recipient.
const EventRecipientConstraint = "ux_notifications_event_recipient"

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type listNotificationsParams struct {
	RecipientID   uuid.UUID
	RecipientRole enums.ActorRole
	Limit         int
	Cursor        *pagination.Cursor
	UnreadOnly    bool
}

// notificationMarkResult separates "not yours or missing" from "already read".
type notificationMarkResult struct {
	Updated bool
	Found   bool
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) table(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{})
}

func ownedBy(recipientID uuid.UUID, role enums.ActorRole) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("recipient_id = ?", recipientID)
		if role != "" {
			q = q.Where("recipient_role = ?", role)
		}
		return q
	}
}

func unread(q *gorm.DB) *gorm.DB { return q.Where("read_at IS NULL") }

// olderThan continues a newest-first walk after c.
func olderThan(c *pagination.Cursor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if c == nil {
			return q
		}
		return q.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}
}

// Create inserts the row. It reports false when the event already produced
// a notification for this recipient.
func (r *gormRepository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	err := r.db.WithContext(ctx).Create(notification).Error
	switch {
	case err == nil:
		return true, nil
	case notification.EventID != nil && dbpkg.IsUniqueViolation(err, EventRecipientConstraint):
		return false, nil
	default:
		return false, err
	}
}

func (r *gormRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	q := r.table(ctx).Scopes(ownedBy(params.RecipientID, params.RecipientRole), olderThan(params.Cursor))
	if params.UnreadOnly {
		q = q.Scopes(unread)
	}
	var rows []models.Notification
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	var row models.Notification
	err := r.table(ctx).Select("id", "read_at").
		Scopes(ownedBy(recipientID, "")).
		Where("id = ?", notificationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notificationMarkResult{}, nil
	}
	if err != nil {
		return notificationMarkResult{}, err
	}
	if row.ReadAt != nil {
		return notificationMarkResult{Found: true}, nil
	}

	res := r.table(ctx).Where("id = ?", notificationID).Scopes(unread).UpdateColumn("read_at", now)
	return notificationMarkResult{Found: true, Updated: res.RowsAffected > 0}, res.Error
}

func (r *gormRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error) {
	res := r.table(ctx).Scopes(ownedBy(recipientID, ""), unread).UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore removes read notifications created before cutoff.
func (r *gormRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
