package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/towline/towline-backend/pkg/db/models"
	"github.com/towline/towline-backend/pkg/enums"
)

const (
	maxDLQErrorLen  = 1024
	defaultDLQLimit = 50
)

// DLQRepository stores outbox rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		msg := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil, nil when the event never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns the newest dead letters, optionally only those with reason.
func (r *DLQRepository) List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQLimit
	}
	query := r.db.WithContext(ctx).Order("failed_at DESC")
	if reason != "" {
		query = query.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	err := query.Limit(limit).Find(&rows).Error
	return rows, err
}

// ReplayReplayable re-queues up to limit dead letters whose reason allows a
// retry. The outbox row is reset to zero attempts (or recreated if retention
// already removed it) and the dead letter is deleted, in one transaction.
func (r *DLQRepository) ReplayReplayable(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultDLQLimit
	}
	replayed := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.OutboxDLQ
		query := tx.Where("error_reason = ?", enums.OutboxDLQReasonMaxAttempts).Order("failed_at ASC").Limit(limit)
		if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := query.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if err := requeue(tx, row); err != nil {
				return fmt.Errorf("requeue %s: %w", row.EventID, err)
			}
			if err := tx.Delete(&models.OutboxDLQ{}, "id = ?", row.ID).Error; err != nil {
				return fmt.Errorf("delete dlq %s: %w", row.ID, err)
			}
			replayed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return replayed, nil
}

func requeue(tx *gorm.DB, row models.OutboxDLQ) error {
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ?", row.EventID).
		Updates(map[string]any{"attempt_count": 0, "last_error": nil, "published_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return tx.Create(&models.OutboxEvent{
		ID:            row.EventID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
	}).Error
}
