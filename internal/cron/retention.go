package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/towline/towline-backend/pkg/logger"
)

const (
	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultNotificationRetention = 30 * 24 * time.Hour
	// Rows parked in the DLQ sit at the attempt ceiling.
	defaultParkedAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type notificationsCleanupRepo interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sweepJob deletes rows created before now minus retention.
type sweepJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	sweep     func(ctx context.Context, cutoff time.Time) (int64, error)
	now       func() time.Time
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.sweep(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"job":          j.name,
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention sweep complete")
	return nil
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
	// MinAttempts marks a never-published row as parked. Defaults to the
	// publisher's attempt ceiling.
	MinAttempts int
}

// NewOutboxRetentionJob removes published and parked outbox rows.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("outbox retention: logger required")
	case params.DB == nil:
		return nil, errors.New("outbox retention: db required")
	case params.Repository == nil:
		return nil, errors.New("outbox retention: repository required")
	}
	parked := orDefault(params.MinAttempts, defaultParkedAttempts)
	return &sweepJob{
		name:      "outbox-retention",
		logg:      params.Logger,
		retention: orDefault(params.Retention, defaultOutboxRetention),
		now:       time.Now,
		sweep: func(ctx context.Context, cutoff time.Time) (n int64, err error) {
			err = params.DB.WithTx(ctx, func(tx *gorm.DB) error {
				n, err = params.Repository.DeletePublishedBefore(ctx, tx, cutoff, parked)
				return err
			})
			return n, err
		},
	}, nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository notificationsCleanupRepo
	Retention  time.Duration
}

// NewNotificationCleanupJob removes notifications their recipient read.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("notification cleanup: logger required")
	case params.Repository == nil:
		return nil, errors.New("notification cleanup: repository required")
	}
	return &sweepJob{
		name:      "notification-cleanup",
		logg:      params.Logger,
		retention: orDefault(params.Retention, defaultNotificationRetention),
		now:       time.Now,
		sweep:     params.Repository.DeleteReadBefore,
	}, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
