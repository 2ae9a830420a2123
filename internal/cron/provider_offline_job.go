package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/towline/towline-backend/pkg/logger"
)

const defaultProviderOfflineAfter = 30 * time.Minute

type ProviderOfflineJobParams struct {
	Logger     *logger.Logger
	Repository providerOfflineRepo
	After      time.Duration
}

type providerOfflineRepo interface {
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewProviderOfflineJob takes providers whose location stopped updating out
// of the matching pool.
func NewProviderOfflineJob(params ProviderOfflineJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("providers repository required")
	}
	after := params.After
	if after <= 0 {
		after = defaultProviderOfflineAfter
	}
	return &providerOfflineJob{
		logg:  params.Logger,
		repo:  params.Repository,
		after: after,
		now:   time.Now,
	}, nil
}

type providerOfflineJob struct {
	logg  *logger.Logger
	repo  providerOfflineRepo
	after time.Duration
	now   func() time.Time
}

func (j *providerOfflineJob) Name() string { return "provider-offline" }

func (j *providerOfflineJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	rows, err := j.repo.MarkStaleOffline(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("provider offline sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"providers_idle": rows,
	})
	j.logg.Info(logCtx, "provider offline sweep complete")
	return nil
}
