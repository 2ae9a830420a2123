package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/towline/towline-backend/pkg/logger"
)

type fakeProviderRepo struct {
	cutoff time.Time
	rows   int64
	err    error
	called int
}

func (f *fakeProviderRepo) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.cutoff = cutoff
	return f.rows, f.err
}

func TestProviderOfflineJobMarksStaleProviders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeProviderRepo{rows: 2}
	jobIface, err := NewProviderOfflineJob(ProviderOfflineJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("NewProviderOfflineJob: %v", err)
	}
	job := jobIface.(*providerOfflineJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !repo.cutoff.Equal(now.Add(-defaultProviderOfflineAfter)) {
		t.Fatalf("unexpected cutoff %s", repo.cutoff)
	}
	if repo.called != 1 {
		t.Fatalf("expected one call, got %d", repo.called)
	}
}

func TestProviderOfflineJobPropagatesError(t *testing.T) {
	jobIface, err := NewProviderOfflineJob(ProviderOfflineJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: &fakeProviderRepo{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewProviderOfflineJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
