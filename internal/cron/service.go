package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 5 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service wakes up every Interval and, while holding the lock, runs the
// jobs whose cadence has elapsed.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
	lastRun    map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   orDefault(params.Interval, defaultInterval),
		jobTimeout: orDefault(params.JobTimeout, defaultJobTimeout),
		now:        time.Now,
		lastRun:    map[string]time.Time{},
	}, nil
}

// Run blocks until ctx is canceled. The first pass starts immediately.
func (s *Service) Run(ctx context.Context) error {
	s.pass(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Service) pass(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "cron pass failed", err)
	}
}

// runCycle runs the due jobs in registration order under the lock. A pass
// with nothing due never touches the lock.
func (s *Service) runCycle(ctx context.Context) error {
	due := s.dueEntries()
	if len(due) == 0 {
		return nil
	}

	held, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("cron: acquire lock: %w", err)
	case !held:
		s.logg.Debug(ctx, "cron lock held by another replica")
		return nil
	}
	defer s.release(ctx)

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runJob(ctx, entry.Job)
		s.lastRun[entry.Job.Name()] = s.now()
	}
	return nil
}

func (s *Service) release(ctx context.Context) {
	if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.logg.Error(ctx, "release cron lock", err)
	}
}

// dueEntries returns entries never run, run every pass, or whose cadence
// has elapsed.
func (s *Service) dueEntries() []Entry {
	now := s.now()
	var due []Entry
	for _, entry := range s.registry.Entries() {
		last, seen := s.lastRun[entry.Job.Name()]
		if seen && entry.Every > 0 && now.Sub(last) < entry.Every {
			continue
		}
		due = append(due, entry)
	}
	return due
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)

	s.metrics.ObserveRun(name, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Debug(jobCtx, "job completed")
}
