package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
)

// Sink persists the latest sample of a session.
type Sink interface {
	Persist(ctx context.Context, target Target, sample Sample) error
}

// Ticker is the flush clock. time.Ticker satisfies it through NewTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewTicker wraps time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Session is one actor's sampling loop. Samples are handed to the loop
// goroutine and only the newest unflushed one is written on each tick.
type Session struct {
	target   Target
	interval time.Duration
	sink     Sink
	logg     *logger.Logger
	loops    *atomic.Int64

	samples chan Sample
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}

	flushes atomic.Int64
}

func newSession(target Target, interval time.Duration, sink Sink, logg *logger.Logger, loops *atomic.Int64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		target:   target,
		interval: interval,
		sink:     sink,
		logg:     logg,
		loops:    loops,
		samples:  make(chan Sample),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *Session) start(ticker Ticker) {
	s.wg.Add(1)
	if s.loops != nil {
		s.loops.Add(1)
	}
	go s.run(ticker)
}

func (s *Session) run(ticker Ticker) {
	defer func() {
		ticker.Stop()
		if s.loops != nil {
			s.loops.Add(-1)
		}
		close(s.done)
		s.wg.Done()
	}()

	var (
		pending     *Sample
		lastFlushed time.Time
	)
	for {
		select {
		case <-s.ctx.Done():
			return
		case sample := <-s.samples:
			if !sample.RecordedAt.After(lastFlushed) {
				continue
			}
			if pending == nil || !sample.RecordedAt.Before(pending.RecordedAt) {
				next := sample
				pending = &next
			}
		case <-ticker.C():
			if pending == nil || s.ctx.Err() != nil {
				continue
			}
			if err := s.sink.Persist(s.ctx, s.target, *pending); err != nil {
				if s.logg != nil {
					logCtx := s.logg.WithServiceRequestID(s.ctx, s.target.RequestID.String())
					s.logg.Error(s.logg.WithActorRole(logCtx, string(s.target.Role)), "tracking flush failed", err)
				}
				continue
			}
			lastFlushed = pending.RecordedAt
			pending = nil
			s.flushes.Add(1)
		}
	}
}

// Target returns who the session belongs to.
func (s *Session) Target() Target {
	return s.target
}

// Interval is the flush cadence.
func (s *Session) Interval() time.Duration {
	return s.interval
}

// Flushes counts successful sink writes.
func (s *Session) Flushes() int64 {
	return s.flushes.Load()
}

// Offer hands a sample to the loop.
func (s *Session) Offer(ctx context.Context, sample Sample) error {
	select {
	case <-s.ctx.Done():
		return pkgerrors.New(pkgerrors.CodePrecondition, "tracking session stopped")
	case <-ctx.Done():
		return ctx.Err()
	case s.samples <- sample:
		return nil
	}
}

// Stop cancels the loop and waits for it to exit. Nothing is flushed after
// Stop returns.
func (s *Session) Stop() {
	s.cancel()
	s.wg.Wait()
}

// StopContext is Stop bounded by ctx.
func (s *Session) StopContext(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop tracking session %s: %w", s.target.Key, ctx.Err())
	}
}
