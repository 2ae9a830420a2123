package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/logger"
)

const heartbeatInterval = time.Minute

var errConsumerExited = errors.New("consumer exited")

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer consumer
}

type named[T any] struct {
	name string
	v    T
}

// Service supervises the event consumers. The first consumer to stop
// stops the worker.
type Service struct {
	logg      *logger.Logger
	deps      []named[pinger]
	consumers []named[consumer]
}

func NewService(params ServiceParams) (*Service, error) {
	deps := []named[pinger]{
		{"database", params.DB},
		{"redis", params.Redis},
		{"pubsub", params.PubSub},
	}
	for _, d := range deps {
		if d.v == nil {
			return nil, fmt.Errorf("%s client is required", d.name)
		}
	}
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.NotificationConsumer == nil:
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		logg:      params.Logger,
		deps:      deps,
		consumers: []named[consumer]{{"notifications", params.NotificationConsumer}},
	}, nil
}

func (s *Service) ready(ctx context.Context) error {
	for _, d := range s.deps {
		if err := d.v.Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", d.name, err)
		}
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "worker dependencies not ready", err)
		return err
	}
	s.logg.Info(ctx, "worker dependencies ready")

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		g.Go(func() error {
			err := c.v.Run(s.logg.WithField(gctx, "consumer", c.name))
			if err == nil {
				err = errConsumerExited
			}
			return fmt.Errorf("%s: %w", c.name, err)
		})
	}
	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	return err
}

func (s *Service) heartbeat(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
