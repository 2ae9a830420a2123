// Package bootstrap brings up the process-wide clients every binary shares.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/instance"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/migrate"
	"github.com/towline/towline-backend/pkg/pubsub"
	"github.com/towline/towline-backend/pkg/redis"
)

// Runtime is the set of clients a binary started with.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client

	closers []func() error
}

type needs struct {
	redis  bool
	pubsub bool
}

// Option asks Start for an optional client.
type Option func(*needs)

func WithRedis() Option  { return func(n *needs) { n.redis = true } }
func WithPubSub() Option { return func(n *needs) { n.pubsub = true } }

// Start loads .env and config, rebuilds the logger at the configured level,
// opens the database, runs dev migrations and dials whatever opts ask for.
// On error every client opened so far is closed.
func Start(ctx context.Context, kind string, opts ...Option) (rt *Runtime, err error) {
	var want needs
	for _, opt := range opts {
		opt(&want)
	}

	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	rt = &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if rt.DB, err = db.New(ctx, cfg.DB, rt.Logger); err != nil {
		return rt, fmt.Errorf("database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)

	if err = migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		return rt, fmt.Errorf("dev migrations: %w", err)
	}

	if want.redis {
		if rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger); err != nil {
			return rt, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, rt.Redis.Close)
	}

	if want.pubsub {
		if rt.PubSub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger); err != nil {
			return rt, fmt.Errorf("pubsub: %w", err)
		}
		rt.closers = append(rt.closers, rt.PubSub.Close)
	}
	return rt, nil
}

// Close shuts clients down in reverse order of opening.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the standard
// process log fields plus extra.
func (rt *Runtime) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"env":         rt.Config.App.Env,
		"serviceKind": rt.Kind,
		"instance":    instance.ID(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return rt.Logger.WithFields(ctx, fields), stop
}

// Exit logs err and terminates the process after closing the runtime.
func (rt *Runtime) Exit(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(ctx, "close runtime", closeErr)
	}
	os.Exit(1)
}

// Finish closes the runtime and reports how the main loop ended. A
// cancelled context counts as a clean stop.
func (rt *Runtime) Finish(ctx context.Context, runErr error) {
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rt.Exit(ctx, rt.Kind+" stopped unexpectedly", runErr)
	}
	if err := rt.Close(); err != nil {
		rt.Logger.Error(ctx, "close runtime", err)
		os.Exit(1)
	}
	rt.Logger.Info(ctx, rt.Kind+" shut down gracefully")
}

// Fatal reports a Start failure, when no runtime logger exists yet.
func Fatal(kind string, err error) {
	logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), "failed to start "+kind, err)
	os.Exit(1)
}
