package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/towline/towline-backend/api/routes"
	"github.com/towline/towline-backend/pkg/bootstrap"
)

const (
	kind            = "api"
	shutdownTimeout = 20 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	boot := context.Background()
	rt, err := bootstrap.Start(boot, kind, bootstrap.WithRedis())
	if err != nil {
		bootstrap.Fatal(kind, err)
	}

	app, err := buildServices(rt.Config, rt.Logger, rt.DB, rt.Redis)
	if err != nil {
		rt.Exit(boot, "failed to wire services", err)
	}

	// Cloud Run injects PORT.
	addr := ":" + rt.Config.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	ctx, stop := rt.SignalContext(map[string]any{"addr": addr})
	defer stop()

	go app.tracking.Run(ctx, sweepInterval)

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(rt.Config, rt.Logger, rt.DB, rt.Redis, app.routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.Logger.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		rt.Finish(ctx, err)
		return
	case <-ctx.Done():
	}

	rt.Logger.Info(ctx, "draining api server")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.Finish(ctx, multierr.Combine(
		server.Shutdown(drainCtx),
		app.tracking.Shutdown(drainCtx),
	))
}
