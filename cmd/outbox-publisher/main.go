package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/towline/towline-backend/pkg/bootstrap"
	"github.com/towline/towline-backend/pkg/metrics"
	"github.com/towline/towline-backend/pkg/outbox"
	"github.com/towline/towline-backend/pkg/outbox/registry"
)

const kind = "outbox-publisher"

func main() {
	replay := flag.Int("replay-dlq", 0, "re-queue up to N dead letters that failed on max attempts, then exit")
	flag.Parse()

	boot := context.Background()
	opts := []bootstrap.Option{}
	if *replay == 0 {
		opts = append(opts, bootstrap.WithPubSub())
	}
	rt, err := bootstrap.Start(boot, kind, opts...)
	if err != nil {
		bootstrap.Fatal(kind, err)
	}

	dlq := outbox.NewDLQRepository(rt.DB.DB())
	if *replay > 0 {
		n, err := dlq.ReplayReplayable(boot, *replay)
		if err != nil {
			rt.Exit(boot, "dlq replay failed", err)
		}
		rt.Logger.Info(rt.Logger.WithField(boot, "replayed", n), fmt.Sprintf("re-queued %d dead letters", n))
		rt.Finish(boot, nil)
		return
	}

	routes, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		rt.Exit(boot, "failed to build event registry", err)
	}
	service, err := NewService(ServiceParams{
		Config:        rt.Config,
		Logger:        rt.Logger,
		DB:            rt.DB,
		PubSub:        rt.PubSub,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		Registry:      routes,
		DLQRepository: dlq,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Exit(boot, "failed to create outbox publisher", err)
	}

	ctx, stop := rt.SignalContext(nil)
	defer stop()
	metrics.Serve(ctx, rt.Config.App.MetricsAddr, rt.Logger)
	rt.Logger.Info(ctx, "starting outbox publisher")

	rt.Finish(ctx, service.Run(ctx))
}
