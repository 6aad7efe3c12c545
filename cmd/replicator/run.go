package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/replication"
	"github.com/zeusync/replicate/internal/injector"
)

// serveMetrics exposes the app's Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, app *injector.App) {
	addr := app.Config.Metrics.Address
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("Metrics server error", log.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	app.Logger.Info("Serving metrics", log.String("address", addr))
}

// tickLoop runs step then a replicator tick at the configured rate until ctx
// is done. Fatal replication errors end the loop.
func tickLoop(ctx context.Context, app *injector.App, step func(now time.Time, dt time.Duration) error) error {
	interval := app.Config.Replicator.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if step != nil {
				if err := step(now, now.Sub(last)); err != nil {
					return err
				}
			}
			last = now
			if err := app.Replicator.Tick(now); err != nil {
				if replication.IsFatal(err) {
					return err
				}
				app.Logger.Warn("Tick failed", log.Error(err))
			}
		}
	}
}

func stop(app *injector.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Replicator.Stop(ctx); err != nil {
		app.Logger.Warn("Failed to stop transports", log.Error(err))
	}
	if l, ok := app.Logger.(*log.Logger); ok {
		_ = l.Sync()
	}
}
