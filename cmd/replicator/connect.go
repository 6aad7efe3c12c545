package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/replication"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/demo"
	"github.com/zeusync/replicate/internal/injector"
)

type ConnectOptions struct {
	*RootOptions
	Token  string
	Report time.Duration
}

func NewConnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Mirror a server's demo world and log the replicas",
		Long: `Connect to a replicator server, accept updates whose positions lie in
the demo arena and periodically log what has been replicated.

Example:
  replicator connect --token alice
  replicator connect --transport quic --report 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "auth token, defaults to replicator.auth_token")
	cmd.Flags().DurationVar(&opts.Report, "report", 2*time.Second, "interval between replica reports")
	return cmd
}

func runConnect(ctx context.Context, opts *ConnectOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := injector.InitializeApp(opts.Config)
	if err != nil {
		return err
	}
	defer stop(app)

	app.Replicator.RegisterValidator("bounds", demo.BoundsValidator{Bounds: demo.DefaultBounds})
	app.Replicator.OnDisconnect(func(*replication.Connection) {
		app.Logger.Warn("Lost the server, waiting for reconnect")
	})

	token := opts.Token
	if token == "" {
		token = opts.Config.Replicator.AuthToken
	}
	if err := app.Replicator.StartClient(ctx, token); err != nil {
		return err
	}
	serveMetrics(ctx, app)

	replicas := app.Store.Watch(demo.Moving)
	defer replicas.Close()

	nextReport := time.Now().Add(opts.Report)
	return tickLoop(ctx, app, func(now time.Time, _ time.Duration) error {
		if now.Before(nextReport) {
			return nil
		}
		nextReport = now.Add(opts.Report)
		report(app, replicas, now)
		return nil
	})
}

func report(app *injector.App, replicas store.Query, now time.Time) {
	d := replicas.Drain()
	ids := replicas.Results()
	app.Logger.Info("Replicas",
		log.Int("count", len(ids)),
		log.Int("added", len(d.Added)),
		log.Int("removed", len(d.Removed)),
		log.Int("changed", len(d.Changed)),
	)
	for _, e := range ids {
		rep, ok := app.Replicator.Replica(e)
		if !ok {
			continue
		}
		pos, _ := app.Store.Get(e, demo.KindPosition)
		name := ""
		if rec, ok := app.Store.Get(e, demo.KindLabel); ok {
			name = rec.(*demo.Label).Name
		}
		p := pos.(*demo.Position)
		app.Logger.Debug("Replica",
			log.String("name", name),
			log.Uint32("wire_id", rep.SourceWireID()),
			log.Float64("x", float64(p.X)),
			log.Float64("y", float64(p.Y)),
			log.Duration("age", rep.Age(now)),
		)
	}
}
