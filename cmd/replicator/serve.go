package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/replication"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/transport"
	"github.com/zeusync/replicate/internal/demo"
	"github.com/zeusync/replicate/internal/injector"
)

type ServeOptions struct {
	*RootOptions
	Entities  int
	Frequency float64
	Seed      uint64
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo world and replicate it to clients",
		Long: `Spawn drifting entities and replicate their position, velocity and
label to every connected client.

Example:
  replicator serve --entities 50 --frequency 10
  replicator serve --transport quic -c replicator.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.Entities, "entities", 10, "number of entities to spawn")
	cmd.Flags().Float64Var(&opts.Frequency, "frequency", 0, "max updates per second per entity, 0 for every tick")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "world random seed")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := injector.InitializeApp(opts.Config)
	if err != nil {
		return err
	}
	defer stop(app)

	world := demo.NewWorld(app.Store, demo.DefaultBounds, opts.Seed)
	defer world.Close()
	if _, err := world.Spawn(opts.Entities); err != nil {
		return err
	}

	err = app.Replicator.Replicate("moving", demo.Moving, replication.OriginalValues{
		MaxUpdateFrequency: opts.Frequency,
		ReplicatedKinds:    []store.Kind{demo.KindPosition, demo.KindVelocity, demo.KindLabel},
	})
	if err != nil {
		return err
	}

	app.Replicator.OnConnect(func(c *replication.Connection) {
		app.Logger.Info("Peer joined", log.String("connection", c.String()))
	})
	app.Replicator.OnDisconnect(func(c *replication.Connection) {
		app.Logger.Info("Peer left", log.String("connection", c.String()))
	})
	if err := app.Replicator.StartServer(ctx, allowTokens(opts.Config.Replicator.Tokens)); err != nil {
		return err
	}
	serveMetrics(ctx, app)

	app.Logger.Info("Serving demo world",
		log.Int("entities", opts.Entities),
		log.String("transport", opts.Config.Replicator.Transport),
	)
	return tickLoop(ctx, app, func(_ time.Time, dt time.Duration) error {
		return world.Step(dt)
	})
}

// allowTokens admits the listed tokens, or everyone when the list is empty.
func allowTokens(tokens []string) transport.VerifyFunc {
	if len(tokens) == 0 {
		return nil
	}
	return func(_ context.Context, token string) (bool, error) {
		return slices.Contains(tokens, token), nil
	}
}
