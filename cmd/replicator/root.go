package main

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/replicate/internal/config"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Transport  string

	// Config is resolved before any subcommand runs.
	Config config.Config
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicator",
		Short: "Replicate entity state between peers",
		Long: `Replicator runs a demo world of drifting entities and mirrors it to
connected peers over WebSocket or QUIC.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Transport, "transport", "", "override replicator.transport (websocket|quic)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConnectCommand(opts))
	return cmd
}

func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if cmd.Flags().Changed("transport") {
		cfg.Replicator.Transport = o.Transport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.Config = cfg
	return nil
}
