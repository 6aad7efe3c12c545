// Package config loads replicator settings from YAML or TOML files.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/replicate/internal/core/replication"
	"github.com/zeusync/replicate/internal/core/transport/quic"
	"github.com/zeusync/replicate/internal/core/transport/websocket"
)

var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid")
)

const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

type Config struct {
	Replicator Replicator       `yaml:"replicator" toml:"replicator"`
	WebSocket  websocket.Config `yaml:"websocket" toml:"websocket"`
	QUIC       quic.Config      `yaml:"quic" toml:"quic"`
	Log        Log              `yaml:"log" toml:"log"`
	Metrics    Metrics          `yaml:"metrics" toml:"metrics"`
}

type Replicator struct {
	// TickRate is the number of receive/send passes per second.
	TickRate    int    `yaml:"tick_rate" toml:"tick_rate"`
	ScratchSize int    `yaml:"scratch_size" toml:"scratch_size"`
	Transport   string `yaml:"transport" toml:"transport"`
	// AuthToken is presented by clients.
	AuthToken string `yaml:"auth_token" toml:"auth_token"`
	// Tokens lists the auth tokens a server admits. Empty admits everyone.
	Tokens []string `yaml:"tokens" toml:"tokens"`
}

func (r Replicator) TickInterval() time.Duration {
	return time.Second / time.Duration(r.TickRate)
}

type Log struct {
	Level string `yaml:"level" toml:"level"`
}

type Metrics struct {
	// Address serves /metrics. Empty disables the endpoint.
	Address string `yaml:"address" toml:"address"`
}

func Default() Config {
	return Config{
		Replicator: Replicator{
			TickRate:    30,
			ScratchSize: replication.DefaultScratchSize,
			Transport:   TransportWebSocket,
		},
		WebSocket: websocket.DefaultConfig(),
		QUIC:      quic.DefaultConfig(),
		Log:       Log{Level: "info"},
		Metrics:   Metrics{Address: ":9323"},
	}
}

// Load reads path over the defaults and validates the result. The format
// follows the file extension.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, errors.Wrapf(ErrUnknownFormat, "%s", path)
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, errors.Errorf(format, args...).Error())
		}
	}

	r := c.Replicator
	check(r.TickRate > 0 && r.TickRate <= 1000, "replicator.tick_rate %d not in 1..1000", r.TickRate)
	check(r.ScratchSize > 0, "replicator.scratch_size must be positive")
	check(slices.Contains([]string{TransportWebSocket, TransportQUIC}, r.Transport),
		"replicator.transport %q is neither %s nor %s", r.Transport, TransportWebSocket, TransportQUIC)

	check(validPort(c.WebSocket.Port), "websocket.port %d out of range", c.WebSocket.Port)
	check(strings.HasPrefix(c.WebSocket.Path, "/"), "websocket.path %q must start with /", c.WebSocket.Path)
	check(validPacketSize(c.WebSocket.MaxPacketSize), "websocket.max_packet_size %d not in 11..65535", c.WebSocket.MaxPacketSize)
	check(c.WebSocket.WriteTimeout >= 0, "websocket.write_timeout must not be negative")

	check(validPort(c.QUIC.Port), "quic.port %d out of range", c.QUIC.Port)
	check(validPacketSize(c.QUIC.MaxPacketSize), "quic.max_packet_size %d not in 11..65535", c.QUIC.MaxPacketSize)
	check(c.QUIC.IdleTimeout > 0, "quic.idle_timeout must be positive")
	check(c.QUIC.HandshakeTimeout > 0, "quic.handshake_timeout must be positive")

	check(slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, c.Log.Level),
		"log.level %q unknown", c.Log.Level)

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 0 && p <= 65535 }

// validPacketSize admits at least one header plus a minimal entry, and no more
// than a UDP datagram.
func validPacketSize(n int) bool { return n >= 11 && n <= 65535 }
