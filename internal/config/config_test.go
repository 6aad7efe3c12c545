package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 17923, cfg.WebSocket.Port)
	assert.Equal(t, 1200, cfg.WebSocket.MaxPacketSize)
	assert.Equal(t, TransportWebSocket, cfg.Replicator.Transport)
	assert.Equal(t, time.Second/30, cfg.Replicator.TickInterval())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "replicator.yaml",
			content: `
replicator:
  tick_rate: 20
  transport: quic
  tokens: [alice, bob]
websocket:
  write_timeout: 2s
quic:
  port: 4500
  reconnect:
    initial_interval: 100ms
log:
  level: debug
`,
		},
		{
			name: "toml",
			file: "replicator.toml",
			content: `
[replicator]
tick_rate = 20
transport = "quic"
tokens = ["alice", "bob"]

[websocket]
write_timeout = "2s"

[quic]
port = 4500

[quic.reconnect]
initial_interval = "100ms"

[log]
level = "debug"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(write(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, 20, cfg.Replicator.TickRate)
			assert.Equal(t, TransportQUIC, cfg.Replicator.Transport)
			assert.Equal(t, []string{"alice", "bob"}, cfg.Replicator.Tokens)
			assert.Equal(t, 2*time.Second, cfg.WebSocket.WriteTimeout)
			assert.Equal(t, 4500, cfg.QUIC.Port)
			assert.Equal(t, 100*time.Millisecond, cfg.QUIC.Reconnect.InitialInterval)
			assert.Equal(t, "debug", cfg.Log.Level)

			// Unset keys keep their defaults.
			assert.Equal(t, Default().WebSocket.Port, cfg.WebSocket.Port)
			assert.Equal(t, Default().QUIC.MaxPacketSize, cfg.QUIC.MaxPacketSize)
			assert.Equal(t, Default().QUIC.Reconnect.MaxInterval, cfg.QUIC.Reconnect.MaxInterval)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(write(t, "replicator.json", "{}"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(write(t, "bad.yaml", "replicator: [1, 2"))
	assert.Error(t, err)

	_, err = Load(write(t, "invalid.yaml", "replicator:\n  tick_rate: 0\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"tick rate", func(c *Config) { c.Replicator.TickRate = 5000 }, "tick_rate"},
		{"transport", func(c *Config) { c.Replicator.Transport = "carrier pigeon" }, "replicator.transport"},
		{"packet too small", func(c *Config) { c.WebSocket.MaxPacketSize = 10 }, "websocket.max_packet_size"},
		{"path", func(c *Config) { c.WebSocket.Path = "replicate" }, "websocket.path"},
		{"quic port", func(c *Config) { c.QUIC.Port = 70000 }, "quic.port"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
