package websocket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/transport"
)

const waitFor = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Reconnect = transport.Reconnect{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond}
	return cfg
}

func allow(tokens ...string) transport.VerifyFunc {
	return func(_ context.Context, token string) (bool, error) {
		for _, t := range tokens {
			if t == token {
				return true, nil
			}
		}
		return false, nil
	}
}

// pair starts a server and returns a client transport configured to dial it.
func pair(t *testing.T, verify transport.VerifyFunc) (server, client *Transport) {
	t.Helper()
	server = New(testConfig(), log.NewNop())
	server.SetSchemaFingerprint(0xfeed)
	require.NoError(t, server.StartServer(context.Background(), verify))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	cfg := testConfig()
	cfg.Port = server.Addr().(*net.TCPAddr).Port
	client = New(cfg, log.NewNop())
	client.SetSchemaFingerprint(0xfeed)
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return server, client
}

func accept(t *testing.T, tr *Transport) transport.Channel {
	t.Helper()
	var ch transport.Channel
	require.Eventually(t, func() bool {
		ch = tr.AcceptConnection()
		return ch != nil
	}, waitFor, 5*time.Millisecond)
	return ch
}

func receive(t *testing.T, ch transport.Channel) []byte {
	t.Helper()
	var msg []byte
	require.Eventually(t, func() bool {
		msg, _ = ch.Receive()
		return msg != nil
	}, waitFor, 5*time.Millisecond)
	return msg
}

func TestExchange(t *testing.T) {
	server, client := pair(t, allow("alice"))
	require.NoError(t, client.StartClient(context.Background(), "alice"))

	toServer := accept(t, client)
	fromClient := accept(t, server)
	assert.Equal(t, transport.ServerToken, toServer.AuthToken())
	assert.Equal(t, "alice", fromClient.AuthToken())

	require.NoError(t, toServer.Send([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, receive(t, fromClient))

	require.NoError(t, fromClient.Send([]byte{4}))
	assert.Equal(t, []byte{4}, receive(t, toServer))

	msg, err := toServer.Receive()
	require.NoError(t, err)
	assert.Nil(t, msg, "receive never blocks")
}

func TestSendRejectsOversizedPackets(t *testing.T) {
	server, client := pair(t, nil)
	require.NoError(t, client.StartClient(context.Background(), ""))
	accept(t, server)

	err := accept(t, client).Send(make([]byte, DefaultMaxPacketSize+1))
	require.ErrorIs(t, err, transport.ErrTooLarge)
}

func TestHandshakeRejections(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		_, client := pair(t, allow("alice"))
		err := client.StartClient(context.Background(), "mallory")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
	t.Run("schema mismatch", func(t *testing.T) {
		_, client := pair(t, nil)
		client.SetSchemaFingerprint(0xbeef)
		err := client.StartClient(context.Background(), "alice")
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})
	t.Run("client restarts after rejection", func(t *testing.T) {
		server, client := pair(t, allow("alice"))
		require.Error(t, client.StartClient(context.Background(), "mallory"))
		require.NoError(t, client.StartClient(context.Background(), "alice"))
		accept(t, server)
	})
}

func TestClientReconnects(t *testing.T) {
	server, client := pair(t, nil)
	require.NoError(t, client.StartClient(context.Background(), "alice"))
	first := accept(t, client)
	require.NoError(t, accept(t, server).Close())

	require.Eventually(t, func() bool { return !first.Connected() }, waitFor, 5*time.Millisecond)
	second := accept(t, client)
	assert.True(t, second.Connected())
	assert.Equal(t, "alice", accept(t, server).AuthToken())

	_, err := first.Receive()
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStopClosesLinks(t *testing.T) {
	server, client := pair(t, nil)
	require.NoError(t, client.StartClient(context.Background(), ""))
	toServer := accept(t, client)
	fromClient := accept(t, server)

	require.NoError(t, server.Stop(context.Background()))
	assert.False(t, fromClient.Connected())
	assert.Nil(t, server.Addr())
	require.Eventually(t, func() bool { return !toServer.Connected() }, waitFor, 5*time.Millisecond)

	require.NoError(t, client.Stop(context.Background()))
	assert.Nil(t, client.AcceptConnection(), "no reconnect after stop")
}
