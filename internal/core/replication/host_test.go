package replication

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/wire"
)

func newTestHost(token string) (*Host, *metrics.Metrics) {
	m := metrics.NewUnregistered()
	return newHost(&Connection{id: newConnectionID(), authToken: token}, log.NewNop(), m), m
}

func TestHostFramesHeaderAfterBody(t *testing.T) {
	h, m := newTestHost("")
	ch := &fakeChannel{}
	require.NoError(t, h.attach(ch, 64))

	first := rawPayload{1, 2, 3, 4, 5, 6}
	second := rawPayload{7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, h.queue(1234, 1, first))
	require.NoError(t, h.queue(1234, 2, second))
	assert.Equal(t, 2, h.Queued())
	h.flush(1234)

	require.Len(t, ch.sent, 1)
	p := ch.sent[0]
	require.Len(t, p, 30)
	assert.Equal(t, uint32(1234), binary.LittleEndian.Uint32(p[0:4]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(p[4:6]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(p[6:10]))
	assert.Equal(t, []byte(first), p[10:16])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(p[16:20]))
	assert.Equal(t, []byte(second), p[20:30])

	assert.Equal(t, 0, h.Queued())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.BytesSent))

	h.flush(1300)
	assert.Len(t, ch.sent, 1, "an empty packet is not sent")
}

func TestHostAttach(t *testing.T) {
	h, _ := newTestHost("alice")

	first := &fakeChannel{token: "alice"}
	require.NoError(t, h.attach(first, 64))
	assert.True(t, h.Connection().Connected())

	err := h.attach(&fakeChannel{token: "alice"}, 64)
	assert.True(t, errors.Is(err, ErrChannelAlreadyConnected))

	first.closed = true
	err = h.attach(&fakeChannel{token: "mallory"}, 64)
	assert.True(t, errors.Is(err, ErrAuthTokenMismatch))

	require.NoError(t, h.attach(&fakeChannel{token: "alice"}, 128))
	assert.Equal(t, 128, h.packet.Cap(), "a new max packet size reallocates the buffer")

	h.detach()
	assert.False(t, h.Connection().Connected())
	require.NoError(t, h.queue(1, 1, rawPayload{0}), "detached hosts drop entries")
	assert.Equal(t, 0, h.Queued())

	assert.True(t, errors.Is(h.attach(&fakeChannel{token: "alice"}, 8), ErrPacketTooSmall))
}

func TestHostFlushesEarlyWhenFull(t *testing.T) {
	h, _ := newTestHost("")
	ch := &fakeChannel{}
	require.NoError(t, h.attach(ch, 20))

	body := rawPayload{1, 2, 3, 4, 5, 6}
	require.NoError(t, h.queue(50, 1, body))
	require.NoError(t, h.queue(50, 2, body))
	h.flush(50)

	require.Len(t, ch.sent, 2)
	for i, p := range ch.sent {
		got := decodeRaw(t, p)
		assert.Equal(t, uint32(50), got.sentAt)
		require.Len(t, got.ids, 1)
		assert.Equal(t, uint32(i+1), got.ids[0])
	}

	err := h.queue(50, 3, make(rawPayload, 11))
	assert.True(t, errors.Is(err, ErrPacketTooSmall))
	assert.Equal(t, 0, h.Queued())
}

type rawPacket struct {
	sentAt uint32
	ids    []uint32
}

// decodeRaw reads a packet whose entries are 6-byte raw bodies.
func decodeRaw(t *testing.T, p []byte) rawPacket {
	t.Helper()
	r := wire.NewReader(p)
	var out rawPacket
	var err error
	out.sentAt, err = r.Uint32()
	require.NoError(t, err)
	n, err := r.Uint16()
	require.NoError(t, err)
	for i := 0; i < int(n); i++ {
		id, err := r.Uint32()
		require.NoError(t, err)
		_, err = r.Bytes(6)
		require.NoError(t, err)
		out.ids = append(out.ids, id)
	}
	return out
}

func headerOnly(sentAt uint32) []byte {
	p := make([]byte, 6)
	binary.LittleEndian.PutUint32(p, sentAt)
	return p
}

func TestHostReceiveSmoothsTimeDelta(t *testing.T) {
	h, m := newTestHost("")
	ch := &fakeChannel{}
	require.NoError(t, h.attach(ch, 64))

	ch.inbox.Push(headerOnly(100))
	assert.False(t, h.receive(200, nil, nil))
	assert.InDelta(t, 10.0, h.timeDelta, 1e-9)

	ch.inbox.Push(headerOnly(100))
	h.receive(200, nil, nil)
	assert.InDelta(t, 19.0, h.timeDelta, 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReceived))

	// Sender clock wrapped past zero while ours has not.
	h.timeDelta = 0
	ch.inbox.Push(headerOnly(5))
	h.receive(0xFFFFFFFF, nil, nil)
	assert.InDelta(t, -0.6, h.timeDelta, 1e-9)
}

func TestHostReceiveIsolatesFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.NewUnregistered()
	h := newHost(&Connection{id: "c1"}, log.FromZap(zap.New(core)), m)
	ch := &fakeChannel{}
	require.NoError(t, h.attach(ch, 64))

	ch.inbox.Push([]byte{1, 2, 3})
	ch.inbox.Push(headerOnly(7))
	assert.False(t, h.receive(10, nil, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReceiveErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsReceived), "a malformed packet does not block the next one")

	ch.receiveErr = errors.New("socket reset")
	assert.False(t, h.receive(10, nil, nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReceiveErrors))
	assert.Equal(t, 2, logs.FilterMessage("Dropped malformed packet").Len()+logs.FilterMessage("Receive failed, skipping connection this tick").Len())
	assert.Equal(t, "c1", logs.All()[0].ContextMap()["connection"])

	ch.receiveErr = nil
	require.NoError(t, ch.Close())
	assert.True(t, h.receive(10, nil, nil), "closed channels are reported")
}
