package replication

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/schema"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/store/memory"
	"github.com/zeusync/replicate/internal/core/transport"
	"github.com/zeusync/replicate/internal/core/wire"
)

const (
	kindPosition store.Kind = "position"
	kindLabel    store.Kind = "label"
)

type position struct{ X, Y float32 }

func (*position) Kind() store.Kind { return kindPosition }

type label struct{ Text string }

func (*label) Kind() store.Kind { return kindLabel }

var testRegistry = schema.MustRegistry(
	schema.Define(
		schema.Float32("x", func(p *position) *float32 { return &p.X }),
		schema.Float32("y", func(p *position) *float32 { return &p.Y }),
	),
	schema.Define(
		schema.UTF8("text", func(l *label) *string { return &l.Text }),
	),
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

// fakeChannel records sent packets and serves queued inbound ones.
type fakeChannel struct {
	token      string
	closed     bool
	sent       [][]byte
	inbox      transport.Mailbox
	receiveErr error
	closeErr   error
}

func (c *fakeChannel) AuthToken() string { return c.token }

func (c *fakeChannel) Connected() bool { return !c.closed }

func (c *fakeChannel) Send(p []byte) error {
	if c.closed {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, slices.Clone(p))
	return nil
}

func (c *fakeChannel) Receive() ([]byte, error) {
	if c.receiveErr != nil {
		return nil, c.receiveErr
	}
	return c.inbox.Pop()
}

func (c *fakeChannel) Close() error {
	c.closed = true
	c.inbox.Close()
	return c.closeErr
}

// takeSent returns and clears the recorded packets.
func (c *fakeChannel) takeSent() [][]byte {
	out := c.sent
	c.sent = nil
	return out
}

// fakeTransport hands out channels pushed by the test.
type fakeTransport struct {
	maxPacketSize int
	backlog       transport.Backlog
}

func (t *fakeTransport) MaxPacketSize() int { return t.maxPacketSize }

func (t *fakeTransport) StartServer(context.Context, transport.VerifyFunc) error { return nil }

func (t *fakeTransport) StartClient(context.Context, string) error { return nil }

func (t *fakeTransport) Stop(context.Context) error { return nil }

func (t *fakeTransport) AcceptConnection() transport.Channel { return t.backlog.Pop() }

type entry struct {
	wireID  uint32
	records []store.Record
}

type packet struct {
	sentAt  uint32
	entries []entry
}

func decodePacket(t *testing.T, p []byte) packet {
	t.Helper()
	wm := NewWireManager(testRegistry, memory.New())
	r := wire.NewReader(p)

	var out packet
	var err error
	out.sentAt, err = r.Uint32()
	require.NoError(t, err)
	count, err := r.Uint16()
	require.NoError(t, err)
	for i := 0; i < int(count); i++ {
		id, err := r.Uint32()
		require.NoError(t, err)
		records, err := wm.ReadRecords(r)
		require.NoError(t, err)
		out.entries = append(out.entries, entry{wireID: id, records: records})
	}
	require.Zero(t, r.Remaining())
	return out
}

// entries decodes every packet and concatenates their entries.
func entries(t *testing.T, packets [][]byte) []entry {
	t.Helper()
	var out []entry
	for _, p := range packets {
		out = append(out, decodePacket(t, p).entries...)
	}
	return out
}

type server struct {
	store      *memory.Store
	replicator *Replicator
	transport  *fakeTransport
}

func newServer(opts ...Option) *server {
	st := memory.New()
	tr := &fakeTransport{maxPacketSize: 1200}
	opts = append([]Option{WithEpoch(epoch), WithLogger(log.NewNop())}, opts...)
	r := New(st, testRegistry, opts...).AddTransport(tr)
	return &server{store: st, replicator: r, transport: tr}
}

// connect pushes a channel and runs a receive pass so it joins the roster.
func (s *server) connect(t *testing.T, token string, now time.Time) (*Connection, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{token: token}
	s.transport.backlog.Push(ch)
	s.replicator.Receive(now)
	conns := s.replicator.Connections()
	require.NotEmpty(t, conns)
	return conns[len(conns)-1], ch
}

func (s *server) spawn(t *testing.T, x, y float32) store.EntityID {
	t.Helper()
	e := s.store.CreateEntity()
	require.NoError(t, s.store.Attach(e, &position{X: x, Y: y}))
	return e
}

func (s *server) move(t *testing.T, e store.EntityID, x float32) {
	t.Helper()
	require.NoError(t, s.store.Mutate(e, kindPosition, func(r store.Record) { r.(*position).X = x }))
}

var positions = store.Selection{With: []store.Kind{kindPosition}}
