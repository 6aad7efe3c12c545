// Package loopback connects a server and client transport in process.
// Messages are delivered synchronously into the peer's mailbox.
package loopback

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/transport"
)

var (
	ErrUnauthorized   = errors.New("loopback: auth token rejected")
	ErrSchemaMismatch = errors.New("loopback: schema fingerprint mismatch")
	ErrNoServer       = errors.New("loopback: server not listening")
)

const ServerToken = transport.ServerToken

var (
	_ transport.Transport   = (*Transport)(nil)
	_ transport.SchemaAware = (*Transport)(nil)
	_ transport.Channel     = (*channel)(nil)
)

type channel struct {
	token         string
	maxPacketSize int
	inbox         transport.Mailbox
	peer          *channel
	closed        atomic.Bool
}

func (c *channel) AuthToken() string { return c.token }

func (c *channel) Connected() bool { return !c.closed.Load() }

func (c *channel) Send(p []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if len(p) > c.maxPacketSize {
		return errors.Wrapf(transport.ErrTooLarge, "%d > %d", len(p), c.maxPacketSize)
	}
	c.peer.inbox.Push(slices.Clone(p))
	return nil
}

func (c *channel) Receive() ([]byte, error) { return c.inbox.Pop() }

func (c *channel) Close() error {
	for _, side := range []*channel{c, c.peer} {
		side.closed.Store(true)
		side.inbox.Close()
	}
	return nil
}

// Transport is one end of an in-process link.
type Transport struct {
	maxPacketSize int
	peer          *Transport

	mu          sync.Mutex
	listening   bool
	verify      transport.VerifyFunc
	token       string
	fingerprint uint64
	live        []*channel
	backlog     transport.Backlog
}

// NewPair returns a server transport and a client transport that dials it.
func NewPair(maxPacketSize int) (server, client *Transport) {
	server = &Transport{maxPacketSize: maxPacketSize}
	client = &Transport{maxPacketSize: maxPacketSize, peer: server}
	return server, client
}

func (t *Transport) MaxPacketSize() int { return t.maxPacketSize }

func (t *Transport) SetSchemaFingerprint(fp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fingerprint = fp
}

func (t *Transport) StartServer(_ context.Context, verify transport.VerifyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listening {
		return transport.ErrAlreadyStarted
	}
	t.listening = true
	t.verify = verify
	return nil
}

func (t *Transport) StartClient(ctx context.Context, authToken string) error {
	t.mu.Lock()
	t.token = authToken
	t.mu.Unlock()
	return t.Redial(ctx)
}

// Redial opens a fresh link to the server with the token from StartClient.
func (t *Transport) Redial(ctx context.Context) error {
	if t.peer == nil {
		return ErrNoServer
	}
	t.mu.Lock()
	token, fp := t.token, t.fingerprint
	t.mu.Unlock()

	return t.peer.accept(ctx, t, token, fp)
}

func (t *Transport) accept(ctx context.Context, client *Transport, token string, fp uint64) error {
	t.mu.Lock()
	listening, verify, serverFP := t.listening, t.verify, t.fingerprint
	t.mu.Unlock()

	if !listening {
		return ErrNoServer
	}
	if serverFP != fp {
		return errors.Wrapf(ErrSchemaMismatch, "server %x, client %x", serverFP, fp)
	}
	if verify != nil {
		ok, err := verify(ctx, token)
		if err != nil {
			return errors.Wrap(err, "verify auth token")
		}
		if !ok {
			return ErrUnauthorized
		}
	}

	serverSide := &channel{token: token, maxPacketSize: t.maxPacketSize}
	clientSide := &channel{token: ServerToken, maxPacketSize: client.maxPacketSize}
	serverSide.peer, clientSide.peer = clientSide, serverSide

	t.register(serverSide)
	client.register(clientSide)
	return nil
}

func (t *Transport) register(ch *channel) {
	t.mu.Lock()
	t.live = append(t.live, ch)
	t.mu.Unlock()
	t.backlog.Push(ch)
}

// Drop closes every live link, as if the network failed.
func (t *Transport) Drop() {
	t.mu.Lock()
	live := t.live
	t.live = nil
	t.mu.Unlock()

	for _, ch := range live {
		_ = ch.Close()
	}
}

func (t *Transport) Stop(context.Context) error {
	t.Drop()
	t.backlog.Drain()

	t.mu.Lock()
	t.listening = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) AcceptConnection() transport.Channel {
	return t.backlog.Pop()
}
