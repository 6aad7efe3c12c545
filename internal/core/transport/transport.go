// Package transport defines the channel and transport contracts the
// replicator polls, plus the queueing helpers shared by implementations.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by Channel.Receive and Channel.Send once the
	// channel is permanently closed.
	ErrClosed = errors.New("transport: channel closed")

	ErrAlreadyStarted = errors.New("transport: already started")
	ErrNotStarted     = errors.New("transport: not started")
	ErrTooLarge       = errors.New("transport: message exceeds max packet size")
)

// Channel is one live link to a peer.
type Channel interface {
	// AuthToken correlates reconnects of the same peer. Empty means anonymous.
	AuthToken() string
	Connected() bool
	// Send transmits p as one message. Implementations must not retain p.
	Send(p []byte) error
	// Receive pops the next inbound message without blocking. It returns
	// nil, nil when nothing is queued and ErrClosed after the channel closed
	// and drained.
	Receive() ([]byte, error)
	Close() error
}

// VerifyFunc authorizes an inbound auth token. A nil VerifyFunc accepts all.
type VerifyFunc func(ctx context.Context, authToken string) (bool, error)

type Transport interface {
	MaxPacketSize() int
	StartServer(ctx context.Context, verify VerifyFunc) error
	StartClient(ctx context.Context, authToken string) error
	Stop(ctx context.Context) error
	// AcceptConnection polls for a newly established channel and returns nil
	// when none is pending.
	AcceptConnection() Channel
}

// SchemaAware transports carry a schema fingerprint in their handshake and
// refuse peers whose fingerprint differs.
type SchemaAware interface {
	SetSchemaFingerprint(fp uint64)
}
