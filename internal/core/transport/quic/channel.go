package quic

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/replicate/internal/core/transport"
)

var _ transport.Channel = (*channel)(nil)

// channel is one QUIC connection carrying length-prefixed frames on a single
// bidirectional stream.
type channel struct {
	conn          *quic.Conn
	stream        *quic.Stream
	token         string
	maxPacketSize int
	writeTimeout  time.Duration

	inbox   transport.Mailbox
	writeMu sync.Mutex
	frame   []byte
	closed  atomic.Bool
	done    chan struct{}
}

func newChannel(conn *quic.Conn, stream *quic.Stream, token string, cfg Config) *channel {
	return &channel{
		conn:          conn,
		stream:        stream,
		token:         token,
		maxPacketSize: cfg.MaxPacketSize,
		writeTimeout:  cfg.WriteTimeout,
		frame:         make([]byte, 0, frameHeader+cfg.MaxPacketSize),
		done:          make(chan struct{}),
	}
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

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.frame = appendFrame(c.frame[:0], p)
	if c.writeTimeout > 0 {
		_ = c.stream.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.stream.Write(c.frame); err != nil {
		go c.Close()
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (c *channel) Receive() ([]byte, error) { return c.inbox.Pop() }

func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.CloseWithError(codeClosed, "closed")
	c.inbox.Close()
	close(c.done)
	return err
}

func (c *channel) readPump() {
	defer c.Close()

	for {
		p, err := readFrame(c.stream, c.maxPacketSize)
		if err != nil {
			return
		}
		c.inbox.Push(p)
	}
}
