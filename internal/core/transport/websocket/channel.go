package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/transport"
)

var _ transport.Channel = (*channel)(nil)

// channel is one WebSocket link. A read pump goroutine fills the inbox; the
// replicator drains it without blocking.
type channel struct {
	conn          *websocket.Conn
	token         string
	maxPacketSize int
	writeTimeout  time.Duration

	inbox   transport.Mailbox
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

func newChannel(conn *websocket.Conn, token string, cfg Config) *channel {
	conn.SetReadLimit(int64(cfg.MaxPacketSize))
	return &channel{
		conn:          conn,
		token:         token,
		maxPacketSize: cfg.MaxPacketSize,
		writeTimeout:  cfg.WriteTimeout,
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

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		go c.Close()
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *channel) Receive() ([]byte, error) { return c.inbox.Pop() }

func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.inbox.Close()
	close(c.done)
	return err
}

// readPump runs until the link fails or is closed. Text frames are ignored.
func (c *channel) readPump() {
	defer c.Close()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		c.inbox.Push(data)
	}
}
