package transport

import (
	"sync"
)

// Mailbox buffers inbound messages between a reader goroutine and the
// polling replicator.
type Mailbox struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (m *Mailbox) Push(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.messages = append(m.messages, p)
}

// Pop follows Channel.Receive semantics.
func (m *Mailbox) Pop() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 {
		if m.closed {
			return nil, ErrClosed
		}
		return nil, nil
	}
	p := m.messages[0]
	m.messages[0] = nil
	m.messages = m.messages[1:]
	return p, nil
}

// Close marks the mailbox closed. Queued messages can still be popped.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
}

func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.messages)
}

// Backlog queues established channels until AcceptConnection polls them.
type Backlog struct {
	mu      sync.Mutex
	pending []Channel
}

func (b *Backlog) Push(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, ch)
}

func (b *Backlog) Pop() Channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	ch := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	return ch
}

// Drain removes and returns every pending channel.
func (b *Backlog) Drain() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.pending
	b.pending = nil
	return out
}
