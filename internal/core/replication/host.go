package replication

import (
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/transport"
	"github.com/zeusync/replicate/internal/core/wire"
)

// headerSize is uint32 send timestamp + uint16 entity count.
const headerSize = 6

// payload is one entity body queued after its wire id.
type payload interface {
	writeTo(w *wire.Writer) error
}

type rawPayload []byte

func (p rawPayload) writeTo(w *wire.Writer) error { return w.Write(p) }

// deletion is the record set of a removed original: a zero count.
var deletion = rawPayload{0}

type entityPayload struct {
	wires  *WireManager
	entity store.EntityID
	kinds  []store.Kind
}

func (p *entityPayload) writeTo(w *wire.Writer) error {
	return p.wires.WriteEntity(p.entity, p.kinds, w)
}

// Host is the runtime side of a Connection: the attached channel, the
// outgoing packet and the clock offset estimate.
type Host struct {
	conn    *Connection
	channel transport.Channel
	logger  log.Log
	metrics *metrics.Metrics

	packet *wire.Writer
	header wire.Span
	queued int
	reader wire.Reader

	// timeDelta is a moving average of local minus sender ms.
	timeDelta float64

	// deferred holds wire ids deleted while the host was detached. They are
	// sent first when it reattaches.
	deferred []uint32
}

func newHost(conn *Connection, logger log.Log, m *metrics.Metrics) *Host {
	return &Host{
		conn:    conn,
		logger:  logger.With(log.String("connection", string(conn.id))),
		metrics: m,
	}
}

func (h *Host) Connection() *Connection { return h.conn }

// TimeDelta is the smoothed offset between the local clock and the peer's
// packet timestamps, network latency included.
func (h *Host) TimeDelta() time.Duration {
	return time.Duration(h.timeDelta * float64(time.Millisecond))
}

// Queued is the number of entity entries waiting in the current packet.
func (h *Host) Queued() int { return h.queued }

func (h *Host) attached() bool { return h.channel != nil && h.channel.Connected() }

func (h *Host) deferDeletion(wireID uint32) {
	if !slices.Contains(h.deferred, wireID) {
		h.deferred = append(h.deferred, wireID)
	}
}

func (h *Host) attach(ch transport.Channel, maxPacketSize int) error {
	if h.attached() {
		return errors.Wrapf(ErrChannelAlreadyConnected, "connection %s", h.conn)
	}
	if h.conn.authToken != "" && ch.AuthToken() != h.conn.authToken {
		return errors.Wrapf(ErrAuthTokenMismatch, "connection %s, channel token %q", h.conn, ch.AuthToken())
	}
	if maxPacketSize < headerSize+5 {
		return errors.Wrapf(ErrPacketTooSmall, "max packet size %d", maxPacketSize)
	}
	if h.packet == nil || h.packet.Cap() != maxPacketSize {
		h.packet = wire.NewWriter(maxPacketSize)
	}
	h.channel = ch
	h.conn.connected = true
	h.begin()
	return nil
}

func (h *Host) detach() {
	h.channel = nil
	h.conn.connected = false
	if h.packet != nil {
		h.begin()
	}
}

// begin resets the packet and reserves its header.
func (h *Host) begin() {
	h.packet.Reset()
	h.queued = 0
	// attach guarantees room for the header.
	h.header, _ = h.packet.Reserve(headerSize)
}

// queue appends one entity entry. If the packet is full it is flushed early
// and the entry retried in a fresh packet. Detached hosts drop the entry;
// callers check attached first.
func (h *Host) queue(now uint32, wireID uint32, p payload) error {
	if !h.attached() {
		return nil
	}
	if h.queued == math.MaxUint16 {
		h.flush(now)
	}
	for {
		mark := h.packet.Len()
		err := h.packet.Uint32(wireID)
		if err == nil {
			err = p.writeTo(h.packet)
		}
		if err == nil {
			h.queued++
			return nil
		}
		h.packet.Truncate(mark)
		if !errors.Is(err, wire.ErrBufferOverflow) {
			return err
		}
		if h.queued == 0 {
			return errors.Wrapf(ErrPacketTooSmall, "wire id %d, max packet size %d", wireID, h.packet.Cap())
		}
		h.flush(now)
	}
}

// flush patches the header and hands the packet to the channel. Send
// failures are logged; the packet is discarded either way.
func (h *Host) flush(now uint32) {
	if h.packet == nil {
		return
	}
	if h.queued == 0 || h.channel == nil {
		h.begin()
		return
	}

	hw, err := h.packet.Patch(h.header)
	if err == nil {
		err = hw.Uint32(now)
	}
	if err == nil {
		err = hw.Uint16(uint16(h.queued))
	}
	if err == nil {
		err = h.channel.Send(h.packet.Bytes())
	}
	if err != nil {
		h.metrics.SendErrors.Inc()
		h.logger.Warn("Failed to send packet",
			log.Int("entities", h.queued),
			log.Int("bytes", h.packet.Len()),
			log.Error(err),
		)
	} else {
		h.metrics.PacketsSent.Inc()
		h.metrics.BytesSent.Add(float64(h.packet.Len()))
	}
	h.begin()
}

// entityHandler consumes one entity entry. It must read exactly the entry's
// record set from r.
type entityHandler func(sentAt uint32, wireID uint32, r *wire.Reader) error

// receive drains the channel without blocking. It reports true once the
// channel is closed for good. done, if set, is called after every packet
// with whether it decoded in full; entries handled before a failure belong
// to a dropped packet.
func (h *Host) receive(now uint32, handle entityHandler, done func(ok bool)) (closed bool) {
	if done == nil {
		done = func(bool) {}
	}
	if h.channel == nil {
		return false
	}
	for {
		msg, err := h.channel.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return true
			}
			h.metrics.ReceiveErrors.Inc()
			h.logger.Warn("Receive failed, skipping connection this tick", log.Error(err))
			return false
		}
		if msg == nil {
			return false
		}
		h.reader.Reset(msg)
		if err := h.decode(now, handle); err != nil {
			done(false)
			h.metrics.ReceiveErrors.Inc()
			h.logger.Warn("Dropped malformed packet",
				log.Int("bytes", len(msg)),
				log.Error(err),
			)
			continue
		}
		done(true)
		h.metrics.PacketsReceived.Inc()
	}
}

func (h *Host) decode(now uint32, handle entityHandler) error {
	r := &h.reader
	sentAt, err := r.Uint32()
	if err != nil {
		return errors.Wrap(ErrMalformedPacket, err.Error())
	}
	count, err := r.Uint16()
	if err != nil {
		return errors.Wrap(ErrMalformedPacket, err.Error())
	}

	// Wrap-safe signed difference of two ms clocks.
	sample := float64(int32(now - sentAt))
	h.timeDelta = h.timeDelta*0.9 + 0.1*sample

	for i := 0; i < int(count); i++ {
		wireID, err := r.Uint32()
		if err != nil {
			return errors.Wrapf(ErrMalformedPacket, "entity %d of %d: %v", i+1, count, err)
		}
		if err := handle(sentAt, wireID, r); err != nil {
			return errors.Wrapf(ErrMalformedPacket, "wire id %d: %v", wireID, err)
		}
	}
	if r.Remaining() != 0 {
		return errors.Wrapf(ErrMalformedPacket, "%d trailing bytes", r.Remaining())
	}
	return nil
}
