package replication

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/schema"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/transport"
	"github.com/zeusync/replicate/pkg/concurrent"
)

// rule is a named selection whose members are replicated automatically.
type rule struct {
	name   string
	query  store.Query
	values OriginalValues
}

// Replicator ties the send and receive passes to a store and a set of
// transports. It is driven by Tick and is not safe for concurrent use.
type Replicator struct {
	store    store.Store
	registry *schema.Registry
	logger   log.Log
	metrics  *metrics.Metrics
	epoch    time.Time

	wires    *WireManager
	roster   *roster
	sender   *sender
	receiver *receiver

	transports   []transport.Transport
	rules        []*rule
	onConnect    []func(*Connection)
	onDisconnect []func(*Connection)
}

func New(st store.Store, registry *schema.Registry, opts ...Option) *Replicator {
	o := options{
		logger:      log.Provide(),
		epoch:       time.Now(),
		scratchSize: DefaultScratchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}

	logger := o.logger.With(log.String("component", "replicator"))
	wires := NewWireManager(registry, st)
	r := &Replicator{
		store:    st,
		registry: registry,
		logger:   logger,
		metrics:  o.metrics,
		epoch:    o.epoch,
		wires:    wires,
		roster:   newRoster(),
	}
	r.sender = newSender(st, wires, r.roster, logger, o.metrics, o.scratchSize)
	r.receiver = newReceiver(st, wires, logger, o.metrics)
	return r
}

func (r *Replicator) Wires() *WireManager { return r.wires }

func (r *Replicator) Metrics() *metrics.Metrics { return r.metrics }

// AddTransport registers t. Schema-aware transports learn the registry
// fingerprint so mismatched peers are refused during the handshake.
func (r *Replicator) AddTransport(t transport.Transport) *Replicator {
	if sa, ok := t.(transport.SchemaAware); ok {
		sa.SetSchemaFingerprint(r.registry.Fingerprint())
	}
	r.sender.ensureScratch(t.MaxPacketSize())
	r.transports = append(r.transports, t)
	return r
}

// RegisterValidator adds a validator run over each tick's staged updates,
// in registration order. Without validators nothing inbound is accepted.
func (r *Replicator) RegisterValidator(name string, v Validator) *Replicator {
	r.receiver.validators = append(r.receiver.validators, namedValidator{name: name, v: v})
	return r
}

func (r *Replicator) OnConnect(fn func(*Connection)) {
	r.onConnect = append(r.onConnect, fn)
}

func (r *Replicator) OnDisconnect(fn func(*Connection)) {
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Replicate turns every entity matching sel into an Original configured by
// values. Empty ReplicatedKinds defaults to sel.With.
func (r *Replicator) Replicate(name string, sel store.Selection, values OriginalValues) error {
	for _, rl := range r.rules {
		if rl.name == name {
			return errors.Wrapf(ErrDuplicateRule, "%q", name)
		}
	}
	if len(values.ReplicatedKinds) == 0 {
		values.ReplicatedKinds = slices.Clone(sel.With)
	}
	if err := r.sender.validateKinds(values.ReplicatedKinds); err != nil {
		return errors.Wrapf(err, "rule %q", name)
	}
	r.rules = append(r.rules, &rule{name: name, query: r.store.Watch(sel), values: values})
	return nil
}

// AddOriginal replicates e outside of any rule.
func (r *Replicator) AddOriginal(e store.EntityID, values OriginalValues) (*Original, error) {
	return r.sender.add(e, values, nil)
}

// RemoveOriginal stops replicating e; receivers get a deletion notice on the
// next send pass.
func (r *Replicator) RemoveOriginal(e store.EntityID) bool {
	return r.sender.remove(e)
}

// MarkModified flags e as changed outside the store's change detection.
func (r *Replicator) MarkModified(e store.EntityID) error {
	if !r.sender.markModified(e) {
		return errors.Wrapf(ErrUnknownEntity, "entity %d", e)
	}
	return nil
}

func (r *Replicator) Original(e store.EntityID) (*Original, bool) {
	t, ok := r.sender.originals[e]
	if !ok {
		return nil, false
	}
	return t.original, true
}

// State reports the send-side state of e. Entities that are not originals
// are StateUntracked.
func (r *Replicator) State(e store.EntityID) State {
	t, ok := r.sender.originals[e]
	if !ok {
		return StateUntracked
	}
	return t.state
}

// WireID returns the wire id of a tracked original.
func (r *Replicator) WireID(e store.EntityID) (uint32, bool) {
	t, ok := r.sender.originals[e]
	if !ok || !t.hasWire {
		return 0, false
	}
	return t.wireID, true
}

func (r *Replicator) Replica(e store.EntityID) (*Replica, bool) {
	return r.receiver.replica(e)
}

// Connections lists the live roster in join order.
func (r *Replicator) Connections() []*Connection {
	return slices.Clone(r.roster.live)
}

func (r *Replicator) Host(c *Connection) (*Host, bool) {
	h := r.roster.host(c)
	return h, h != nil
}

// RemoveConnection drops c from the roster and closes its channel. Approval
// lists lose it on the next send pass.
func (r *Replicator) RemoveConnection(c *Connection) bool {
	h, ok := r.roster.remove(c)
	if !ok {
		return false
	}
	if h.channel != nil {
		_ = h.channel.Close()
	}
	h.detach()
	r.receiver.forgetSource(c)
	r.metrics.Connections.Set(float64(len(r.roster.live)))
	r.logger.Info("Connection removed", log.String("connection", c.String()))
	return true
}

func (r *Replicator) StartServer(ctx context.Context, verify transport.VerifyFunc) error {
	return concurrent.Concurrent(ctx, r.transports, func(ctx context.Context, t transport.Transport) error {
		return t.StartServer(ctx, verify)
	})
}

func (r *Replicator) StartClient(ctx context.Context, authToken string) error {
	return concurrent.Concurrent(ctx, r.transports, func(ctx context.Context, t transport.Transport) error {
		return t.StartClient(ctx, authToken)
	})
}

// Stop closes every channel, stops the transports and removes all
// connections. Queued packets are discarded.
func (r *Replicator) Stop(ctx context.Context) error {
	conns := slices.Clone(r.roster.live)
	channels := make([]transport.Channel, 0, len(conns))
	for _, c := range conns {
		h := r.roster.host(c)
		if h.channel != nil {
			channels = append(channels, h.channel)
		}
		h.detach()
	}
	concurrent.ParallelMute(channels, transport.Channel.Close, func(ch transport.Channel, err error) {
		r.logger.Warn("Failed to close channel", log.String("auth_token", ch.AuthToken()), log.Error(err))
	})

	err := concurrent.Concurrent(ctx, r.transports, func(ctx context.Context, t transport.Transport) error {
		return t.Stop(ctx)
	})
	for _, c := range conns {
		r.RemoveConnection(c)
	}
	r.receiver.stage.clear()
	return err
}

func (r *Replicator) stamp(now time.Time) uint32 {
	return uint32(now.Sub(r.epoch).Milliseconds())
}

// Receive accepts pending channels, drains every host into staging, runs
// validators and merges what they accepted.
func (r *Replicator) Receive(now time.Time) {
	nowMs := r.stamp(now)
	r.acceptConnections()

	for _, c := range slices.Clone(r.roster.live) {
		h := r.roster.host(c)
		if r.receiver.collect(h, now, nowMs) {
			r.disconnect(c, h)
		}
	}
	r.receiver.validate()
	r.receiver.promote()
}

// Send applies rule deltas, runs the send pass and flushes every host.
func (r *Replicator) Send(now time.Time) error {
	nowMs := r.stamp(now)
	if err := r.applyRules(); err != nil {
		return err
	}
	err := r.sender.send(now, nowMs)
	for _, c := range r.roster.live {
		r.roster.host(c).flush(nowMs)
	}
	return err
}

func (r *Replicator) Tick(now time.Time) error {
	start := time.Now()
	defer func() { r.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	r.Receive(now)
	return r.Send(now)
}

// Run ticks every interval until ctx is done or a fatal error occurs.
func (r *Replicator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.Tick(now); err != nil {
				if IsFatal(err) {
					return err
				}
				r.logger.Warn("Tick failed", log.Error(err))
			}
		}
	}
}

func (r *Replicator) applyRules() error {
	for _, rl := range r.rules {
		d := rl.query.Drain()
		for _, e := range d.Removed {
			if t, ok := r.sender.originals[e]; ok && t.rule == rl {
				r.sender.remove(e)
			}
		}
		for _, e := range d.Added {
			if _, err := r.sender.add(e, rl.values, rl); err != nil {
				return errors.Wrapf(err, "rule %q", rl.name)
			}
		}
		for _, e := range d.Changed {
			r.sender.markModified(e)
		}
	}
	return nil
}

func (r *Replicator) acceptConnections() {
	for _, t := range r.transports {
		for ch := t.AcceptConnection(); ch != nil; ch = t.AcceptConnection() {
			r.accept(ch, t.MaxPacketSize())
		}
	}
}

func (r *Replicator) accept(ch transport.Channel, maxPacketSize int) {
	token := ch.AuthToken()
	if c, ok := r.roster.byToken[token]; ok && token != "" {
		h := r.roster.host(c)
		if err := h.attach(ch, maxPacketSize); err != nil {
			_ = ch.Close()
			r.logger.Error("Rejected connection",
				log.String("connection", c.String()),
				log.Error(errors.Wrap(ErrDuplicateConnection, err.Error())),
			)
			return
		}
		r.sender.ensureScratch(maxPacketSize)
		r.roster.resync = append(r.roster.resync, c)
		r.logger.Info("Connection reattached", log.String("connection", c.String()))
		r.notify(r.onConnect, c)
		return
	}

	c := &Connection{id: newConnectionID(), authToken: token}
	h := newHost(c, r.logger, r.metrics)
	if err := h.attach(ch, maxPacketSize); err != nil {
		_ = ch.Close()
		r.logger.Error("Rejected connection", log.String("connection", c.String()), log.Error(err))
		return
	}
	r.sender.ensureScratch(maxPacketSize)
	r.roster.add(c, h)
	r.metrics.Connections.Set(float64(len(r.roster.live)))
	r.logger.Info("Connection accepted", log.String("connection", c.String()))
	r.notify(r.onConnect, c)
}

func (r *Replicator) disconnect(c *Connection, h *Host) {
	h.detach()
	r.logger.Info("Connection lost", log.String("connection", c.String()))
	r.notify(r.onDisconnect, c)
}

func (r *Replicator) notify(hooks []func(*Connection), c *Connection) {
	for _, fn := range hooks {
		fn(c)
	}
}
