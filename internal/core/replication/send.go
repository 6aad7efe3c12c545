package replication

import (
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/wire"
)

// sender runs the per-tick send pass over every tracked original.
type sender struct {
	store   store.Store
	wires   *WireManager
	roster  *roster
	logger  log.Log
	metrics *metrics.Metrics

	originals map[store.EntityID]*tracked
	// order holds originals that own a wire id, in tracking order.
	order   []*tracked
	added   []*tracked
	removed []*tracked

	scratch *wire.Writer
	encoder entityPayload
}

func newSender(st store.Store, wires *WireManager, r *roster, logger log.Log, m *metrics.Metrics, scratchSize int) *sender {
	return &sender{
		store:     st,
		wires:     wires,
		roster:    r,
		logger:    logger,
		metrics:   m,
		originals: make(map[store.EntityID]*tracked),
		scratch:   wire.NewWriter(scratchSize),
	}
}

// ensureScratch grows the fan-out buffer to hold a full packet of size n.
func (s *sender) ensureScratch(n int) {
	if n > s.scratch.Cap() {
		s.scratch = wire.NewWriter(n)
	}
}

func (s *sender) validateKinds(kinds []store.Kind) error {
	if len(kinds) == 0 {
		return ErrNoReplicatedKinds
	}
	if len(kinds) > 255 {
		return errors.Wrapf(ErrTooManyKinds, "%d kinds", len(kinds))
	}
	return s.wires.Registry().Check(kinds...)
}

func (s *sender) add(e store.EntityID, v OriginalValues, owner *rule) (*Original, error) {
	if _, ok := s.originals[e]; ok {
		return nil, errors.Wrapf(ErrOverlappingSelection, "entity %d", e)
	}
	if err := s.validateKinds(v.ReplicatedKinds); err != nil {
		return nil, errors.Wrapf(err, "entity %d", e)
	}
	t := &tracked{original: newOriginal(e, v), rule: owner}
	s.originals[e] = t
	s.added = append(s.added, t)
	return t.original, nil
}

func (s *sender) remove(e store.EntityID) bool {
	t, ok := s.originals[e]
	if !ok {
		return false
	}
	delete(s.originals, e)
	t.state = StatePendingRemoval
	s.removed = append(s.removed, t)
	return true
}

func (s *sender) markModified(e store.EntityID) bool {
	t, ok := s.originals[e]
	if !ok {
		return false
	}
	if t.state == StateActive {
		t.modified = true
	}
	return true
}

func (s *sender) send(now time.Time, nowMs uint32) error {
	if err := s.scanConnections(now, nowMs); err != nil {
		return err
	}
	if err := s.scanAdded(now, nowMs); err != nil {
		return err
	}
	if err := s.scanRemoved(nowMs); err != nil {
		return err
	}
	if err := s.releaseThrottled(now, nowMs); err != nil {
		return err
	}
	s.throttleModified(now)
	if err := s.scanChanged(now, nowMs); err != nil {
		return err
	}
	if err := s.sendModified(now, nowMs); err != nil {
		return err
	}
	s.metrics.TrackedOriginals.Set(float64(s.wires.Tracked()))
	return nil
}

func live(t *tracked) bool {
	return t.state == StateActive || t.state == StateThrottled
}

// scanConnections reacts to roster changes since the last pass.
func (s *sender) scanConnections(now time.Time, nowMs uint32) error {
	defer s.roster.settle()

	if s.roster.changed() {
		pruneAll := s.roster.removed > 0
		for _, t := range s.order {
			if !live(t) {
				continue
			}
			if pruneAll {
				t.replicated = slices.DeleteFunc(t.replicated, func(c *Connection) bool {
					return !s.roster.contains(c)
				})
			}
			if pruneAll || t.original.Broadcast() {
				if err := s.updateApproval(t, now, nowMs); err != nil {
					return err
				}
			}
		}
	}

	for _, c := range s.roster.resync {
		h := s.roster.host(c)
		if !h.attached() {
			continue
		}
		if err := s.sendDeferred(h, nowMs); err != nil {
			return err
		}
		target := []*Connection{c}
		for _, t := range s.order {
			if live(t) && slices.Contains(t.lastApproved, c) {
				if err := s.queueEntity(t, target, nowMs); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recipients is the approved set intersected with the live roster. A
// restricted approval list loses connections that left the roster.
func (s *sender) recipients(o *Original) []*Connection {
	if o.approved == nil {
		return slices.Clone(s.roster.live)
	}
	current := make([]*Connection, 0, len(o.approved))
	for _, c := range o.approved {
		if c != nil && s.roster.contains(c) && !slices.Contains(current, c) {
			current = append(current, c)
		}
	}
	if len(current) != len(o.approved) {
		o.approved = slices.Clone(current)
	}
	return current
}

// sendDeferred queues the deletions a reattached host missed.
func (s *sender) sendDeferred(h *Host, nowMs uint32) error {
	for len(h.deferred) > 0 {
		if err := h.queue(nowMs, h.deferred[0], deletion); err != nil {
			return err
		}
		h.deferred = h.deferred[1:]
		s.metrics.EntityDeletions.Inc()
	}
	h.deferred = nil
	return nil
}

func (s *sender) updateApproval(t *tracked, now time.Time, nowMs uint32) error {
	current := s.recipients(t.original)

	var added, dropped []*Connection
	for _, c := range current {
		if !slices.Contains(t.lastApproved, c) {
			added = append(added, c)
		}
	}
	for _, c := range t.lastApproved {
		if !slices.Contains(current, c) {
			dropped = append(dropped, c)
		}
	}

	// A dropped connection still on the roster was disapproved by policy.
	if t.state == StateThrottled {
		for _, c := range dropped {
			if s.roster.contains(c) {
				return errors.Wrapf(ErrDisapprovedWhileThrottled, "entity %d, connection %s", t.original.entity, c)
			}
		}
	}

	// A modification that is due reaches them in the final step of this pass.
	// Otherwise they get the current state now, outside the throttle.
	if len(added) > 0 && !(t.modified && t.due(now)) {
		if err := s.queueEntity(t, added, nowMs); err != nil {
			return err
		}
	}
	for _, c := range added {
		if !slices.Contains(t.replicated, c) {
			t.replicated = append(t.replicated, c)
		}
	}
	t.lastApproved = current
	return nil
}

func (s *sender) scanAdded(now time.Time, nowMs uint32) error {
	for i, t := range s.added {
		if t.state != StateUntracked {
			continue
		}
		o := t.original
		id, err := s.wires.Track(o.entity)
		if err != nil {
			s.added = s.added[i:]
			return err
		}
		current := s.recipients(o)
		t.wireID, t.hasWire = id, true
		t.lastApproved = current
		t.replicated = slices.Clone(current)
		t.updatePeriod = periodFor(o.maxUpdateFrequency)
		t.lastSent = now
		t.state = StateActive
		t.modified = false
		o.changed = false
		s.order = append(s.order, t)

		if err := s.queueEntity(t, current, nowMs); err != nil {
			s.added = s.added[i+1:]
			return err
		}
	}
	s.added = s.added[:0]
	return nil
}

// scanRemoved sends one deletion notice to every connection the entity was
// ever replicated to that is still on the roster. Detached hosts get theirs
// when they reattach.
func (s *sender) scanRemoved(nowMs uint32) error {
	if len(s.removed) == 0 {
		return nil
	}
	for i, t := range s.removed {
		if !t.hasWire {
			continue
		}
		for _, c := range t.replicated {
			h := s.roster.host(c)
			if h == nil {
				continue
			}
			if !h.attached() {
				h.deferDeletion(t.wireID)
				continue
			}
			if err := h.queue(nowMs, t.wireID, deletion); err != nil {
				s.removed = s.removed[i+1:]
				return err
			}
			s.metrics.EntityDeletions.Inc()
		}
		s.wires.Forget(t.wireID)
		t.hasWire = false
	}
	s.removed = s.removed[:0]
	s.order = slices.DeleteFunc(s.order, func(t *tracked) bool { return t.state == StatePendingRemoval })
	return nil
}

func (s *sender) releaseThrottled(now time.Time, nowMs uint32) error {
	for _, t := range s.order {
		if t.state != StateThrottled || !t.due(now) {
			continue
		}
		t.state = StateActive
		t.lastSent = now
		if err := s.queueEntity(t, t.lastApproved, nowMs); err != nil {
			return err
		}
	}
	return nil
}

func (s *sender) throttleModified(now time.Time) {
	for _, t := range s.order {
		if t.state != StateActive || !t.modified || t.due(now) {
			continue
		}
		t.modified = false
		t.state = StateThrottled
		s.metrics.ThrottledUpdates.Inc()
	}
}

func (s *sender) scanChanged(now time.Time, nowMs uint32) error {
	for _, t := range s.order {
		if !live(t) || !t.original.changed {
			continue
		}
		t.original.changed = false
		if err := s.updateApproval(t, now, nowMs); err != nil {
			return err
		}
		t.updatePeriod = periodFor(t.original.maxUpdateFrequency)
	}
	return nil
}

func (s *sender) sendModified(now time.Time, nowMs uint32) error {
	for _, t := range s.order {
		if t.state != StateActive || !t.modified {
			continue
		}
		t.modified = false
		t.lastSent = now
		if err := s.queueEntity(t, t.lastApproved, nowMs); err != nil {
			return err
		}
	}
	return nil
}

// queueEntity encodes the entity's record set into each recipient's packet.
// With several recipients it is encoded once and copied.
func (s *sender) queueEntity(t *tracked, conns []*Connection, nowMs uint32) error {
	if len(conns) == 0 {
		return nil
	}
	o := t.original
	s.encoder = entityPayload{wires: s.wires, entity: o.entity, kinds: o.replicatedKinds}

	if len(conns) == 1 {
		h := s.roster.host(conns[0])
		if h == nil || !h.attached() {
			return nil
		}
		if err := h.queue(nowMs, t.wireID, &s.encoder); err != nil {
			return errors.Wrapf(err, "entity %d", o.entity)
		}
		s.metrics.EntityUpdates.Inc()
		return nil
	}

	s.scratch.Reset()
	if err := s.encoder.writeTo(s.scratch); err != nil {
		if errors.Is(err, wire.ErrBufferOverflow) {
			err = errors.Wrapf(ErrPacketTooSmall, "scratch buffer %d bytes: %v", s.scratch.Cap(), err)
		}
		return errors.Wrapf(err, "entity %d", o.entity)
	}
	var encoded payload = rawPayload(s.scratch.Bytes())
	for _, c := range conns {
		h := s.roster.host(c)
		if h == nil || !h.attached() {
			continue
		}
		if err := h.queue(nowMs, t.wireID, encoded); err != nil {
			return errors.Wrapf(err, "entity %d", o.entity)
		}
		s.metrics.EntityUpdates.Inc()
	}
	return nil
}
