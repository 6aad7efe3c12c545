package replication

import (
	"slices"
	"time"

	"github.com/zeusync/replicate/internal/core/store"
)

// OriginalValues configures a new Original.
type OriginalValues struct {
	// MaxUpdateFrequency caps updates per second. Zero disables throttling.
	MaxUpdateFrequency float64
	// ReplicatedKinds is the fixed list of record kinds to send. A rule
	// defaults it to the selection's With kinds.
	ReplicatedKinds []store.Kind
	// ApprovedConnections restricts recipients. Nil broadcasts to every live
	// connection.
	ApprovedConnections []*Connection
}

// Original marks an entity as authoritative and replicable. Its replicated
// kinds are fixed at creation; frequency and approvals may change and take
// effect on the next send pass.
type Original struct {
	entity             store.EntityID
	maxUpdateFrequency float64
	replicatedKinds    []store.Kind
	approved           []*Connection
	changed            bool
}

func newOriginal(e store.EntityID, v OriginalValues) *Original {
	return &Original{
		entity:             e,
		maxUpdateFrequency: v.MaxUpdateFrequency,
		replicatedKinds:    slices.Clone(v.ReplicatedKinds),
		approved:           cloneApproval(v.ApprovedConnections),
	}
}

func cloneApproval(conns []*Connection) []*Connection {
	if conns == nil {
		return nil
	}
	return append(make([]*Connection, 0, len(conns)), conns...)
}

func (o *Original) Entity() store.EntityID { return o.entity }

func (o *Original) MaxUpdateFrequency() float64 { return o.maxUpdateFrequency }

func (o *Original) SetMaxUpdateFrequency(f float64) {
	if f < 0 {
		f = 0
	}
	o.maxUpdateFrequency = f
	o.changed = true
}

func (o *Original) ReplicatedKinds() []store.Kind { return slices.Clone(o.replicatedKinds) }

// ApprovedConnections returns nil for broadcast originals.
func (o *Original) ApprovedConnections() []*Connection { return cloneApproval(o.approved) }

func (o *Original) Broadcast() bool { return o.approved == nil }

// SetApprovedConnections replaces the approval list. Pass nil to broadcast.
func (o *Original) SetApprovedConnections(conns []*Connection) {
	o.approved = cloneApproval(conns)
	o.changed = true
}

// State is the send-side lifecycle of one original.
type State uint8

const (
	// StateUntracked: selected but not yet assigned a wire id.
	StateUntracked State = iota
	StateActive
	// StateThrottled: has unsent changes held back by the frequency cap.
	StateThrottled
	// StatePendingRemoval: deselected; a deletion notice goes out this pass.
	StatePendingRemoval
)

func (s State) String() string {
	switch s {
	case StateUntracked:
		return "untracked"
	case StateActive:
		return "active"
	case StateThrottled:
		return "throttled"
	case StatePendingRemoval:
		return "pending_removal"
	default:
		return "unknown"
	}
}

// tracked is the private bookkeeping paired with an Original.
type tracked struct {
	original *Original
	// rule is the selection rule that attached the original, nil if manual.
	rule  *rule
	state State
	// modified marks unsent data changes on an Active original.
	modified bool
	wireID   uint32
	hasWire  bool

	lastApproved []*Connection
	replicated   []*Connection
	updatePeriod time.Duration
	lastSent     time.Time
}

func periodFor(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / f)
}

func (t *tracked) due(now time.Time) bool {
	return !t.lastSent.Add(t.updatePeriod).After(now)
}
