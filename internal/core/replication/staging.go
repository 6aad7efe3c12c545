package replication

import (
	"slices"
	"time"

	"github.com/zeusync/replicate/internal/core/store"
)

// StagedUpdate is one decoded inbound entity update held in quarantine until
// a validator accepts it.
type StagedUpdate struct {
	Source *Connection
	WireID uint32
	// SentAt is the sender's timestamp mapped onto the local clock.
	SentAt     time.Time
	ReceivedAt time.Time

	records []store.Record
	replica *Replica
	valid   bool
}

func (u *StagedUpdate) Records() []store.Record { return u.records }

func (u *StagedUpdate) Record(kind store.Kind) (store.Record, bool) {
	for _, rec := range u.records {
		if rec.Kind() == kind {
			return rec, true
		}
	}
	return nil, false
}

// Deleted reports a zero-record update: the sender dropped the entity.
func (u *StagedUpdate) Deleted() bool { return len(u.records) == 0 }

// Replica is the live replica this update targets, or nil if accepting it
// creates a new one.
func (u *StagedUpdate) Replica() *Replica { return u.replica }

func (u *StagedUpdate) MarkValid() { u.valid = true }

func (u *StagedUpdate) Valid() bool { return u.valid }

type stageKey struct {
	conn   ConnectionID
	wireID uint32
}

// Stage is the quarantine area of one tick. It keeps at most one update per
// (connection, wire id); a later update in the same tick replaces an earlier one.
type Stage struct {
	updates []*StagedUpdate
	index   map[stageKey]int
}

func newStage() *Stage {
	return &Stage{index: make(map[stageKey]int)}
}

func (s *Stage) Updates() []*StagedUpdate { return s.updates }

func (s *Stage) Len() int { return len(s.updates) }

func (s *Stage) put(u *StagedUpdate) {
	key := stageKey{conn: u.Source.id, wireID: u.WireID}
	if i, ok := s.index[key]; ok {
		s.updates[i] = u
		return
	}
	s.index[key] = len(s.updates)
	s.updates = append(s.updates, u)
}

func (s *Stage) clear() {
	clear(s.updates)
	s.updates = s.updates[:0]
	clear(s.index)
}

// Validator inspects the stage and marks acceptable updates valid.
type Validator interface {
	Validate(stage *Stage)
}

type ValidatorFunc func(stage *Stage)

func (f ValidatorFunc) Validate(stage *Stage) { f(stage) }

// AcceptAll trusts every staged update.
var AcceptAll = ValidatorFunc(func(stage *Stage) {
	for _, u := range stage.Updates() {
		u.MarkValid()
	}
})

// AcceptFrom trusts updates arriving from the given connections.
func AcceptFrom(conns ...*Connection) Validator {
	trusted := slices.Clone(conns)
	return ValidatorFunc(func(stage *Stage) {
		for _, u := range stage.Updates() {
			if slices.Contains(trusted, u.Source) {
				u.MarkValid()
			}
		}
	})
}
