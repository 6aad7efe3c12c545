// Package store defines the entity/record store the replication core runs
// against. The core only depends on these interfaces.
package store

import "github.com/pkg/errors"

// EntityID identifies an entity. The zero value is never assigned.
type EntityID uint64

const NoEntity EntityID = 0

// Kind tags a record type.
type Kind string

// Record is a typed data record attached to an entity. Stores hold records
// by pointer so Mutate can edit them in place.
type Record interface {
	Kind() Kind
}

var (
	ErrNoEntity  = errors.New("store: no such entity")
	ErrNoRecord  = errors.New("store: no such record")
	ErrNilRecord = errors.New("store: nil record")
)

// Selection describes a query: entities carrying every With kind and none of
// the Without kinds.
type Selection struct {
	With    []Kind
	Without []Kind
}

// Delta is the membership change of a query since it was last drained.
// Removed is reported before Added so an entity that left and re-entered
// within one window appears in both.
type Delta struct {
	Added   []EntityID
	Removed []EntityID
	Changed []EntityID
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

type Query interface {
	Selection() Selection
	// Results lists the current members in the order they joined.
	Results() []EntityID
	// Drain returns the accumulated delta and starts a new window.
	Drain() Delta
	Close()
}

type Store interface {
	CreateEntity() EntityID
	DestroyEntity(id EntityID) error
	Alive(id EntityID) bool

	// Attach adds rec to the entity, replacing any record of the same kind.
	Attach(id EntityID, rec Record) error
	Detach(id EntityID, kind Kind) error
	Get(id EntityID, kind Kind) (Record, bool)
	Has(id EntityID, kind Kind) bool
	// Mutate runs fn on the record in place and reports it as changed.
	Mutate(id EntityID, kind Kind, fn func(Record)) error

	Watch(sel Selection) Query
}
