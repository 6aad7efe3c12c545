// Package memory is a map-backed store.Store with per-query change tracking.
package memory

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/store"
)

var _ store.Store = (*Store)(nil)

type entity struct {
	records map[store.Kind]store.Record
}

type Store struct {
	mu       sync.RWMutex
	nextID   store.EntityID
	entities map[store.EntityID]*entity
	queries  []*query
}

func New() *Store {
	return &Store{entities: make(map[store.EntityID]*entity)}
}

func (s *Store) CreateEntity() store.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.entities[s.nextID] = &entity{records: make(map[store.Kind]store.Record)}
	return s.nextID
}

func (s *Store) DestroyEntity(id store.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return errors.Wrapf(store.ErrNoEntity, "destroy %d", id)
	}
	delete(s.entities, id)
	for _, q := range s.queries {
		q.leave(id)
	}
	return nil
}

func (s *Store) Alive(id store.EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entities[id]
	return ok
}

func (s *Store) Attach(id store.EntityID, rec store.Record) error {
	if rec == nil {
		return store.ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return errors.Wrapf(store.ErrNoEntity, "attach %s to %d", rec.Kind(), id)
	}
	_, replaced := e.records[rec.Kind()]
	e.records[rec.Kind()] = rec
	s.reindex(id, e, rec.Kind(), replaced)
	return nil
}

func (s *Store) Detach(id store.EntityID, kind store.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return errors.Wrapf(store.ErrNoEntity, "detach %s from %d", kind, id)
	}
	if _, ok := e.records[kind]; !ok {
		return errors.Wrapf(store.ErrNoRecord, "detach %s from %d", kind, id)
	}
	delete(e.records, kind)
	s.reindex(id, e, kind, false)
	return nil
}

func (s *Store) Get(id store.EntityID, kind store.Kind) (store.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	rec, ok := e.records[kind]
	return rec, ok
}

func (s *Store) Has(id store.EntityID, kind store.Kind) bool {
	_, ok := s.Get(id, kind)
	return ok
}

func (s *Store) Mutate(id store.EntityID, kind store.Kind, fn func(store.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return errors.Wrapf(store.ErrNoEntity, "mutate %s on %d", kind, id)
	}
	rec, ok := e.records[kind]
	if !ok {
		return errors.Wrapf(store.ErrNoRecord, "mutate %s on %d", kind, id)
	}
	fn(rec)
	s.reindex(id, e, kind, true)
	return nil
}

func (s *Store) Watch(sel store.Selection) store.Query {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := newQuery(s, sel)
	for id, e := range s.entities {
		if q.matches(e) {
			q.members = append(q.members, id)
			q.index[id] = struct{}{}
		}
	}
	// Pre-existing members surface as added on the first drain, oldest first.
	slices.Sort(q.members)
	for _, id := range q.members {
		q.added.add(id)
	}
	s.queries = append(s.queries, q)
	return q
}

func (s *Store) unwatch(q *query) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = slices.DeleteFunc(s.queries, func(o *query) bool { return o == q })
}

// reindex updates every query after kind changed on entity id. changed is
// true when an existing record was edited or replaced in place.
func (s *Store) reindex(id store.EntityID, e *entity, kind store.Kind, changed bool) {
	for _, q := range s.queries {
		_, member := q.index[id]
		match := q.matches(e)
		switch {
		case match && !member:
			q.enter(id)
		case !match && member:
			q.leave(id)
		case match && changed && q.watches(kind):
			q.touch(id)
		}
	}
}
