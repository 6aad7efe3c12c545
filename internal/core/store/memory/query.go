package memory

import (
	"slices"
	"sync"

	"github.com/zeusync/replicate/internal/core/store"
)

var _ store.Query = (*query)(nil)

// idSet keeps insertion order and supports cheap removal.
type idSet struct {
	order []store.EntityID
	in    map[store.EntityID]bool
}

func (s *idSet) add(id store.EntityID) {
	if s.in == nil {
		s.in = make(map[store.EntityID]bool)
	}
	if s.in[id] {
		return
	}
	if _, seen := s.in[id]; !seen {
		s.order = append(s.order, id)
	}
	s.in[id] = true
}

func (s *idSet) remove(id store.EntityID) bool {
	if !s.in[id] {
		return false
	}
	s.in[id] = false
	return true
}

func (s *idSet) has(id store.EntityID) bool { return s.in[id] }

func (s *idSet) drain() []store.EntityID {
	var out []store.EntityID
	for _, id := range s.order {
		if s.in[id] {
			out = append(out, id)
		}
	}
	s.order = s.order[:0]
	clear(s.in)
	return out
}

type query struct {
	owner *Store
	sel   store.Selection

	mu      sync.Mutex
	members []store.EntityID
	index   map[store.EntityID]struct{}

	added   idSet
	removed idSet
	changed idSet
	closed  bool
}

func newQuery(owner *Store, sel store.Selection) *query {
	return &query{
		owner: owner,
		sel: store.Selection{
			With:    slices.Clone(sel.With),
			Without: slices.Clone(sel.Without),
		},
		index: make(map[store.EntityID]struct{}),
	}
}

func (q *query) matches(e *entity) bool {
	for _, k := range q.sel.With {
		if _, ok := e.records[k]; !ok {
			return false
		}
	}
	for _, k := range q.sel.Without {
		if _, ok := e.records[k]; ok {
			return false
		}
	}
	return true
}

func (q *query) watches(kind store.Kind) bool {
	return slices.Contains(q.sel.With, kind)
}

func (q *query) enter(id store.EntityID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.members = append(q.members, id)
	q.index[id] = struct{}{}
	q.added.add(id)
}

func (q *query) leave(id store.EntityID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[id]; !ok {
		return
	}
	delete(q.index, id)
	q.members = slices.DeleteFunc(q.members, func(m store.EntityID) bool { return m == id })
	q.changed.remove(id)
	// Joined and left inside one window: the consumer never saw it.
	if q.added.remove(id) {
		return
	}
	q.removed.add(id)
}

func (q *query) touch(id store.EntityID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.added.has(id) {
		return
	}
	q.changed.add(id)
}

func (q *query) Selection() store.Selection { return q.sel }

func (q *query) Results() []store.EntityID {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.members)
}

func (q *query) Drain() store.Delta {
	q.mu.Lock()
	defer q.mu.Unlock()

	return store.Delta{
		Added:   q.added.drain(),
		Removed: q.removed.drain(),
		Changed: q.changed.drain(),
	}
}

func (q *query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.owner.unwatch(q)
}
