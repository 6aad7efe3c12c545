package memory

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replicate/internal/core/store"
)

type position struct{ X, Y float32 }

func (*position) Kind() store.Kind { return "position" }

type hidden struct{}

func (*hidden) Kind() store.Kind { return "hidden" }

type label struct{ Text string }

func (*label) Kind() store.Kind { return "label" }

func TestQueryDelta(t *testing.T) {
	s := New()
	q := s.Watch(store.Selection{With: []store.Kind{"position"}, Without: []store.Kind{"hidden"}})

	a := s.CreateEntity()
	b := s.CreateEntity()
	require.NoError(t, s.Attach(a, &position{X: 1}))
	require.NoError(t, s.Attach(b, &position{X: 2}))

	d := q.Drain()
	assert.Equal(t, []store.EntityID{a, b}, d.Added)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Changed)

	require.NoError(t, s.Mutate(a, "position", func(r store.Record) { r.(*position).X = 5 }))
	require.NoError(t, s.Attach(a, &label{Text: "unwatched"}))
	require.NoError(t, s.Attach(b, &hidden{}))

	d = q.Drain()
	assert.Empty(t, d.Added)
	assert.Equal(t, []store.EntityID{b}, d.Removed)
	assert.Equal(t, []store.EntityID{a}, d.Changed)
	assert.Equal(t, []store.EntityID{a}, q.Results())

	rec, ok := s.Get(a, "position")
	require.True(t, ok)
	assert.Equal(t, float32(5), rec.(*position).X)

	assert.True(t, q.Drain().Empty())
}

func TestQueryTransientMembershipIsInvisible(t *testing.T) {
	s := New()
	q := s.Watch(store.Selection{With: []store.Kind{"position"}})

	e := s.CreateEntity()
	require.NoError(t, s.Attach(e, &position{}))
	require.NoError(t, s.DestroyEntity(e))

	assert.True(t, q.Drain().Empty())
	assert.False(t, s.Alive(e))
}

func TestQueryLeaveAndRejoin(t *testing.T) {
	s := New()
	q := s.Watch(store.Selection{With: []store.Kind{"position"}})
	e := s.CreateEntity()
	require.NoError(t, s.Attach(e, &position{}))
	q.Drain()

	require.NoError(t, s.Detach(e, "position"))
	require.NoError(t, s.Attach(e, &position{}))

	d := q.Drain()
	assert.Equal(t, []store.EntityID{e}, d.Removed)
	assert.Equal(t, []store.EntityID{e}, d.Added)
}

func TestWatchSeesExistingEntities(t *testing.T) {
	s := New()
	e := s.CreateEntity()
	require.NoError(t, s.Attach(e, &position{}))

	q := s.Watch(store.Selection{With: []store.Kind{"position"}})
	assert.Equal(t, []store.EntityID{e}, q.Drain().Added)

	q.Close()
	require.NoError(t, s.Mutate(e, "position", func(store.Record) {}))
	assert.True(t, q.Drain().Empty())
}

func TestErrors(t *testing.T) {
	s := New()
	e := s.CreateEntity()

	assert.True(t, errors.Is(s.Attach(99, &position{}), store.ErrNoEntity))
	assert.True(t, errors.Is(s.Attach(e, nil), store.ErrNilRecord))
	assert.True(t, errors.Is(s.Detach(e, "position"), store.ErrNoRecord))
	assert.True(t, errors.Is(s.Mutate(e, "position", func(store.Record) {}), store.ErrNoRecord))
	assert.True(t, errors.Is(s.DestroyEntity(99), store.ErrNoEntity))
}
