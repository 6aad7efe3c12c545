package replication

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/store/memory"
	"github.com/zeusync/replicate/internal/core/wire"
)

func TestWireIDsAreNeverReused(t *testing.T) {
	wm := NewWireManager(testRegistry, memory.New())

	a, err := wm.Track(10)
	require.NoError(t, err)
	b, err := wm.Track(11)
	require.NoError(t, err)
	wm.Forget(a)
	c, err := wm.Track(12)
	require.NoError(t, err)

	assert.Equal(t, []uint32{0, 1, 2}, []uint32{a, b, c})
	_, ok := wm.Entity(a)
	assert.False(t, ok)
	e, ok := wm.Entity(c)
	require.True(t, ok)
	assert.Equal(t, store.EntityID(12), e)
	assert.Equal(t, 2, wm.Tracked())

	wm.next = 1 << 32
	_, err = wm.Track(13)
	assert.True(t, errors.Is(err, ErrWireIDExhausted))
}

func TestWriteEntityWritesPresentRecordsOnly(t *testing.T) {
	st := memory.New()
	wm := NewWireManager(testRegistry, st)
	e := st.CreateEntity()
	require.NoError(t, st.Attach(e, &position{X: 0.1, Y: 3}))

	w := wire.NewWriter(64)
	require.NoError(t, wm.WriteEntity(e, []store.Kind{kindLabel, kindPosition}, w))
	assert.Equal(t, byte(1), w.Bytes()[0], "count covers present records, not the listed kinds")

	records, err := wm.ReadRecords(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, &position{X: 0.1, Y: 3}, records[0])
}

func TestWriteEntityOrderFollowsKinds(t *testing.T) {
	st := memory.New()
	wm := NewWireManager(testRegistry, st)
	e := st.CreateEntity()
	require.NoError(t, st.Attach(e, &position{X: 1}))
	require.NoError(t, st.Attach(e, &label{Text: "ünï"}))

	w := wire.NewWriter(64)
	require.NoError(t, wm.WriteEntity(e, []store.Kind{kindLabel, kindPosition}, w))
	records, err := wm.ReadRecords(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, &label{Text: "ünï"}, records[0])
	assert.Equal(t, &position{X: 1}, records[1])
}

func TestWriteEntityWithoutRecordsIsDeletion(t *testing.T) {
	st := memory.New()
	wm := NewWireManager(testRegistry, st)
	e := st.CreateEntity()

	w := wire.NewWriter(8)
	require.NoError(t, wm.WriteEntity(e, []store.Kind{kindPosition}, w))
	assert.Equal(t, []byte{0}, w.Bytes())

	records, err := wm.ReadRecords(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, records)
}

type unregistered struct{}

func (*unregistered) Kind() store.Kind { return "unregistered" }

func TestWriteEntityMissingSchema(t *testing.T) {
	st := memory.New()
	wm := NewWireManager(testRegistry, st)
	e := st.CreateEntity()
	require.NoError(t, st.Attach(e, &unregistered{}))

	err := wm.WriteEntity(e, []store.Kind{"unregistered"}, wire.NewWriter(16))
	assert.True(t, errors.Is(err, ErrMissingWireSchema))
	assert.True(t, IsFatal(err))
}

func TestEntityPacketGolden(t *testing.T) {
	st := memory.New()
	wm := NewWireManager(testRegistry, st)
	e := st.CreateEntity()
	require.NoError(t, st.Attach(e, &position{X: 1.5, Y: -2}))
	require.NoError(t, st.Attach(e, &label{Text: "hi"}))
	id, err := wm.Track(e)
	require.NoError(t, err)

	h, _ := newTestHost("")
	ch := &fakeChannel{}
	require.NoError(t, h.attach(ch, 64))
	require.NoError(t, h.queue(1000, id, &entityPayload{wires: wm, entity: e, kinds: []store.Kind{kindPosition, kindLabel}}))
	h.flush(1000)
	require.Len(t, ch.sent, 1)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "entity_packet", []byte(hex.EncodeToString(ch.sent[0])))
}
