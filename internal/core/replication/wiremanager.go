package replication

import (
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/schema"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/wire"
)

// WireManager assigns wire ids to tracked originals and moves record sets
// on and off the wire.
type WireManager struct {
	registry *schema.Registry
	store    store.Store
	next     uint64
	entities map[uint32]store.EntityID
}

func NewWireManager(registry *schema.Registry, st store.Store) *WireManager {
	return &WireManager{
		registry: registry,
		store:    st,
		entities: make(map[uint32]store.EntityID),
	}
}

func (m *WireManager) Registry() *schema.Registry { return m.registry }

// Track allocates the next wire id for e. Ids are never reused.
func (m *WireManager) Track(e store.EntityID) (uint32, error) {
	if m.next > math.MaxUint32 {
		return 0, ErrWireIDExhausted
	}
	id := uint32(m.next)
	m.next++
	m.entities[id] = e
	return id, nil
}

// Forget drops the mapping for id. The counter is not rewound.
func (m *WireManager) Forget(id uint32) {
	delete(m.entities, id)
}

// Entity resolves a wire id assigned by this manager.
func (m *WireManager) Entity(id uint32) (store.EntityID, bool) {
	e, ok := m.entities[id]
	return e, ok
}

func (m *WireManager) Tracked() int { return len(m.entities) }

// WriteEntity writes the count of kinds present on e followed by each
// present record in kinds order. An entity with none of the kinds writes a
// lone zero, which receivers treat as deletion.
func (m *WireManager) WriteEntity(e store.EntityID, kinds []store.Kind, w *wire.Writer) error {
	present := 0
	for _, k := range kinds {
		if m.store.Has(e, k) {
			present++
		}
	}
	if present > math.MaxUint8 {
		return errors.Wrapf(ErrTooManyKinds, "%d present", present)
	}
	if err := w.Uint8(uint8(present)); err != nil {
		return err
	}
	for _, k := range kinds {
		rec, ok := m.store.Get(e, k)
		if !ok {
			continue
		}
		if err := m.registry.WriteRecord(rec, w); err != nil {
			return errors.Wrapf(err, "entity %d", e)
		}
	}
	return nil
}

// ReadRecords decodes one record set. An empty result is a deletion.
func (m *WireManager) ReadRecords(r *wire.Reader) ([]store.Record, error) {
	n, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	records := make([]store.Record, 0, n)
	for i := 0; i < int(n); i++ {
		rec, err := m.registry.ReadRecord(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d of %d", i+1, n)
		}
		records = append(records, rec)
	}
	return records, nil
}
