package schema

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/wire"
)

// Registry assigns dense wire type ids to record kinds in registration order.
// It is immutable once built, so the id width is fixed for its lifetime.
type Registry struct {
	types       []*Type
	ids         map[store.Kind]uint32
	idType      wire.Type
	fingerprint uint64
}

func NewRegistry(types ...*Type) (*Registry, error) {
	idType, ok := wire.UintFor(uint64(len(types)))
	if !ok {
		return nil, errors.Wrapf(ErrTooManyTypes, "%d types", len(types))
	}

	r := &Registry{
		types:  make([]*Type, 0, len(types)),
		ids:    make(map[store.Kind]uint32, len(types)),
		idType: idType,
	}
	digest := xxhash.New()
	var scratch [2]byte
	for _, t := range types {
		if t.kind == "" {
			return nil, ErrEmptyKind
		}
		if _, dup := r.ids[t.kind]; dup {
			return nil, errors.Wrapf(ErrDuplicateKind, "%q", t.kind)
		}
		r.ids[t.kind] = uint32(len(r.types))
		r.types = append(r.types, t)

		_, _ = digest.WriteString(string(t.kind))
		for _, f := range t.fields {
			binary.LittleEndian.PutUint16(scratch[:], uint16(f.Type))
			_, _ = digest.Write(scratch[:])
			_, _ = digest.WriteString(f.Name)
		}
		_, _ = digest.Write([]byte{0})
	}
	r.fingerprint = digest.Sum64()
	return r, nil
}

// MustRegistry is NewRegistry for static declarations.
func MustRegistry(types ...*Type) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Len() int { return len(r.types) }

// IDType is the width used for type ids on the wire.
func (r *Registry) IDType() wire.Type { return r.idType }

// Fingerprint hashes kinds and field layouts in id order. Peers with
// different fingerprints cannot decode each other's packets.
func (r *Registry) Fingerprint() uint64 { return r.fingerprint }

func (r *Registry) Lookup(kind store.Kind) (*Type, uint32, error) {
	id, ok := r.ids[kind]
	if !ok {
		return nil, 0, errors.Wrapf(ErrMissingWireSchema, "%q", kind)
	}
	return r.types[id], id, nil
}

func (r *Registry) ByID(id uint32) (*Type, error) {
	if int(id) >= len(r.types) {
		return nil, errors.Wrapf(ErrUnknownTypeID, "%d", id)
	}
	return r.types[id], nil
}

// Check reports the first kind in kinds that has no schema.
func (r *Registry) Check(kinds ...store.Kind) error {
	for _, k := range kinds {
		if _, ok := r.ids[k]; !ok {
			return errors.Wrapf(ErrMissingWireSchema, "%q", k)
		}
	}
	return nil
}

// WriteRecord writes rec's type id followed by its fields.
func (r *Registry) WriteRecord(rec store.Record, w *wire.Writer) error {
	t, id, err := r.Lookup(rec.Kind())
	if err != nil {
		return err
	}
	if err := w.Uint(r.idType, id); err != nil {
		return err
	}
	return t.Encode(rec, w)
}

// ReadRecord reads one record written by WriteRecord.
func (r *Registry) ReadRecord(rd *wire.Reader) (store.Record, error) {
	id, err := rd.Uint(r.idType)
	if err != nil {
		return nil, err
	}
	t, err := r.ByID(id)
	if err != nil {
		return nil, err
	}
	rec, err := t.Decode(rd)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", t.kind)
	}
	return rec, nil
}
