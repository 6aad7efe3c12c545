package schema

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/wire"
)

// Type is the serialization function pair for one record kind.
type Type struct {
	kind   store.Kind
	fields []FieldSpec
	encode func(store.Record, *wire.Writer) error
	decode func(*wire.Reader) (store.Record, error)
}

// Define declares the wire schema of record type T. Fields are written
// in the order given. P is inferred as *T.
func Define[T any, P interface {
	*T
	store.Record
}](fields ...Field[T]) *Type {
	specs := make([]FieldSpec, len(fields))
	for i, f := range fields {
		specs[i] = f.spec
	}

	return &Type{
		kind:   P(new(T)).Kind(),
		fields: specs,
		encode: func(rec store.Record, w *wire.Writer) error {
			v, ok := rec.(P)
			if !ok || v == nil {
				return errors.Wrapf(ErrRecordMismatch, "want %T, got %T", P(nil), rec)
			}
			for _, f := range fields {
				if err := f.write((*T)(v), w); err != nil {
					return errors.Wrapf(err, "field %s", f.spec.Name)
				}
			}
			return nil
		},
		decode: func(r *wire.Reader) (store.Record, error) {
			v := new(T)
			for _, f := range fields {
				if err := f.read(v, r); err != nil {
					return nil, errors.Wrapf(err, "field %s", f.spec.Name)
				}
			}
			return P(v), nil
		},
	}
}

func (t *Type) Kind() store.Kind { return t.kind }

func (t *Type) Fields() []FieldSpec { return slices.Clone(t.fields) }

func (t *Type) Encode(rec store.Record, w *wire.Writer) error { return t.encode(rec, w) }

func (t *Type) Decode(r *wire.Reader) (store.Record, error) { return t.decode(r) }
