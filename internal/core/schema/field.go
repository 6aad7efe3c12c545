package schema

import (
	"github.com/zeusync/replicate/internal/core/wire"
)

// FieldSpec is the wire-visible part of a field declaration.
type FieldSpec struct {
	Name string
	Type wire.Type
}

// Field binds one struct field of T to a wire type.
type Field[T any] struct {
	spec  FieldSpec
	write func(*T, *wire.Writer) error
	read  func(*T, *wire.Reader) error
}

func (f Field[T]) Spec() FieldSpec { return f.spec }

func Int8[T any](name string, ref func(*T) *int8) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Int8},
		write: func(v *T, w *wire.Writer) error { return w.Int8(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Int8(); return },
	}
}

func Uint8[T any](name string, ref func(*T) *uint8) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Uint8},
		write: func(v *T, w *wire.Writer) error { return w.Uint8(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Uint8(); return },
	}
}

func Int16[T any](name string, ref func(*T) *int16) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Int16},
		write: func(v *T, w *wire.Writer) error { return w.Int16(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Int16(); return },
	}
}

func Uint16[T any](name string, ref func(*T) *uint16) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Uint16},
		write: func(v *T, w *wire.Writer) error { return w.Uint16(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Uint16(); return },
	}
}

func Int32[T any](name string, ref func(*T) *int32) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Int32},
		write: func(v *T, w *wire.Writer) error { return w.Int32(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Int32(); return },
	}
}

func Uint32[T any](name string, ref func(*T) *uint32) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Uint32},
		write: func(v *T, w *wire.Writer) error { return w.Uint32(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Uint32(); return },
	}
}

func Float32[T any](name string, ref func(*T) *float32) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Float32},
		write: func(v *T, w *wire.Writer) error { return w.Float32(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Float32(); return },
	}
}

func Float64[T any](name string, ref func(*T) *float64) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.Float64},
		write: func(v *T, w *wire.Writer) error { return w.Float64(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.Float64(); return },
	}
}

func UTF8[T any](name string, ref func(*T) *string) Field[T] {
	return Field[T]{
		spec:  FieldSpec{Name: name, Type: wire.UTF8},
		write: func(v *T, w *wire.Writer) error { return w.UTF8(*ref(v)) },
		read:  func(v *T, r *wire.Reader) (err error) { *ref(v), err = r.UTF8(); return },
	}
}
