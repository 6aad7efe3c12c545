// Package demo is a small world of drifting labelled entities used by the
// replicator CLI.
package demo

import (
	"github.com/zeusync/replicate/internal/core/schema"
	"github.com/zeusync/replicate/internal/core/store"
)

const (
	KindPosition store.Kind = "position"
	KindVelocity store.Kind = "velocity"
	KindLabel    store.Kind = "label"
)

type Position struct{ X, Y float32 }

func (*Position) Kind() store.Kind { return KindPosition }

type Velocity struct{ DX, DY float32 }

func (*Velocity) Kind() store.Kind { return KindVelocity }

type Label struct{ Name string }

func (*Label) Kind() store.Kind { return KindLabel }

// Registry must be identical on both peers; the transports compare its
// fingerprint during the handshake.
func Registry() *schema.Registry {
	return schema.MustRegistry(
		schema.Define(
			schema.Float32("x", func(p *Position) *float32 { return &p.X }),
			schema.Float32("y", func(p *Position) *float32 { return &p.Y }),
		),
		schema.Define(
			schema.Float32("dx", func(v *Velocity) *float32 { return &v.DX }),
			schema.Float32("dy", func(v *Velocity) *float32 { return &v.DY }),
		),
		schema.Define(
			schema.UTF8("name", func(l *Label) *string { return &l.Name }),
		),
	)
}

// Moving selects entities the world drifts and the server replicates.
var Moving = store.Selection{With: []store.Kind{KindPosition, KindVelocity}}
