package demo

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/store"
)

// Bounds is an axis-aligned rectangle.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float32
}

func (b Bounds) Contains(p Position) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// DefaultBounds is the arena the demo world lives in.
var DefaultBounds = Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

// World spawns and drifts entities inside Bounds.
type World struct {
	store  store.Store
	bounds Bounds
	rng    *rand.Rand
	query  store.Query
}

func NewWorld(st store.Store, bounds Bounds, seed uint64) *World {
	return &World{
		store:  st,
		bounds: bounds,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		query:  st.Watch(Moving),
	}
}

// Spawn creates n labelled entities at random positions and velocities.
func (w *World) Spawn(n int) ([]store.EntityID, error) {
	ids := make([]store.EntityID, 0, n)
	for i := 0; i < n; i++ {
		e := w.store.CreateEntity()
		records := []store.Record{
			&Position{
				X: w.bounds.MinX + w.rng.Float32()*(w.bounds.MaxX-w.bounds.MinX),
				Y: w.bounds.MinY + w.rng.Float32()*(w.bounds.MaxY-w.bounds.MinY),
			},
			&Velocity{DX: w.rng.Float32()*20 - 10, DY: w.rng.Float32()*20 - 10},
			&Label{Name: fmt.Sprintf("drifter-%d", i+1)},
		}
		for _, rec := range records {
			if err := w.store.Attach(e, rec); err != nil {
				return nil, errors.Wrapf(err, "spawn entity %d", e)
			}
		}
		ids = append(ids, e)
	}
	return ids, nil
}

// Step advances every moving entity by dt, bouncing off the bounds.
func (w *World) Step(dt time.Duration) error {
	w.query.Drain()
	secs := float32(dt.Seconds())

	for _, e := range w.query.Results() {
		rec, ok := w.store.Get(e, KindVelocity)
		if !ok {
			continue
		}
		v := *rec.(*Velocity)
		next := v
		err := w.store.Mutate(e, KindPosition, func(r store.Record) {
			p := r.(*Position)
			p.X, next.DX = bounce(p.X+v.DX*secs, v.DX, w.bounds.MinX, w.bounds.MaxX)
			p.Y, next.DY = bounce(p.Y+v.DY*secs, v.DY, w.bounds.MinY, w.bounds.MaxY)
		})
		if err == nil && next != v {
			err = w.store.Mutate(e, KindVelocity, func(r store.Record) { *r.(*Velocity) = next })
		}
		if err != nil {
			return errors.Wrapf(err, "step entity %d", e)
		}
	}
	return nil
}

func (w *World) Close() { w.query.Close() }

func bounce(x, v, lo, hi float32) (float32, float32) {
	switch {
	case x < lo:
		return lo + (lo - x), -v
	case x > hi:
		return hi - (x - hi), -v
	default:
		return x, v
	}
}
