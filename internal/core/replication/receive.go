package replication

import (
	"fmt"
	"time"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/wire"
)

type namedValidator struct {
	name string
	v    Validator
}

// receiver stages inbound updates, validates them and merges the valid ones.
type receiver struct {
	store   store.Store
	wires   *WireManager
	logger  log.Log
	metrics *metrics.Metrics

	stage *Stage
	// pending holds the entries of the packet being decoded.
	pending    []*StagedUpdate
	validators []namedValidator
	replicas   map[store.EntityID]*Replica
	index      map[stageKey]store.EntityID
}

func newReceiver(st store.Store, wires *WireManager, logger log.Log, m *metrics.Metrics) *receiver {
	return &receiver{
		store:    st,
		wires:    wires,
		logger:   logger,
		metrics:  m,
		stage:    newStage(),
		replicas: make(map[store.EntityID]*Replica),
		index:    make(map[stageKey]store.EntityID),
	}
}

// collect drains h into the stage. It reports whether the channel closed.
// A packet's entries reach the stage only once the whole packet decoded.
func (r *receiver) collect(h *Host, now time.Time, nowMs uint32) bool {
	handle := func(sentAt uint32, wireID uint32, rd *wire.Reader) error {
		records, err := r.wires.ReadRecords(rd)
		if err != nil {
			return err
		}
		// Age of the packet on the local clock, wrap-safe like the delta sample.
		age := float64(int32(nowMs-sentAt)) - h.timeDelta
		u := &StagedUpdate{
			Source:     h.conn,
			WireID:     wireID,
			SentAt:     now.Add(-time.Duration(age * float64(time.Millisecond))),
			ReceivedAt: now,
			records:    records,
		}
		if e, ok := r.index[stageKey{conn: h.conn.id, wireID: wireID}]; ok {
			u.replica = r.replicas[e]
		}
		r.pending = append(r.pending, u)
		return nil
	}
	done := func(ok bool) {
		if ok {
			for _, u := range r.pending {
				r.stage.put(u)
			}
		}
		clear(r.pending)
		r.pending = r.pending[:0]
	}
	return h.receive(nowMs, handle, done)
}

func (r *receiver) validate() {
	if r.stage.Len() == 0 {
		return
	}
	for _, nv := range r.validators {
		r.runValidator(nv)
	}
}

func (r *receiver) runValidator(nv namedValidator) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Validator panicked",
				log.String("validator", nv.name),
				log.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	nv.v.Validate(r.stage)
}

// promote merges valid updates into the live store and empties the stage.
func (r *receiver) promote() {
	defer r.stage.clear()

	for _, u := range r.stage.updates {
		if !u.valid {
			r.metrics.StagedUpdates.WithLabelValues(metrics.OutcomeRejected).Inc()
			continue
		}
		r.metrics.StagedUpdates.WithLabelValues(metrics.OutcomeValid).Inc()
		if err := r.merge(u); err != nil {
			r.logger.Warn("Failed to merge replica update",
				log.String("connection", string(u.Source.id)),
				log.Uint32("wire_id", u.WireID),
				log.Error(err),
			)
		}
	}
}

func (r *receiver) merge(u *StagedUpdate) error {
	key := stageKey{conn: u.Source.id, wireID: u.WireID}
	e, known := r.index[key]
	if known && !r.store.Alive(e) {
		r.forget(key, e)
		known = false
	}

	if u.Deleted() {
		if !known {
			return nil
		}
		r.forget(key, e)
		return r.store.DestroyEntity(e)
	}

	var rep *Replica
	if known {
		rep = r.replicas[e]
	} else {
		e = r.store.CreateEntity()
		rep = &Replica{entity: e, source: u.Source, sourceWireID: u.WireID}
		r.replicas[e] = rep
		r.index[key] = e
	}

	kinds := make([]store.Kind, 0, len(u.records))
	for _, rec := range u.records {
		if err := r.store.Attach(e, rec); err != nil {
			return err
		}
		kinds = append(kinds, rec.Kind())
	}
	for _, k := range rep.kinds {
		if _, still := u.Record(k); !still && r.store.Has(e, k) {
			if err := r.store.Detach(e, k); err != nil {
				return err
			}
		}
	}
	rep.kinds = kinds
	rep.lastUpdateTime = u.SentAt
	rep.lastUpdateReceivedTime = u.ReceivedAt
	rep.lastUpdatingConnection = u.Source
	return nil
}

func (r *receiver) forget(key stageKey, e store.EntityID) {
	delete(r.index, key)
	delete(r.replicas, e)
}

// forgetSource drops the wire id index of a removed connection. Its replica
// entities stay in the store.
func (r *receiver) forgetSource(c *Connection) {
	for key := range r.index {
		if key.conn == c.id {
			delete(r.index, key)
		}
	}
}

func (r *receiver) replica(e store.EntityID) (*Replica, bool) {
	rep, ok := r.replicas[e]
	return rep, ok
}
