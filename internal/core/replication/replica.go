package replication

import (
	"time"

	"github.com/zeusync/replicate/internal/core/store"
)

// Replica is the local copy of a remote original.
type Replica struct {
	entity       store.EntityID
	source       *Connection
	sourceWireID uint32

	lastUpdateTime         time.Time
	lastUpdateReceivedTime time.Time
	lastUpdatingConnection *Connection

	kinds []store.Kind
}

func (r *Replica) Entity() store.EntityID { return r.entity }

func (r *Replica) Source() *Connection { return r.source }

func (r *Replica) SourceWireID() uint32 { return r.sourceWireID }

// LastUpdateTime is when the sender produced the last accepted update, on
// the local clock.
func (r *Replica) LastUpdateTime() time.Time { return r.lastUpdateTime }

func (r *Replica) LastUpdateReceivedTime() time.Time { return r.lastUpdateReceivedTime }

func (r *Replica) LastUpdatingConnection() *Connection { return r.lastUpdatingConnection }

// Age is how long ago the last accepted update arrived.
func (r *Replica) Age(now time.Time) time.Duration {
	return now.Sub(r.lastUpdateReceivedTime)
}
