package demo

import (
	"github.com/zeusync/replicate/internal/core/replication"
)

// BoundsValidator accepts updates whose position lies inside Bounds.
// Deletions and updates without a position are accepted as is.
type BoundsValidator struct {
	Bounds Bounds
}

func (v BoundsValidator) Validate(stage *replication.Stage) {
	for _, u := range stage.Updates() {
		rec, ok := u.Record(KindPosition)
		if ok && !v.Bounds.Contains(*rec.(*Position)) {
			continue
		}
		u.MarkValid()
	}
}
