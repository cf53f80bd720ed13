// Package delta computes and applies incremental entity diffs keyed to
// monotonically increasing revision numbers. Snapshots and deltas only ever
// hold copies of entity records, so everything here is safe to hand to
// encoders and sockets while the owning session keeps mutating its state.
package delta

import (
	"slices"
	"strings"

	"github.com/cory-johannsen/crawld/internal/game"
)

// Snapshot is the full set of canonical entity records at one revision.
type Snapshot struct {
	Revision uint64                 `json:"revision"`
	Entities map[string]game.Entity `json:"entities"`
}

// Capture builds a snapshot of st at the given revision.
//
// Postcondition: The snapshot shares no memory with st's entities.
func Capture(st game.State, revision uint64) Snapshot {
	snap := Snapshot{
		Revision: revision,
		Entities: make(map[string]game.Entity),
	}
	for _, e := range st.Entities() {
		snap.Entities[e.ID] = e.Clone()
	}
	return snap
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{
		Revision: s.Revision,
		Entities: make(map[string]game.Entity, len(s.Entities)),
	}
	for id, e := range s.Entities {
		c.Entities[id] = e.Clone()
	}
	return c
}

// Sorted returns the snapshot's entities ordered by id, for stable wire
// payloads.
func (s Snapshot) Sorted() []game.Entity {
	out := make([]game.Entity, 0, len(s.Entities))
	for _, e := range s.Entities {
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b game.Entity) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Equal reports whether two snapshots agree on revision and every entity.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Revision != o.Revision || len(s.Entities) != len(o.Entities) {
		return false
	}
	for id, e := range s.Entities {
		oe, ok := o.Entities[id]
		if !ok || !e.Equal(oe) {
			return false
		}
	}
	return true
}
