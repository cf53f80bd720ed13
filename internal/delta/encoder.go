package delta

import "github.com/cory-johannsen/crawld/internal/game"

// Encoder tracks one session's last-broadcast snapshot and hands out the
// delta to the next one. Revisions increment by exactly one per advance, so
// every broadcast a session emits is numbered consecutively.
//
// Invariant: the encoder is owned by its session's goroutine and is not safe
// for concurrent use.
type Encoder struct {
	last Snapshot
}

// NewEncoder creates an encoder with an empty revision-zero baseline.
func NewEncoder() *Encoder {
	return &Encoder{
		last: Snapshot{Revision: 0, Entities: make(map[string]game.Entity)},
	}
}

// Rebase captures st as a fresh full baseline at the next revision and
// returns it. Used when a session starts and whenever a full snapshot is
// about to be broadcast as the new reference point.
func (e *Encoder) Rebase(st game.State) Snapshot {
	e.last = Capture(st, e.last.Revision+1)
	return e.last.Clone()
}

// Advance captures the current state, computes the delta from the last
// broadcast, and makes the new capture the baseline. The delta may be empty;
// the revision advances regardless, one number per broadcast.
func (e *Encoder) Advance(st game.State) (Delta, Snapshot) {
	next := Capture(st, e.last.Revision+1)
	d := Compute(e.last, next)
	e.last = next
	return d, next.Clone()
}

// Current returns the last-broadcast snapshot, for reconnect and resync
// sends that must not advance the revision.
func (e *Encoder) Current() Snapshot {
	return e.last.Clone()
}

// Revision returns the revision of the last-broadcast snapshot.
func (e *Encoder) Revision() uint64 {
	return e.last.Revision
}
