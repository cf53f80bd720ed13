package delta

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cory-johannsen/crawld/internal/game"
)

// ErrStaleBase reports a delta applied against a snapshot whose revision does
// not match the delta's base. The only recovery is a full snapshot.
var ErrStaleBase = errors.New("delta base revision does not match snapshot")

// Fields carries the canonical entity fields a change may set. Nil members
// are unchanged.
type Fields struct {
	Kind      *game.Kind  `json:"kind,omitempty"`
	Name      *string     `json:"name,omitempty"`
	Position  *game.Coord `json:"position,omitempty"`
	HP        *int        `json:"hp,omitempty"`
	MaxHP     *int        `json:"max_hp,omitempty"`
	Inventory *[]string   `json:"inventory,omitempty"`
}

// Change is one entity's difference between two revisions: changed fields,
// a removal, or the full record when the entity is new.
type Change struct {
	ID      string  `json:"id"`
	Removed bool    `json:"removed,omitempty"`
	Fields  *Fields `json:"fields,omitempty"`
}

// Delta carries every entity change between two consecutive revisions.
type Delta struct {
	BaseRevision uint64   `json:"base_revision"`
	NewRevision  uint64   `json:"new_revision"`
	Changes      []Change `json:"changes"`
}

// Empty reports whether the delta carries no entity changes.
func (d Delta) Empty() bool {
	return len(d.Changes) == 0
}

// Compute diffs two snapshots entity by entity. Changes are ordered by
// entity id so identical transitions always encode identically.
func Compute(old, next Snapshot) Delta {
	d := Delta{
		BaseRevision: old.Revision,
		NewRevision:  next.Revision,
	}

	ids := make([]string, 0, len(old.Entities)+len(next.Entities))
	for id := range next.Entities {
		ids = append(ids, id)
	}
	for id := range old.Entities {
		if _, ok := next.Entities[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		ne, inNext := next.Entities[id]
		oe, inOld := old.Entities[id]
		switch {
		case !inNext:
			d.Changes = append(d.Changes, Change{ID: id, Removed: true})
		case !inOld:
			d.Changes = append(d.Changes, Change{ID: id, Fields: fullFields(ne)})
		default:
			if f := diffFields(oe, ne); f != nil {
				d.Changes = append(d.Changes, Change{ID: id, Fields: f})
			}
		}
	}
	return d
}

// Apply replays a delta onto a snapshot, producing the next snapshot.
//
// Precondition: snap.Revision must equal d.BaseRevision.
// Postcondition: Returns a snapshot at d.NewRevision sharing no memory with
// snap, or ErrStaleBase if the precondition fails.
func Apply(snap Snapshot, d Delta) (Snapshot, error) {
	if snap.Revision != d.BaseRevision {
		return Snapshot{}, fmt.Errorf("%w: snapshot at %d, delta base %d",
			ErrStaleBase, snap.Revision, d.BaseRevision)
	}

	next := snap.Clone()
	next.Revision = d.NewRevision
	for _, ch := range d.Changes {
		if ch.Removed {
			delete(next.Entities, ch.ID)
			continue
		}
		e := next.Entities[ch.ID]
		e.ID = ch.ID
		applyFields(&e, ch.Fields)
		next.Entities[ch.ID] = e
	}
	return next, nil
}

// cloneInventory never returns nil: a nil slice would encode as JSON null
// and an inventory-clearing change would be lost on decode.
func cloneInventory(inv []string) []string {
	if len(inv) == 0 {
		return []string{}
	}
	return slices.Clone(inv)
}

func fullFields(e game.Entity) *Fields {
	kind := e.Kind
	name := e.Name
	pos := e.Position
	hp := e.HP
	maxHP := e.MaxHP
	inv := cloneInventory(e.Inventory)
	return &Fields{
		Kind:      &kind,
		Name:      &name,
		Position:  &pos,
		HP:        &hp,
		MaxHP:     &maxHP,
		Inventory: &inv,
	}
}

func diffFields(old, next game.Entity) *Fields {
	var f Fields
	changed := false
	if next.Kind != old.Kind {
		kind := next.Kind
		f.Kind = &kind
		changed = true
	}
	if next.Name != old.Name {
		name := next.Name
		f.Name = &name
		changed = true
	}
	if next.Position != old.Position {
		pos := next.Position
		f.Position = &pos
		changed = true
	}
	if next.HP != old.HP {
		hp := next.HP
		f.HP = &hp
		changed = true
	}
	if next.MaxHP != old.MaxHP {
		maxHP := next.MaxHP
		f.MaxHP = &maxHP
		changed = true
	}
	if !slices.Equal(next.Inventory, old.Inventory) {
		inv := cloneInventory(next.Inventory)
		f.Inventory = &inv
		changed = true
	}
	if !changed {
		return nil
	}
	return &f
}

func applyFields(e *game.Entity, f *Fields) {
	if f == nil {
		return
	}
	if f.Kind != nil {
		e.Kind = *f.Kind
	}
	if f.Name != nil {
		e.Name = *f.Name
	}
	if f.Position != nil {
		e.Position = *f.Position
	}
	if f.HP != nil {
		e.HP = *f.HP
	}
	if f.MaxHP != nil {
		e.MaxHP = *f.MaxHP
	}
	if f.Inventory != nil {
		e.Inventory = slices.Clone(*f.Inventory)
	}
}
