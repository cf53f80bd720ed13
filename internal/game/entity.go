package game

import "slices"

// Coord is a position on a floor grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Kind classifies an entity.
type Kind string

// Entity kinds.
const (
	KindPlayer  Kind = "player"
	KindMonster Kind = "monster"
	KindItem    Kind = "item"
)

// Entity is the canonical synchronized record for one thing on the floor.
// These fields, and only these fields, participate in delta diffing;
// anything transient or derived stays out of this struct.
type Entity struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"kind"`
	Name      string   `json:"name"`
	Position  Coord    `json:"position"`
	HP        int      `json:"hp"`
	MaxHP     int      `json:"max_hp"`
	Inventory []string `json:"inventory,omitempty"`
}

// Alive reports whether the entity has hit points remaining.
func (e Entity) Alive() bool {
	return e.HP > 0
}

// Clone returns a deep copy safe to hand outside the owning session.
func (e Entity) Clone() Entity {
	c := e
	c.Inventory = slices.Clone(e.Inventory)
	return c
}

// Equal reports whether two entities match on every canonical field.
func (e Entity) Equal(o Entity) bool {
	return e.ID == o.ID &&
		e.Kind == o.Kind &&
		e.Name == o.Name &&
		e.Position == o.Position &&
		e.HP == o.HP &&
		e.MaxHP == o.MaxHP &&
		slices.Equal(e.Inventory, o.Inventory)
}
