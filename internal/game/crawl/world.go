package crawl

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"

	"github.com/cory-johannsen/crawld/internal/game"
)

// World is the authoritative state of one run: every entity on the floor
// and the theme stats behind them. It is only ever touched from the owning
// session's goroutine.
type World struct {
	floor *game.Floor
	theme *Theme

	entities      map[string]*game.Entity
	monsterDamage map[string]int // monster entity id -> strike damage
	itemHeals     map[string]int // item name -> hp restored on use
	seq           int            // id counter shared by placed and dropped entities
}

// NewWorld seeds a floor with the theme's roster. Monster and item cells
// come from the seed, so a given floor and seed always produce the same
// population.
func NewWorld(floor *game.Floor, seed int64, theme *Theme) (*World, error) {
	w := &World{
		floor:         floor,
		theme:         theme,
		entities:      make(map[string]*game.Entity),
		monsterDamage: make(map[string]int),
		itemHeals:     make(map[string]int, len(theme.Items)),
	}
	for _, spec := range theme.Items {
		w.itemHeals[spec.Name] = spec.Heal
	}

	open := floor.OpenCells()
	need := theme.placements()
	if len(open) < need+spawnReserve {
		return nil, fmt.Errorf("floor %q: %d open cells cannot hold a roster of %d", floor.Name, len(open), need)
	}

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(len(open))
	next := 0
	takeCell := func() game.Coord {
		c := open[order[next]]
		next++
		return c
	}

	for _, spec := range theme.Monsters {
		for i := 0; i < spec.Count; i++ {
			id := w.nextID(spec.Name)
			w.entities[id] = &game.Entity{
				ID:       id,
				Kind:     game.KindMonster,
				Name:     spec.Name,
				Position: takeCell(),
				HP:       spec.MaxHP,
				MaxHP:    spec.MaxHP,
			}
			w.monsterDamage[id] = spec.Damage
		}
	}
	for _, spec := range theme.Items {
		for i := 0; i < spec.Count; i++ {
			id := w.nextID(spec.Name)
			w.entities[id] = &game.Entity{
				ID:       id,
				Kind:     game.KindItem,
				Name:     spec.Name,
				Position: takeCell(),
			}
		}
	}
	return w, nil
}

// SpawnPlayer places a new player entity at pos, or at the closest free
// walkable cell when pos is taken. Items lying on the landing cell go
// straight into the new arrival's pack.
func (w *World) SpawnPlayer(id, name string, pos game.Coord) error {
	if _, exists := w.entities[id]; exists {
		return fmt.Errorf("player %q is already on the floor", id)
	}
	cell, ok := w.nearestFree(pos)
	if !ok {
		return fmt.Errorf("no free cell near (%d, %d) for %s", pos.X, pos.Y, name)
	}
	e := &game.Entity{
		ID:       id,
		Kind:     game.KindPlayer,
		Name:     name,
		Position: cell,
		HP:       w.theme.PlayerHP,
		MaxHP:    w.theme.PlayerHP,
	}
	w.entities[id] = e
	w.collectItems(e)
	return nil
}

// RemovePlayer takes a player off the floor, dropping everything it carried
// where it stood.
func (w *World) RemovePlayer(id string) error {
	e, ok := w.entities[id]
	if !ok || e.Kind != game.KindPlayer {
		return fmt.Errorf("player %q is not on the floor", id)
	}
	for _, name := range e.Inventory {
		itemID := w.nextID(name)
		w.entities[itemID] = &game.Entity{
			ID:       itemID,
			Kind:     game.KindItem,
			Name:     name,
			Position: e.Position,
		}
	}
	delete(w.entities, id)
	return nil
}

// Player returns a copy of the entity for the given player id.
func (w *World) Player(id string) (game.Entity, bool) {
	e, ok := w.entities[id]
	if !ok || e.Kind != game.KindPlayer {
		return game.Entity{}, false
	}
	return e.Clone(), true
}

// Entities returns copies of every entity on the floor, sorted by id.
func (w *World) Entities() []game.Entity {
	ids := make([]string, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]game.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.entities[id].Clone())
	}
	return out
}

// Apply runs a previously validated action.
func (w *World) Apply(ctx game.Context, a game.Action) (game.Outcome, error) {
	return a.Execute(ctx)
}

// GameOver reports victory once no monster is left standing, or defeat once
// the whole party is down. Fallen players stay on the floor, so an emptied
// roster alone never ends the run from here.
func (w *World) GameOver() (bool, string) {
	monstersStanding := false
	partySeen := false
	partyStanding := false
	for _, e := range w.entities {
		switch e.Kind {
		case game.KindMonster:
			if e.Alive() {
				monstersStanding = true
			}
		case game.KindPlayer:
			partySeen = true
			if e.Alive() {
				partyStanding = true
			}
		}
	}
	if !monstersStanding {
		return true, game.ResultVictory
	}
	if partySeen && !partyStanding {
		return true, game.ResultDefeat
	}
	return false, ""
}

func (w *World) nextID(name string) string {
	w.seq++
	return fmt.Sprintf("%s-%d", slugify(name), w.seq)
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// blockingAt returns the living entity standing on c, if any. Items and
// fallen players do not block movement.
func (w *World) blockingAt(c game.Coord) (*game.Entity, bool) {
	for _, e := range w.entities {
		if e.Kind != game.KindItem && e.Alive() && e.Position == c {
			return e, true
		}
	}
	return nil, false
}

// itemsAt returns the items lying on c, sorted by id.
func (w *World) itemsAt(c game.Coord) []*game.Entity {
	var items []*game.Entity
	for _, e := range w.entities {
		if e.Kind == game.KindItem && e.Position == c {
			items = append(items, e)
		}
	}
	slices.SortFunc(items, func(a, b *game.Entity) int { return strings.Compare(a.ID, b.ID) })
	return items
}

// collectItems moves every item on the entity's cell into its pack and
// reports one line per pickup.
func (w *World) collectItems(e *game.Entity) []string {
	var events []string
	for _, item := range w.itemsAt(e.Position) {
		e.Inventory = append(e.Inventory, item.Name)
		delete(w.entities, item.ID)
		events = append(events, fmt.Sprintf("%s picks up the %s", e.Name, item.Name))
	}
	return events
}

// nearestFree returns pos when it is walkable and unoccupied, otherwise the
// closest cell that is, searching outward ring by ring.
func (w *World) nearestFree(pos game.Coord) (game.Coord, bool) {
	free := func(c game.Coord) bool {
		if !w.floor.Walkable(c) {
			return false
		}
		_, blocked := w.blockingAt(c)
		return !blocked
	}
	if free(pos) {
		return pos, true
	}
	maxR := max(w.floor.Width, w.floor.Height)
	for r := 1; r <= maxR; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				c := game.Coord{X: pos.X + dx, Y: pos.Y + dy}
				if free(c) {
					return c, true
				}
			}
		}
	}
	return game.Coord{}, false
}

// monsterIDs returns every monster entity id, sorted.
func (w *World) monsterIDs() []string {
	var ids []string
	for id, e := range w.entities {
		if e.Kind == game.KindMonster {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// livingPlayers returns the players still standing, sorted by id.
func (w *World) livingPlayers() []*game.Entity {
	var players []*game.Entity
	for _, e := range w.entities {
		if e.Kind == game.KindPlayer && e.Alive() {
			players = append(players, e)
		}
	}
	slices.SortFunc(players, func(a, b *game.Entity) int { return strings.Compare(a.ID, b.ID) })
	return players
}

// chebyshev is the board distance where a diagonal step counts as one.
func chebyshev(a, b game.Coord) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
