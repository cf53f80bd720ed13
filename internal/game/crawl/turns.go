package crawl

import (
	"fmt"
	"math/rand"

	"github.com/cory-johannsen/crawld/internal/game"
)

// MonsterTurns is the environment half of a round. Each monster acts once,
// in id order: strike an adjacent player, otherwise take one step toward
// the nearest one. The rng only feeds idle wandering, so a seed fully
// determines the turn given the same state.
type MonsterTurns struct {
	floor *game.Floor
	rng   *rand.Rand
}

// NewMonsterTurns builds the turn system for a generated floor.
func NewMonsterTurns(floor *game.Floor, seed int64) *MonsterTurns {
	return &MonsterTurns{
		floor: floor,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// ProcessRound advances every monster by one action.
func (mt *MonsterTurns) ProcessRound(ctx game.Context) (game.Outcome, error) {
	w, ok := ctx.State.(*World)
	if !ok {
		return game.Outcome{}, fmt.Errorf("monster turns need the crawl world, got %T", ctx.State)
	}

	var events []string
	moved := false
	for _, id := range w.monsterIDs() {
		m, ok := w.entities[id]
		if !ok || !m.Alive() {
			continue
		}
		if target := mt.adjacentTarget(w, m); target != nil {
			events = append(events, mt.strike(w, m, target)...)
			continue
		}
		if mt.advance(w, m) {
			moved = true
		}
	}

	if len(events) == 0 && !moved {
		events = []string{"the dungeon is quiet"}
	}
	return game.Outcome{Events: events}, nil
}

// adjacentTarget picks the player this monster strikes: the weakest living
// player in reach, ties broken by id.
func (mt *MonsterTurns) adjacentTarget(w *World, m *game.Entity) *game.Entity {
	var target *game.Entity
	for _, p := range w.livingPlayers() {
		if chebyshev(m.Position, p.Position) != 1 {
			continue
		}
		if target == nil || p.HP < target.HP {
			target = p
		}
	}
	return target
}

// strike lands one hit and reports it.
func (mt *MonsterTurns) strike(w *World, m, target *game.Entity) []string {
	dmg := w.monsterDamage[m.ID]
	target.HP = max(0, target.HP-dmg)
	events := []string{fmt.Sprintf("the %s hits %s for %d damage", m.Name, target.Name, dmg)}
	if !target.Alive() {
		events = append(events, fmt.Sprintf("%s falls", target.Name))
	}
	return events
}

// advance moves the monster one step toward the nearest living player, or
// wanders when nobody is left to hunt. A fully blocked monster stays put.
func (mt *MonsterTurns) advance(w *World, m *game.Entity) bool {
	prey := mt.nearestPlayer(w, m)
	if prey == nil {
		return mt.wander(w, m)
	}

	sx := sign(prey.Position.X - m.Position.X)
	sy := sign(prey.Position.Y - m.Position.Y)
	for _, step := range [...]game.Coord{{X: sx, Y: sy}, {X: sx}, {Y: sy}} {
		if step.X == 0 && step.Y == 0 {
			continue
		}
		c := game.Coord{X: m.Position.X + step.X, Y: m.Position.Y + step.Y}
		if mt.open(w, c) {
			m.Position = c
			return true
		}
	}
	return false
}

// nearestPlayer returns the closest living player, ties broken by id.
func (mt *MonsterTurns) nearestPlayer(w *World, m *game.Entity) *game.Entity {
	var prey *game.Entity
	best := 0
	for _, p := range w.livingPlayers() {
		d := chebyshev(m.Position, p.Position)
		if prey == nil || d < best {
			prey, best = p, d
		}
	}
	return prey
}

// wander tries one random step.
func (mt *MonsterTurns) wander(w *World, m *game.Entity) bool {
	dirs := [...]game.Coord{
		{X: 1}, {X: -1}, {Y: 1}, {Y: -1},
		{X: 1, Y: 1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: -1, Y: -1},
	}
	step := dirs[mt.rng.Intn(len(dirs))]
	c := game.Coord{X: m.Position.X + step.X, Y: m.Position.Y + step.Y}
	if !mt.open(w, c) {
		return false
	}
	m.Position = c
	return true
}

func (mt *MonsterTurns) open(w *World, c game.Coord) bool {
	if !mt.floor.Walkable(c) {
		return false
	}
	_, blocked := w.blockingAt(c)
	return !blocked
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
