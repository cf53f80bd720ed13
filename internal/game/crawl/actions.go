package crawl

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/cory-johannsen/crawld/internal/game"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// Wire action types served by this package.
const (
	ActionMove   = "move"
	ActionAttack = "attack"
	ActionUse    = "use"
	ActionWait   = "wait"
)

// RegisterActions wires the crawl action factories into a codec.
//
// Precondition: none of the crawl action types are registered on c yet.
func RegisterActions(c *protocol.Codec) {
	c.MustRegister(ActionMove, func(params json.RawMessage) (game.Action, error) {
		var a MoveAction
		if err := unmarshalParams(params, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	c.MustRegister(ActionAttack, func(params json.RawMessage) (game.Action, error) {
		var a AttackAction
		if err := unmarshalParams(params, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	c.MustRegister(ActionUse, func(params json.RawMessage) (game.Action, error) {
		var a UseAction
		if err := unmarshalParams(params, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	c.MustRegister(ActionWait, func(params json.RawMessage) (game.Action, error) {
		return &WaitAction{}, nil
	})
}

// unmarshalParams decodes action params, treating absent params as the zero
// value.
func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}

// actingWorld resolves the crawl world and the living player entity behind
// an action context.
func actingWorld(ctx game.Context) (*World, *game.Entity, error) {
	w, ok := ctx.State.(*World)
	if !ok {
		return nil, nil, fmt.Errorf("crawl actions need the crawl world, got %T", ctx.State)
	}
	e, ok := w.entities[ctx.ActorID]
	if !ok || e.Kind != game.KindPlayer {
		return nil, nil, errors.New("actor is not on the floor")
	}
	if !e.Alive() {
		return nil, nil, errors.New("actor is down")
	}
	return w, e, nil
}

// MoveAction steps the actor one cell in any of the eight directions,
// collecting whatever lies on the destination.
type MoveAction struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (a *MoveAction) Validate(ctx game.Context) error {
	w, actor, err := actingWorld(ctx)
	if err != nil {
		return err
	}
	if a.DX < -1 || a.DX > 1 || a.DY < -1 || a.DY > 1 || (a.DX == 0 && a.DY == 0) {
		return errors.New("a move steps exactly one cell")
	}
	target := game.Coord{X: actor.Position.X + a.DX, Y: actor.Position.Y + a.DY}
	if !w.floor.InBounds(target) {
		return errors.New("the move would leave the floor")
	}
	if !w.floor.Walkable(target) {
		return errors.New("a wall is in the way")
	}
	if b, blocked := w.blockingAt(target); blocked {
		return fmt.Errorf("%s is in the way", b.Name)
	}
	return nil
}

func (a *MoveAction) Execute(ctx game.Context) (game.Outcome, error) {
	w, actor, err := actingWorld(ctx)
	if err != nil {
		return game.Outcome{}, err
	}
	actor.Position = game.Coord{X: actor.Position.X + a.DX, Y: actor.Position.Y + a.DY}
	return game.Outcome{Events: w.collectItems(actor)}, nil
}

// AttackAction strikes an adjacent monster for the actor's flat damage.
type AttackAction struct {
	TargetID string `json:"target_id"`
}

func (a *AttackAction) Validate(ctx game.Context) error {
	w, actor, err := actingWorld(ctx)
	if err != nil {
		return err
	}
	target, ok := w.entities[a.TargetID]
	if !ok || !target.Alive() {
		return errors.New("no such target")
	}
	if target.Kind != game.KindMonster {
		return errors.New("only monsters can be attacked")
	}
	if chebyshev(actor.Position, target.Position) != 1 {
		return fmt.Errorf("the %s is out of reach", target.Name)
	}
	return nil
}

func (a *AttackAction) Execute(ctx game.Context) (game.Outcome, error) {
	w, actor, err := actingWorld(ctx)
	if err != nil {
		return game.Outcome{}, err
	}
	target, ok := w.entities[a.TargetID]
	if !ok {
		return game.Outcome{}, errors.New("no such target")
	}

	dmg := w.theme.PlayerAttack
	target.HP = max(0, target.HP-dmg)
	events := []string{fmt.Sprintf("%s hits the %s for %d damage", actor.Name, target.Name, dmg)}
	if !target.Alive() {
		delete(w.entities, target.ID)
		delete(w.monsterDamage, target.ID)
		events = append(events, fmt.Sprintf("%s slays the %s", actor.Name, target.Name))
	}
	return game.Outcome{Events: events}, nil
}

// UseAction consumes one carried item by name.
type UseAction struct {
	Item string `json:"item"`
}

func (a *UseAction) Validate(ctx game.Context) error {
	_, actor, err := actingWorld(ctx)
	if err != nil {
		return err
	}
	if a.Item == "" {
		return errors.New("use needs an item name")
	}
	if !slices.Contains(actor.Inventory, a.Item) {
		return fmt.Errorf("not carrying %q", a.Item)
	}
	return nil
}

func (a *UseAction) Execute(ctx game.Context) (game.Outcome, error) {
	w, actor, err := actingWorld(ctx)
	if err != nil {
		return game.Outcome{}, err
	}
	i := slices.Index(actor.Inventory, a.Item)
	if i < 0 {
		return game.Outcome{}, fmt.Errorf("not carrying %q", a.Item)
	}
	actor.Inventory = slices.Delete(actor.Inventory, i, i+1)

	restored := min(w.itemHeals[a.Item], actor.MaxHP-actor.HP)
	if restored <= 0 {
		return game.Outcome{
			Events: []string{fmt.Sprintf("%s uses the %s but nothing happens", actor.Name, a.Item)},
		}, nil
	}
	actor.HP += restored
	return game.Outcome{
		Events: []string{fmt.Sprintf("%s uses the %s and recovers %d hp", actor.Name, a.Item, restored)},
	}, nil
}

// WaitAction holds position, spending a budget slot without moving.
type WaitAction struct{}

func (a *WaitAction) Validate(ctx game.Context) error {
	_, _, err := actingWorld(ctx)
	return err
}

func (a *WaitAction) Execute(ctx game.Context) (game.Outcome, error) {
	_, actor, err := actingWorld(ctx)
	if err != nil {
		return game.Outcome{}, err
	}
	return game.Outcome{Events: []string{fmt.Sprintf("%s holds position", actor.Name)}}, nil
}
