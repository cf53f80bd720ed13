package session

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/game"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// ActionTypePass is the reserved action type that forfeits the rest of the
// sender's round. It is handled by the session itself, costs no budget, and
// never reaches the action codec.
const ActionTypePass = "pass"

// RoundState is the shared action economy of the current round.
type RoundState struct {
	Number       int
	ActionsTaken int
	Budget       int
}

// Spend consumes one action from the budget.
func (r *RoundState) Spend() { r.ActionsTaken++ }

// Exhausted reports whether the round's budget is spent.
func (r RoundState) Exhausted() bool { return r.ActionsTaken >= r.Budget }

// Complete advances to the next round and resets the counter.
func (r *RoundState) Complete() {
	r.Number++
	r.ActionsTaken = 0
}

// ActionRecord is one accepted action in the current round's log.
type ActionRecord struct {
	Seq        uint64
	PlayerID   string
	ActionType string
	ReceivedAt time.Time
	Events     []string
}

// SubmitAction runs one action through the serialized validate-then-execute
// pipeline. On success the resulting delta is broadcast to the whole session
// and nil is returned; on rejection the state is untouched and the error is
// for the originator alone.
func (g *GameSession) SubmitAction(p *player.Session, req protocol.ActionRequest, requestID string) error {
	return g.ask(func() error { return g.handleAction(p, req, requestID) })
}

func (g *GameSession) handleAction(p *player.Session, req protocol.ActionRequest, requestID string) error {
	m, ok := g.memberOf(p)
	if !ok || m.departed {
		return ErrNotInSession
	}
	if g.status != StatusActive {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, g.status)
	}
	if !p.Connected() {
		return ErrNotConnected
	}
	ent, ok := g.state.Player(p.PlayerID)
	if !ok || !ent.Alive() {
		return ErrDeadActor
	}
	if req.ActionType == ActionTypePass {
		return g.handlePass(m, p, requestID)
	}
	if g.round.Exhausted() {
		// Unreachable while round completion stays eager; kept as a guard
		// on the budget invariant.
		return ErrBudgetExhausted
	}

	action, err := g.codec.Decode(req.ActionType, req.Params)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownAction) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	ctx := game.Context{State: g.state, ActorID: p.PlayerID, Round: g.round.Number}
	if err := action.Validate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	outcome, err := g.applyAction(ctx, action)
	if err != nil {
		// A panic path has already ended the run; everyone gets the final
		// snapshot while the originator gets the error.
		g.finalizeIfEnded()
		return err
	}

	m.passed = false
	g.seq++
	g.roundLog = append(g.roundLog, ActionRecord{
		Seq:        g.seq,
		PlayerID:   p.PlayerID,
		ActionType: req.ActionType,
		ReceivedAt: g.deps.Clock(),
		Events:     outcome.Events,
	})
	g.round.Spend()

	events := outcome.Events
	if over, result := g.state.GameOver(); over {
		g.markEnded(result, "")
		g.advanceAndBroadcast(p, requestID, events)
		g.finalizeIfEnded()
		return nil
	}
	if g.round.Exhausted() || g.allConnectedPassed() {
		g.completeAndBroadcast(p, requestID, events)
		return nil
	}
	g.advanceAndBroadcast(p, requestID, events)
	return nil
}

// handlePass records the forfeit. The reply is a delta like any accepted
// action's, carrying the environment turn when this pass completes the
// round.
func (g *GameSession) handlePass(m *member, p *player.Session, requestID string) error {
	m.passed = true
	events := []string{p.DisplayName + " passes"}
	if g.allConnectedPassed() {
		g.completeAndBroadcast(p, requestID, events)
		return nil
	}
	g.advanceAndBroadcast(p, requestID, events)
	return nil
}

// applyAction runs a validated action's Execute step under a recover. A
// panic inside game logic means the shared state can no longer be trusted,
// so the run ends for everyone instead of letting clients diverge from a
// half-applied mutation.
func (g *GameSession) applyAction(ctx game.Context, a game.Action) (outcome game.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("panic applying action",
				zap.String("player_id", ctx.ActorID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			g.markEnded("aborted", "session state corrupted, ending the run")
			outcome = game.Outcome{}
			err = fmt.Errorf("%w: internal failure applying action", ErrInvalidAction)
		}
	}()
	outcome, err = g.state.Apply(ctx, a)
	if err != nil {
		return game.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return outcome, nil
}

// allConnectedPassed reports whether every member who could still act this
// round has passed. Disconnected, departed, and dead members do not gate
// round completion; the round must not wait on a player who cannot move it.
func (g *GameSession) allConnectedPassed() bool {
	eligible := 0
	for id, m := range g.members {
		if !m.player.Connected() || m.departed {
			continue
		}
		if ent, ok := g.state.Player(id); !ok || !ent.Alive() {
			continue
		}
		eligible++
		if !m.passed {
			return false
		}
	}
	return eligible > 0
}

// completeRound runs the end-of-round sequence: expired disconnect
// deadlines are swept first so roster changes land before the environment
// acts, then the environment takes exactly one turn, and the counters
// advance. Returns the environment's event lines.
func (g *GameSession) completeRound() []string {
	g.sweepExpired()
	if g.status != StatusActive {
		return nil
	}
	var events []string
	if outcome, err := g.runEnvironment(); err == nil {
		events = outcome.Events
	}
	actions := len(g.roundLog)
	g.round.Complete()
	for _, m := range g.members {
		m.passed = false
	}
	g.roundLog = g.roundLog[:0]
	g.logger.Debug("round complete",
		zap.Int("round", g.round.Number),
		zap.Int("actions_last_round", actions),
	)
	return events
}

// runEnvironment gives the turn system its one turn per round. Errors are
// logged and the round advances anyway: the server's state remains the
// authority and the next delta carries whatever did change. Panics end the
// run the same way an action panic does.
func (g *GameSession) runEnvironment() (outcome game.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("panic in environment turn",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			g.markEnded("aborted", "session state corrupted, ending the run")
			outcome = game.Outcome{}
			err = errors.New("environment turn panicked")
		}
	}()
	outcome, err = g.turns.ProcessRound(game.Context{State: g.state, Round: g.round.Number})
	if err != nil {
		g.logger.Error("environment turn failed", zap.Error(err))
	}
	return outcome, err
}

// completeAndBroadcast finishes the round and sends the combined delta for
// the triggering action plus the environment turn as one revision.
func (g *GameSession) completeAndBroadcast(origin *player.Session, requestID string, events []string) {
	events = append(events, g.completeRound()...)
	if g.status == StatusActive {
		if over, result := g.state.GameOver(); over {
			g.markEnded(result, "")
		}
	}
	g.advanceAndBroadcast(origin, requestID, events)
	g.finalizeIfEnded()
}

// markEnded freezes the session with a result. The end-sequence broadcast
// is deferred to finalizeIfEnded so an in-flight action's delta lands
// before the final snapshot.
func (g *GameSession) markEnded(result, notice string) {
	if g.status == StatusEnded {
		return
	}
	g.status = StatusEnded
	g.result = result
	g.endedAt = g.deps.Clock()
	if notice != "" {
		g.systemBroadcast("session_aborted", notice)
	}
}

// finalizeIfEnded broadcasts the end of the run exactly once: GAME_END
// followed by a final full snapshot flagged game-over. The session then
// lingers until the grace sweep tears it down.
func (g *GameSession) finalizeIfEnded() {
	if g.status != StatusEnded || g.finalized {
		return
	}
	g.finalized = true
	g.broadcast(protocol.TypeGameEnd, protocol.GameEndPayload{
		SessionID: g.id,
		Result:    g.result,
		Rounds:    g.round.Number,
	})
	if g.state != nil {
		g.enc.Advance(g.state)
	}
	g.broadcast(protocol.TypeState, g.statePayload())
	g.logger.Info("game ended",
		zap.String("result", g.result),
		zap.Int("rounds", g.round.Number),
	)
}
