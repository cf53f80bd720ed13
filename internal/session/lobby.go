package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// Join adds a player to the lobby and answers them with a full snapshot.
// Joining is only possible before the game starts; a dropped member rejoins
// mid-game through Reconnect instead.
func (g *GameSession) Join(p *player.Session, requestID string) error {
	return g.ask(func() error { return g.handleJoin(p, requestID) })
}

func (g *GameSession) handleJoin(p *player.Session, requestID string) error {
	if _, ok := g.memberOf(p); ok {
		return ErrAlreadyInSession
	}
	if g.status != StatusLobby {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, g.status)
	}
	if len(g.members) >= g.cfg.MaxPlayers {
		return ErrSessionFull
	}
	g.members[p.PlayerID] = &member{player: p}
	g.order = append(g.order, p.PlayerID)
	p.SetGameID(g.id)
	g.emptySince = time.Time{}
	g.logger.Info("player joined", zap.String("player_id", p.PlayerID), zap.Int("members", len(g.members)))
	g.broadcastExcept(p.PlayerID, protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
		PlayerID: p.PlayerID,
		Name:     p.DisplayName,
	})
	g.sendState(p, requestID)
	return nil
}

// Leave removes the player from the lobby immediately. Mid-game it instead
// begins their disconnect countdown: the entity stays in the world and the
// slot can still be reclaimed through Reconnect until the deadline.
func (g *GameSession) Leave(p *player.Session, requestID string) error {
	return g.ask(func() error { return g.handleLeave(p, requestID) })
}

func (g *GameSession) handleLeave(p *player.Session, requestID string) error {
	m, ok := g.memberOf(p)
	if !ok || m.departed {
		return ErrNotInSession
	}
	switch g.status {
	case StatusLobby:
		g.sendTo(p, protocol.TypeSystem, protocol.SystemPayload{Event: "left_game"}, requestID)
		g.removeMember(m, "left")
		g.maybeStart()
	case StatusActive:
		m.departed = true
		m.deadline = g.deps.Clock().Add(g.cfg.DisconnectDeadline)
		g.sendTo(p, protocol.TypeSystem, protocol.SystemPayload{
			Event:   "left_game",
			Message: "your slot is held until the reconnect deadline",
		}, requestID)
		g.broadcastExcept(p.PlayerID, protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
			PlayerID: p.PlayerID,
			Name:     p.DisplayName,
			Reason:   "left",
		})
		g.logger.Info("player left mid-game", zap.String("player_id", p.PlayerID))
		if g.allConnectedPassed() {
			g.completeAndBroadcast(nil, "", nil)
		}
	case StatusEnded:
		g.sendTo(p, protocol.TypeSystem, protocol.SystemPayload{Event: "left_game"}, requestID)
		g.removeMember(m, "left")
	}
	return nil
}

// Ready sets the sender's lobby ready flag. The game starts the moment the
// non-empty roster is unanimous.
func (g *GameSession) Ready(p *player.Session, ready bool) error {
	return g.ask(func() error { return g.handleReady(p, ready) })
}

func (g *GameSession) handleReady(p *player.Session, ready bool) error {
	m, ok := g.memberOf(p)
	if !ok {
		return ErrNotInSession
	}
	if g.status != StatusLobby {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, g.status)
	}
	if m.ready == ready {
		return nil
	}
	m.ready = ready
	event := "player_ready"
	if !ready {
		event = "player_unready"
	}
	g.systemBroadcast(event, m.player.DisplayName)
	g.maybeStart()
	return nil
}

func (g *GameSession) maybeStart() {
	if g.status != StatusLobby || len(g.members) == 0 {
		return
	}
	for _, m := range g.members {
		if !m.ready {
			return
		}
	}
	g.startGame()
}

// startGame builds the world and moves the session to the active phase.
// Spawn positions are assigned in join order, one distinct cell each. After
// the transition every member receives GAME_START and then the initial full
// snapshot at revision one.
func (g *GameSession) startGame() {
	seed := g.deps.Seed()
	gen := g.deps.NewGenerator()
	floor, err := gen.Generate(seed)
	if err != nil {
		g.startFailed(err)
		return
	}
	spawns, err := gen.SpawnPositions(len(g.order))
	if err != nil {
		g.startFailed(err)
		return
	}
	st, err := g.deps.NewState(floor, seed)
	if err != nil {
		g.startFailed(err)
		return
	}
	for i, id := range g.order {
		if err := st.SpawnPlayer(id, g.members[id].player.DisplayName, spawns[i]); err != nil {
			g.startFailed(err)
			return
		}
	}

	g.state = st
	g.turns = g.deps.NewTurns(floor, seed)
	g.floor = floor
	g.seed = seed
	g.status = StatusActive
	g.round = RoundState{Number: 1, Budget: g.cfg.ActionsPerRound}
	g.enc.Rebase(g.state)
	g.logger.Info("game started",
		zap.Int64("seed", seed),
		zap.Int("players", len(g.order)),
	)
	g.broadcast(protocol.TypeGameStart, protocol.GameStartPayload{SessionID: g.id, Seed: seed})
	for _, id := range g.order {
		g.sendState(g.members[id].player, "")
	}
}

// startFailed keeps the lobby intact after a world-building failure. Ready
// flags reset so a retry has to be deliberate.
func (g *GameSession) startFailed(err error) {
	g.logger.Error("starting game", zap.Error(err))
	for _, m := range g.members {
		m.ready = false
	}
	g.systemBroadcast("start_failed", "could not generate the dungeon, ready up to retry")
}

// removeMember drops a roster slot for good: the identity is released, the
// entity (if any) leaves the world, and the departure is announced to the
// remaining members.
func (g *GameSession) removeMember(m *member, reason string) {
	id := m.player.PlayerID
	delete(g.members, id)
	g.removeFromOrder(id)
	m.player.ClearGame()
	if g.state != nil && g.status == StatusActive {
		if err := g.state.RemovePlayer(id); err != nil {
			g.logger.Warn("removing player entity", zap.String("player_id", id), zap.Error(err))
		}
	}
	g.broadcast(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
		PlayerID: id,
		Name:     m.player.DisplayName,
		Reason:   reason,
	})
	g.logger.Info("player removed",
		zap.String("player_id", id),
		zap.String("reason", reason),
		zap.Int("members", len(g.members)),
	)
	if len(g.members) == 0 {
		switch g.status {
		case StatusLobby:
			g.emptySince = g.deps.Clock()
		case StatusActive:
			g.markEnded("abandoned", "")
		case StatusEnded:
			g.finish("roster empty")
		}
	}
}
