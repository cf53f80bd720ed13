package session

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/player"
)

// Disconnect records a dropped connection. In the lobby the member simply
// leaves; mid-game their entity persists untouched until the reconnect
// deadline, after which the sweep removes it. The closing connection's
// outbox identifies it: a connection superseded by a reconnect is not a
// drop.
func (g *GameSession) Disconnect(p *player.Session, o *player.Outbox) {
	g.post(func() { g.handleDisconnect(p, o) })
}

func (g *GameSession) handleDisconnect(p *player.Session, o *player.Outbox) {
	if !p.Owns(o) {
		return
	}
	m, ok := g.memberOf(p)
	if !ok {
		return
	}
	switch g.status {
	case StatusLobby:
		g.removeMember(m, "disconnected")
		// The departure may have made the remaining roster unanimous.
		g.maybeStart()
	case StatusActive:
		if !p.Connected() {
			return
		}
		deadline := g.deps.Clock().Add(g.cfg.DisconnectDeadline)
		p.MarkDisconnected(deadline)
		g.logger.Info("player disconnected",
			zap.String("player_id", p.PlayerID),
			zap.Time("deadline", deadline),
		)
		if !m.departed {
			g.systemBroadcast("player_disconnected", m.player.DisplayName+" lost connection")
		}
		if g.allConnectedPassed() {
			g.completeAndBroadcast(nil, "", nil)
		}
	case StatusEnded:
		// Nothing to track; the grace sweep handles teardown.
	}
}

// Reconnect binds a connection to the member's slot and answers with a full
// snapshot at the current revision. A live member gets a resync; a dropped
// member inside the deadline gets their entity back exactly as they left
// it. Past the deadline the slot is gone and ErrReconnectExpired says so.
func (g *GameSession) Reconnect(p *player.Session, o *player.Outbox, requestID string) error {
	return g.ask(func() error { return g.handleReconnect(p, o, requestID) })
}

func (g *GameSession) handleReconnect(p *player.Session, o *player.Outbox, requestID string) error {
	m, ok := g.memberOf(p)
	if !ok {
		return ErrNotInSession
	}
	if g.status == StatusEnded {
		// The run is over; let them see the final snapshot during grace.
		p.BindConnection(o)
		g.sendState(p, requestID)
		return nil
	}
	if m.expired(g.deps.Clock()) {
		g.removeMember(m, "timeout")
		if g.state != nil {
			g.advanceAndBroadcast(nil, "", nil)
			g.finalizeIfEnded()
		}
		return ErrReconnectExpired
	}

	was := p.Connected()
	p.BindConnection(o)
	m.departed = false
	m.deadline = time.Time{}
	if !was {
		g.logger.Info("player reconnected", zap.String("player_id", p.PlayerID))
		g.systemBroadcast("player_reconnected", m.player.DisplayName+" reconnected")
	}
	g.sendState(p, requestID)
	return nil
}

// Sweep runs the session's periodic bookkeeping: expired disconnect
// deadlines mid-game, the empty-lobby countdown, and the post-game grace
// period. The manager calls it on every tick.
func (g *GameSession) Sweep() {
	g.post(func() { g.handleSweep() })
}

func (g *GameSession) handleSweep() {
	now := g.deps.Clock()
	switch g.status {
	case StatusLobby:
		if len(g.members) == 0 && !g.emptySince.IsZero() && now.Sub(g.emptySince) >= g.cfg.GracePeriod {
			g.finish("idle empty lobby")
		}
	case StatusActive:
		if g.sweepExpired() == 0 {
			return
		}
		// Removals changed the world; sync everyone. An emptied roster has
		// already ended the run and only needs the final broadcast.
		g.advanceAndBroadcast(nil, "", nil)
		g.finalizeIfEnded()
	case StatusEnded:
		if now.Sub(g.endedAt) >= g.cfg.GracePeriod {
			g.finish("grace period elapsed")
		}
	}
}

// sweepExpired removes every member whose countdown has run out, dropped
// or departed alike, and returns how many were removed.
func (g *GameSession) sweepExpired() int {
	now := g.deps.Clock()
	removed := 0
	for _, id := range slices.Clone(g.order) {
		m := g.members[id]
		if !m.expired(now) {
			continue
		}
		g.removeMember(m, "timeout")
		removed++
	}
	return removed
}
