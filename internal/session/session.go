// Package session coordinates multiplayer game sessions: the lobby and
// round lifecycle, the serialized action pipeline, state broadcasting, and
// the manager that routes players to sessions.
package session

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/config"
	"github.com/cory-johannsen/crawld/internal/delta"
	"github.com/cory-johannsen/crawld/internal/game"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// Status is a session's lifecycle phase.
type Status string

const (
	// StatusLobby is the pre-game phase: players join, leave, and ready up.
	StatusLobby Status = "lobby"
	// StatusActive is the playing phase: actions mutate shared state.
	StatusActive Status = "active"
	// StatusEnded is the terminal phase: state is frozen until teardown.
	StatusEnded Status = "ended"
)

// inboxSize bounds pending commands per session. Handlers never block, so
// the inbox drains faster than connections can legally fill it.
const inboxSize = 128

// member is one roster slot.
type member struct {
	player *player.Session
	ready  bool
	passed bool
	// departed marks a member who left mid-game and is waiting out the
	// disconnect countdown. They no longer act, but may still return.
	departed bool
	// deadline is when a departed member's slot lapses. The countdown runs
	// even while their socket stays open; a plain drop tracks its deadline
	// on the player instead.
	deadline time.Time
}

// expired reports whether the slot can no longer be reclaimed: the player
// dropped and ran out their reconnect deadline, or departed and ran out
// theirs.
func (m *member) expired(now time.Time) bool {
	if m.player.DeadlineExpired(now) {
		return true
	}
	return m.departed && !m.deadline.IsZero() && now.After(m.deadline)
}

// GameSession is one game from lobby to teardown. All mutable state is owned
// by a single goroutine; public methods post commands to it and wait for the
// result, which serializes every mutation and fixes the order of concurrent
// submissions by arrival.
type GameSession struct {
	id     string
	logger *zap.Logger
	cfg    config.SessionConfig
	deps   Deps
	codec  *protocol.Codec

	inbox chan func()
	done  chan struct{}

	// onTeardown runs once, on the session goroutine, when the loop stops.
	onTeardown func(id string)

	// Everything below is owned by the run goroutine.
	status     Status
	members    map[string]*member
	order      []string
	state      game.State
	turns      game.TurnSystem
	floor      *game.Floor
	seed       int64
	round      RoundState
	enc        *delta.Encoder
	chat       []protocol.ChatMessagePayload
	seq        uint64
	roundLog   []ActionRecord
	result     string
	finalized  bool
	endedAt    time.Time
	emptySince time.Time
	stopping   bool
}

// newGameSession builds a session in the lobby phase. The caller starts the
// loop with go g.run().
func newGameSession(id string, cfg config.SessionConfig, deps Deps, codec *protocol.Codec, logger *zap.Logger, onTeardown func(string)) (*GameSession, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GameSession{
		id:         id,
		logger:     logger.With(zap.String("session_id", id)),
		cfg:        cfg,
		deps:       deps,
		codec:      codec,
		inbox:      make(chan func(), inboxSize),
		done:       make(chan struct{}),
		onTeardown: onTeardown,
		status:     StatusLobby,
		members:    make(map[string]*member),
		round:      RoundState{Budget: cfg.ActionsPerRound},
		enc:        delta.NewEncoder(),
		emptySince: deps.Clock(),
	}
	return g, nil
}

// ID returns the session identifier.
func (g *GameSession) ID() string {
	return g.id
}

// Done is closed when the session loop has stopped.
func (g *GameSession) Done() <-chan struct{} {
	return g.done
}

func (g *GameSession) run() {
	defer close(g.done)
	for cmd := range g.inbox {
		cmd()
		if g.stopping {
			return
		}
	}
}

// post schedules fn on the session goroutine. It reports false when the
// session has already torn down.
func (g *GameSession) post(fn func()) bool {
	select {
	case g.inbox <- fn:
		return true
	case <-g.done:
		return false
	}
}

// ask runs fn on the session goroutine and waits for its result. A session
// that tore down before fn ran answers ErrSessionNotFound, the same as a
// lookup of its id would.
func (g *GameSession) ask(fn func() error) error {
	reply := make(chan error, 1)
	if !g.post(func() { reply <- fn() }) {
		return ErrSessionNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-g.done:
		// The reply may have landed in the same instant the loop stopped.
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionNotFound
		}
	}
}

// Info is a point-in-time view of a session's externals, served to the
// status endpoint and to tests.
type Info struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Round     int    `json:"round"`
	Members   int    `json:"members"`
	Connected int    `json:"connected"`
	Revision  uint64 `json:"revision"`
}

// Info reports the session's current phase and occupancy.
func (g *GameSession) Info() Info {
	reply := make(chan Info, 1)
	ok := g.post(func() { reply <- g.buildInfo() })
	if ok {
		select {
		case info := <-reply:
			return info
		case <-g.done:
			select {
			case info := <-reply:
				return info
			default:
			}
		}
	}
	return Info{ID: g.id, Status: StatusEnded}
}

func (g *GameSession) buildInfo() Info {
	connected := 0
	for _, m := range g.members {
		if m.player.Connected() {
			connected++
		}
	}
	return Info{
		ID:        g.id,
		Status:    g.status,
		Round:     g.round.Number,
		Members:   len(g.members),
		Connected: connected,
		Revision:  g.enc.Revision(),
	}
}

// broadcast encodes payload once and pushes it to every member.
func (g *GameSession) broadcast(mt protocol.MessageType, payload any) {
	g.broadcastExcept("", mt, payload)
}

// broadcastExcept is broadcast minus one recipient, for announcements the
// skipped player triggered themselves.
func (g *GameSession) broadcastExcept(skipID string, mt protocol.MessageType, payload any) {
	data, err := protocol.Encode(mt, payload, "")
	if err != nil {
		g.logger.Error("encoding broadcast", zap.String("type", string(mt)), zap.Error(err))
		return
	}
	g.fanOut(player.Frame{Data: data, Droppable: protocol.Droppable(mt)}, skipID)
}

// fanOut pushes a frame to every member in roster order, skipping skipID
// when non-empty. Push failures are not handled here: an undeliverable
// outbox closes itself, the gateway tears the connection down, and the
// disconnect arrives through the inbox like any other.
func (g *GameSession) fanOut(f player.Frame, skipID string) {
	for _, id := range g.order {
		if id == skipID {
			continue
		}
		if err := g.members[id].player.Push(f); err != nil {
			g.logger.Debug("frame not delivered", zap.String("player_id", id), zap.Error(err))
		}
	}
}

// sendTo pushes one message to a single member, echoing requestID when set.
func (g *GameSession) sendTo(p *player.Session, mt protocol.MessageType, payload any, requestID string) {
	data, err := protocol.Encode(mt, payload, requestID)
	if err != nil {
		g.logger.Error("encoding message", zap.String("type", string(mt)), zap.Error(err))
		return
	}
	if err := p.Push(player.Frame{Data: data, Droppable: protocol.Droppable(mt)}); err != nil {
		g.logger.Debug("frame not delivered", zap.String("player_id", p.PlayerID), zap.Error(err))
	}
}

// sendState sends the full current snapshot to one player. This is the only
// resynchronization mechanism: clients that lose delta continuity receive
// one of these and discard what they had.
func (g *GameSession) sendState(p *player.Session, requestID string) {
	g.sendTo(p, protocol.TypeState, g.statePayload(), requestID)
}

func (g *GameSession) statePayload() protocol.StatePayload {
	snap := g.enc.Current()
	return protocol.StatePayload{
		SessionID: g.id,
		Status:    string(g.status),
		Revision:  snap.Revision,
		Round:     g.roundInfo(),
		Entities:  snap.Sorted(),
		Players:   g.rosterEntries(),
		Floor:     g.floor,
		Chat:      slices.Clone(g.chat),
		GameOver:  g.status == StatusEnded,
		Result:    g.result,
	}
}

func (g *GameSession) roundInfo() protocol.RoundInfo {
	return protocol.RoundInfo{
		Number:       g.round.Number,
		ActionsTaken: g.round.ActionsTaken,
		Budget:       g.round.Budget,
	}
}

func (g *GameSession) rosterEntries() []protocol.RosterEntry {
	entries := make([]protocol.RosterEntry, 0, len(g.order))
	for _, id := range g.order {
		m := g.members[id]
		entries = append(entries, protocol.RosterEntry{
			PlayerID:  id,
			Name:      m.player.DisplayName,
			Connected: m.player.Connected(),
			Ready:     m.ready,
		})
	}
	return entries
}

// advanceAndBroadcast captures the state mutations since the last broadcast
// as one delta, sends it to everyone, and echoes requestID on the
// originator's copy. Exactly one revision is minted per call.
func (g *GameSession) advanceAndBroadcast(origin *player.Session, requestID string, events []string) {
	d, _ := g.enc.Advance(g.state)
	payload := protocol.DeltaPayload{
		SessionID: g.id,
		Delta:     d,
		Round:     g.roundInfo(),
		Events:    events,
	}
	var originID string
	if origin != nil {
		originID = origin.PlayerID
		g.sendTo(origin, protocol.TypeDelta, payload, requestID)
	}
	data, err := protocol.Encode(protocol.TypeDelta, payload, "")
	if err != nil {
		g.logger.Error("encoding delta broadcast", zap.Error(err))
		return
	}
	g.fanOut(player.Frame{Data: data, Droppable: false}, originID)
}

// systemBroadcast sends a droppable notice to every member.
func (g *GameSession) systemBroadcast(event, message string) {
	g.broadcast(protocol.TypeSystem, protocol.SystemPayload{Event: event, Message: message})
}

func (g *GameSession) memberOf(p *player.Session) (*member, bool) {
	m, ok := g.members[p.PlayerID]
	return m, ok
}

func (g *GameSession) removeFromOrder(id string) {
	g.order = slices.DeleteFunc(g.order, func(v string) bool { return v == id })
}

// finish stops the loop after the current handler returns. Every member is
// released from the session so their identity can join another game.
func (g *GameSession) finish(reason string) {
	if g.stopping {
		return
	}
	g.stopping = true
	for _, id := range g.order {
		g.members[id].player.ClearGame()
	}
	g.logger.Info("session torn down",
		zap.String("reason", reason),
		zap.Int("members", len(g.members)),
		zap.Int("rounds", g.round.Number),
	)
	if g.onTeardown != nil {
		g.onTeardown(g.id)
	}
}

// Shutdown notifies members that the server is stopping and tears the
// session down. Safe to call on an already-stopped session.
func (g *GameSession) Shutdown() {
	g.post(func() {
		g.systemBroadcast("server_shutdown", "server is shutting down")
		g.finish("server shutdown")
	})
}
