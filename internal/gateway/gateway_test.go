package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/crawld/internal/config"
	"github.com/cory-johannsen/crawld/internal/game"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
	"github.com/cory-johannsen/crawld/internal/session"
	"github.com/cory-johannsen/crawld/internal/testutil"
)

// fakeState is a minimal game.State: entities on an open grid, mutated only
// through applied actions.
type fakeState struct {
	mu       sync.Mutex
	entities map[string]game.Entity
}

func newFakeState() *fakeState {
	return &fakeState{entities: make(map[string]game.Entity)}
}

func (s *fakeState) SpawnPlayer(id, name string, pos game.Coord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; ok {
		return fmt.Errorf("entity %s already spawned", id)
	}
	s.entities[id] = game.Entity{
		ID: id, Kind: game.KindPlayer, Name: name, Position: pos, HP: 10, MaxHP: 10,
	}
	return nil
}

func (s *fakeState) RemovePlayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	return nil
}

func (s *fakeState) Player(id string) (game.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return e, ok
}

func (s *fakeState) Entities() []game.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	return out
}

func (s *fakeState) Apply(ctx game.Context, a game.Action) (game.Outcome, error) {
	return a.Execute(ctx)
}

func (s *fakeState) GameOver() (bool, string) { return false, "" }

// moveAction shifts the actor by a step.
type moveAction struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (a *moveAction) Validate(ctx game.Context) error {
	if a.DX < -1 || a.DX > 1 || a.DY < -1 || a.DY > 1 {
		return fmt.Errorf("step out of range")
	}
	return nil
}

func (a *moveAction) Execute(ctx game.Context) (game.Outcome, error) {
	st := ctx.State.(*fakeState)
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entities[ctx.ActorID]
	e.Position.X += a.DX
	e.Position.Y += a.DY
	st.entities[ctx.ActorID] = e
	return game.Outcome{Events: []string{e.Name + " moves"}}, nil
}

// fakeGen hands out one distinct spawn cell per player.
type fakeGen struct{}

func (fakeGen) Generate(seed int64) (*game.Floor, error) {
	return &game.Floor{Name: "test floor", Width: 8, Height: 8, Tiles: []string{
		"........", "........", "........", "........",
		"........", "........", "........", "........",
	}}, nil
}

func (fakeGen) SpawnPositions(n int) ([]game.Coord, error) {
	out := make([]game.Coord, n)
	for i := range out {
		out[i] = game.Coord{X: i + 1, Y: i + 1}
	}
	return out, nil
}

// fakeTurns counts environment turns.
type fakeTurns struct {
	mu     sync.Mutex
	rounds int
}

func (f *fakeTurns) ProcessRound(ctx game.Context) (game.Outcome, error) {
	f.mu.Lock()
	f.rounds++
	f.mu.Unlock()
	return game.Outcome{Events: []string{"the dungeon stirs"}}, nil
}

// harness is a gateway wired to fakes behind an httptest server.
type harness struct {
	gw    *Gateway
	mgr   *session.Manager
	reg   *player.Registry
	srv   *httptest.Server
	turns *fakeTurns
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Session.SweepInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := zaptest.NewLogger(t)
	codec := protocol.NewCodec()
	codec.MustRegister("move", func(params json.RawMessage) (game.Action, error) {
		var a moveAction
		if len(params) > 0 {
			if err := json.Unmarshal(params, &a); err != nil {
				return nil, err
			}
		}
		return &a, nil
	})

	turns := &fakeTurns{}
	deps := session.Deps{
		NewGenerator: func() game.MapGenerator { return fakeGen{} },
		NewState:     func(floor *game.Floor, seed int64) (game.State, error) { return newFakeState(), nil },
		NewTurns:     func(floor *game.Floor, seed int64) game.TurnSystem { return turns },
		Seed:         func() int64 { return 42 },
	}
	mgr, err := session.NewManager(cfg.Session, deps, codec, logger)
	require.NoError(t, err)
	go func() { _ = mgr.Start() }()

	reg := player.NewRegistry()
	gw := New(cfg, reg, mgr, logger)
	srv := httptest.NewServer(gw.httpSrv.Handler)

	t.Cleanup(func() {
		srv.Close()
		mgr.Stop()
	})
	return &harness{gw: gw, mgr: mgr, reg: reg, srv: srv, turns: turns}
}

// startTwoPlayerGame auths a and b, seats them in one session, and readies
// both. Returns the session id after both received GAME_START and STATE.
func startTwoPlayerGame(t *testing.T, a, b *testutil.WSClient) string {
	t.Helper()
	a.Auth("Aria")
	b.Auth("Borin")
	created := a.CreateGame()
	b.JoinGame(created.SessionID)
	a.Ready(true)
	b.Ready(true)
	a.Expect(protocol.TypeGameStart)
	b.Expect(protocol.TypeGameStart)
	a.Expect(protocol.TypeState)
	b.Expect(protocol.TypeState)
	return created.SessionID
}

func TestPreAuthMessagesRejectedWithoutClosing(t *testing.T) {
	h := newHarness(t, nil)
	c := testutil.DialWS(t, h.srv.URL)

	c.Send(protocol.TypeCreateGame, nil, "r1")
	p := c.ExpectError(protocol.ReasonNotAuthenticated)
	assert.NotEmpty(t, p.Message)

	// The connection survived the rejection and can still authenticate.
	got := c.Auth("Aria")
	assert.NotEmpty(t, got.PlayerID)
	assert.NotEmpty(t, got.Token)
}

func TestMalformedFrameAnswersErrorAndStaysOpen(t *testing.T) {
	h := newHarness(t, nil)
	c := testutil.DialWS(t, h.srv.URL)

	c.SendRaw([]byte("{not json"))
	c.ExpectError(protocol.ReasonBadEnvelope)

	c.SendRaw([]byte(`{"payload":{}}`))
	c.ExpectError(protocol.ReasonBadEnvelope)

	c.Send(protocol.MessageType("TELEPORT"), nil, "r9")
	env := c.Expect(protocol.TypeError)
	assert.Equal(t, "r9", env.RequestID)
	var p protocol.ErrorPayload
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, protocol.ReasonUnknownType, p.Code)

	c.Auth("Aria")
}

func TestAuthValidatesDisplayName(t *testing.T) {
	h := newHarness(t, nil)
	c := testutil.DialWS(t, h.srv.URL)

	c.Send(protocol.TypeAuth, protocol.AuthRequest{DisplayName: "x"}, "a1")
	env := c.Expect(protocol.TypeAuthFailure)
	assert.Equal(t, "a1", env.RequestID)
	var p protocol.AuthFailurePayload
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, protocol.ReasonInvalidName, p.Reason)

	// Second AUTH on the same connection is rejected after success.
	c.Auth("Aria")
	c.Send(protocol.TypeAuth, protocol.AuthRequest{DisplayName: "Borin"}, "a2")
	env = c.Expect(protocol.TypeAuthFailure)
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, "already_authenticated", p.Reason)
}

func TestUnauthenticatedConnectionClosedAfterWindow(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Gateway.AuthWindow = 100 * time.Millisecond
	})
	c := testutil.DialWS(t, h.srv.URL)

	// The server severs the connection once the window lapses.
	c.ExpectClosed(2 * time.Second)
}

func TestLobbyFlowStartsGameWithDistinctSpawns(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	a.Auth("Aria")
	b.Auth("Borin")

	created := a.CreateGame()
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, string(session.StatusLobby), created.Status)

	joined := b.JoinGame(created.SessionID)
	assert.Equal(t, created.SessionID, joined.SessionID)
	assert.Len(t, joined.Players, 2)

	// A hears about B's arrival.
	var pj protocol.PlayerJoinedPayload
	testutil.DecodeInto(t, a.Expect(protocol.TypePlayerJoined), &pj)
	assert.Equal(t, "Borin", pj.Name)

	a.Ready(true)
	b.Ready(true)

	for _, c := range []*testutil.WSClient{a, b} {
		var gs protocol.GameStartPayload
		testutil.DecodeInto(t, c.Expect(protocol.TypeGameStart), &gs)
		assert.Equal(t, created.SessionID, gs.SessionID)

		var st protocol.StatePayload
		testutil.DecodeInto(t, c.Expect(protocol.TypeState), &st)
		assert.Equal(t, string(session.StatusActive), st.Status)
		require.Len(t, st.Entities, 2)
		assert.NotEqual(t, st.Entities[0].Position, st.Entities[1].Position,
			"players must spawn on distinct cells")
		require.NotNil(t, st.Floor)
	}
}

func TestJoinErrors(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Session.MaxPlayers = 1
	})
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	a.Auth("Aria")
	b.Auth("Borin")

	b.Send(protocol.TypeJoinGame, protocol.JoinGameRequest{SessionID: "no-such"}, "j1")
	b.ExpectError(protocol.ReasonSessionNotFound)

	created := a.CreateGame()
	b.Send(protocol.TypeJoinGame, protocol.JoinGameRequest{SessionID: created.SessionID}, "j2")
	b.ExpectError(protocol.ReasonSessionFull)
}

func TestRoundBudgetAndEnvironmentTurn(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Session.ActionsPerRound = 4
	})
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	startTwoPlayerGame(t, a, b)

	step := func(c, other *testutil.WSClient, reqID string) protocol.DeltaPayload {
		d := c.Action("move", moveAction{DX: 1}, reqID)
		var od protocol.DeltaPayload
		testutil.DecodeInto(t, other.Expect(protocol.TypeDelta), &od)
		assert.Equal(t, d.NewRevision, od.NewRevision)
		return d
	}

	d1 := step(a, b, "m1")
	assert.Equal(t, 1, d1.Round.Number)
	assert.Equal(t, 1, d1.Round.ActionsTaken)

	d2 := step(b, a, "m2")
	assert.Equal(t, 2, d2.Round.ActionsTaken)

	d3 := step(a, b, "m3")
	assert.Equal(t, 3, d3.Round.ActionsTaken)

	// The fourth action exhausts the budget: the environment acts once,
	// the round advances, and the counter resets.
	d4 := step(b, a, "m4")
	assert.Equal(t, 2, d4.Round.Number)
	assert.Equal(t, 0, d4.Round.ActionsTaken)
	assert.Contains(t, d4.Events, "the dungeon stirs")

	h.turns.mu.Lock()
	rounds := h.turns.rounds
	h.turns.mu.Unlock()
	assert.Equal(t, 1, rounds, "environment turn must run exactly once per round")

	// Deltas arrived in strictly increasing revision order.
	assert.Greater(t, d2.NewRevision, d1.NewRevision)
	assert.Greater(t, d3.NewRevision, d2.NewRevision)
	assert.Greater(t, d4.NewRevision, d3.NewRevision)
}

func TestRejectedActionIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	startTwoPlayerGame(t, a, b)

	a.Send(protocol.TypeAction, protocol.ActionRequest{ActionType: "teleport"}, "bad1")
	env := a.Expect(protocol.TypeError)
	assert.Equal(t, "bad1", env.RequestID)
	var p protocol.ErrorPayload
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, protocol.ReasonUnknownAction, p.Code)

	a.Send(protocol.TypeAction, protocol.ActionRequest{
		ActionType: "move",
		Params:     json.RawMessage(`{"dx": 5}`),
	}, "bad2")
	a.ExpectError(protocol.ReasonInvalidAction)

	// Nobody else hears anything about either rejection.
	b.ExpectNothing(300 * time.Millisecond)

	// The next valid action still carries round 1, action 1: counters
	// untouched by the failures.
	d := a.Action("move", moveAction{DX: 1}, "ok1")
	assert.Equal(t, 1, d.Round.Number)
	assert.Equal(t, 1, d.Round.ActionsTaken)
}

func TestChatBroadcastAndBounds(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	a.Auth("Aria")
	b.Auth("Borin")
	created := a.CreateGame()
	b.JoinGame(created.SessionID)
	a.Expect(protocol.TypePlayerJoined)

	a.Send(protocol.TypeChat, protocol.ChatRequest{Text: "ready when you are"}, "")
	for _, c := range []*testutil.WSClient{a, b} {
		var msg protocol.ChatMessagePayload
		testutil.DecodeInto(t, c.Expect(protocol.TypeChatMessage), &msg)
		assert.Equal(t, "Aria", msg.Name)
		assert.Equal(t, "ready when you are", msg.Text)
	}

	// Chat outside a session is rejected.
	c := testutil.DialWS(t, h.srv.URL)
	c.Auth("Cora")
	c.Send(protocol.TypeChat, protocol.ChatRequest{Text: "hello?"}, "c1")
	c.ExpectError(protocol.ReasonNotInSession)
}

func TestReconnectResumesIdenticalState(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	sessionID := startTwoPlayerGame(t, a, b)

	d := a.Action("move", moveAction{DX: 1, DY: 1}, "m1")
	b.Expect(protocol.TypeDelta)
	require.Len(t, d.Changes, 1)
	movedTo := *d.Changes[0].Fields.Position

	token, playerID := a.Token, a.PlayerID
	a.Drop()

	// B eventually hears the drop; the roster does not shrink.
	b.Expect(protocol.TypeSystem)

	a2 := testutil.DialWS(t, h.srv.URL)
	a2.Send(protocol.TypeReconnect, protocol.ReconnectRequest{
		Token:     token,
		SessionID: sessionID,
	}, "rc1")
	env := a2.Expect(protocol.TypeState)
	assert.Equal(t, "rc1", env.RequestID)
	var st protocol.StatePayload
	testutil.DecodeInto(t, env, &st)

	require.Len(t, st.Players, 2, "roster size unchanged across the drop")
	var me *game.Entity
	for i := range st.Entities {
		if st.Entities[i].ID == playerID {
			me = &st.Entities[i]
		}
	}
	require.NotNil(t, me, "entity preserved while disconnected")
	assert.Equal(t, movedTo, me.Position)
	assert.Equal(t, 10, me.HP)

	// The rebound connection is fully live again.
	a2.Token, a2.PlayerID = token, playerID
	d2 := a2.Action("move", moveAction{DX: 1}, "m2")
	assert.Greater(t, d2.NewRevision, st.Revision)
}

func TestReconnectOnLiveConnectionIsResync(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	sessionID := startTwoPlayerGame(t, a, b)

	a.Send(protocol.TypeReconnect, protocol.ReconnectRequest{
		Token:     a.Token,
		SessionID: sessionID,
	}, "rs1")
	env := a.Expect(protocol.TypeState)
	assert.Equal(t, "rs1", env.RequestID)
	var st protocol.StatePayload
	testutil.DecodeInto(t, env, &st)
	assert.Equal(t, sessionID, st.SessionID)
	assert.Len(t, st.Entities, 2)
}

func TestReconnectAfterSweepReportsExpired(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Session.DisconnectDeadline = 50 * time.Millisecond
	})
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	sessionID := startTwoPlayerGame(t, a, b)

	token := b.Token
	b.Drop()
	a.Expect(protocol.TypeSystem)
	// The sweep reclaims the slot once the deadline lapses.
	var left protocol.PlayerLeftPayload
	testutil.DecodeInto(t, a.Expect(protocol.TypePlayerLeft), &left)
	assert.Equal(t, "timeout", left.Reason)

	b2 := testutil.DialWS(t, h.srv.URL)
	b2.Send(protocol.TypeReconnect, protocol.ReconnectRequest{
		Token:     token,
		SessionID: sessionID,
	}, "rc1")
	p := b2.ExpectError(protocol.ReasonReconnectExpired)
	assert.NotEmpty(t, p.Message)
}

func TestReconnectWithAnotherPlayersToken(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	sessionID := startTwoPlayerGame(t, a, b)

	a.Send(protocol.TypeReconnect, protocol.ReconnectRequest{
		Token:     b.Token,
		SessionID: sessionID,
	}, "rc1")
	env := a.Expect(protocol.TypeAuthFailure)
	assert.Equal(t, "rc1", env.RequestID)
	var p protocol.AuthFailurePayload
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, "already_authenticated", p.Reason)

	// A still speaks for itself; B's binding is untouched.
	d := a.Action("move", moveAction{DX: 1}, "m1")
	require.Len(t, d.Changes, 1)
	assert.Equal(t, a.PlayerID, d.Changes[0].ID)
	b.Expect(protocol.TypeDelta)
}

func TestReconnectWithUnknownToken(t *testing.T) {
	h := newHarness(t, nil)
	c := testutil.DialWS(t, h.srv.URL)

	c.Send(protocol.TypeReconnect, protocol.ReconnectRequest{
		Token:     "bogus",
		SessionID: "whatever",
	}, "rc1")
	env := c.Expect(protocol.TypeAuthFailure)
	var p protocol.AuthFailurePayload
	testutil.DecodeInto(t, env, &p)
	assert.Equal(t, protocol.ReasonInvalidToken, p.Reason)
}

func TestRegisterRejectsDuplicatesAndNils(t *testing.T) {
	h := newHarness(t, nil)

	err := h.gw.Register(protocol.TypeAuth, func(*Conn, protocol.Envelope) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	require.Error(t, h.gw.Register("", func(*Conn, protocol.Envelope) error { return nil }))
	require.Error(t, h.gw.Register("CUSTOM", nil))

	// A novel type plugs in without touching the dispatch core.
	require.NoError(t, h.gw.Register("PING_ME", func(c *Conn, env protocol.Envelope) error {
		c.send(protocol.TypeSystem, protocol.SystemPayload{Event: "pong"}, env.RequestID)
		return nil
	}))
	c := testutil.DialWS(t, h.srv.URL)
	c.Auth("Aria")
	c.Send("PING_ME", nil, "p1")
	env := c.Expect(protocol.TypeSystem)
	assert.Equal(t, "p1", env.RequestID)
}

func TestHealthzReportsCounts(t *testing.T) {
	h := newHarness(t, nil)
	a := testutil.DialWS(t, h.srv.URL)
	a.Auth("Aria")
	a.CreateGame()

	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hp healthPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hp))
	assert.Equal(t, "ok", hp.Status)
	assert.Equal(t, 1, hp.Sessions)
	assert.Equal(t, 1, hp.Players)
	assert.Equal(t, 1, hp.Connections)

	resp2, err := http.Get(h.srv.URL + "/sessions")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var infos []session.Info
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, session.StatusLobby, infos[0].Status)
}

func TestLeaveInLobbyFreesTheSlot(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Session.MaxPlayers = 2
	})
	a := testutil.DialWS(t, h.srv.URL)
	b := testutil.DialWS(t, h.srv.URL)
	c := testutil.DialWS(t, h.srv.URL)
	a.Auth("Aria")
	b.Auth("Borin")
	c.Auth("Cora")

	created := a.CreateGame()
	b.JoinGame(created.SessionID)
	a.Expect(protocol.TypePlayerJoined)

	b.Send(protocol.TypeLeaveGame, nil, "l1")
	var sys protocol.SystemPayload
	testutil.DecodeInto(t, b.Expect(protocol.TypeSystem), &sys)
	assert.Equal(t, "left_game", sys.Event)

	// The freed slot is joinable again.
	st := c.JoinGame(created.SessionID)
	assert.Len(t, st.Players, 2)
}
