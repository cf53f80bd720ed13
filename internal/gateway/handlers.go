package gateway

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
	"github.com/cory-johannsen/crawld/internal/session"
)

// errBadPayload marks payloads that failed to decode; the dispatch core
// maps it to the bad_envelope reason.
var errBadPayload = errors.New("malformed payload")

// reasonFor maps a handler error onto its wire reason code. Anything
// unrecognized is an internal error and gets logged at the dispatch site.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, errBadPayload):
		return protocol.ReasonBadEnvelope
	case errors.Is(err, player.ErrInvalidName):
		return protocol.ReasonInvalidName
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.ReasonSessionNotFound
	case errors.Is(err, session.ErrSessionFull):
		return protocol.ReasonSessionFull
	case errors.Is(err, session.ErrInvalidState):
		return protocol.ReasonInvalidState
	case errors.Is(err, session.ErrAlreadyInSession):
		return protocol.ReasonAlreadyInSession
	case errors.Is(err, session.ErrNotInSession):
		return protocol.ReasonNotInSession
	case errors.Is(err, session.ErrNotConnected):
		return protocol.ReasonNotInSession
	case errors.Is(err, session.ErrReconnectExpired):
		return protocol.ReasonReconnectExpired
	case errors.Is(err, session.ErrBudgetExhausted):
		return protocol.ReasonBudgetExhausted
	case errors.Is(err, session.ErrDeadActor):
		return protocol.ReasonDeadActor
	case errors.Is(err, session.ErrInvalidAction):
		return protocol.ReasonInvalidAction
	case errors.Is(err, protocol.ErrUnknownAction):
		return protocol.ReasonUnknownAction
	default:
		return protocol.ReasonInternal
	}
}

// decodePayload unwraps an envelope payload, tagging failures for the
// bad_envelope reason.
func decodePayload(env protocol.Envelope, v any) error {
	if err := env.DecodePayload(v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// handleAuth issues a fresh identity. Rejections answer with AUTH_FAILURE
// rather than ERROR, so clients can tell an auth problem from everything
// else without parsing reason codes.
func (g *Gateway) handleAuth(c *Conn, env protocol.Envelope) error {
	if c.Player() != nil {
		c.send(protocol.TypeAuthFailure,
			protocol.AuthFailurePayload{Reason: "already_authenticated"}, env.RequestID)
		return nil
	}
	var req protocol.AuthRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	p, err := g.registry.Authenticate(req.DisplayName)
	if err != nil {
		c.logger.Debug("auth rejected", zap.Error(err))
		c.send(protocol.TypeAuthFailure,
			protocol.AuthFailurePayload{Reason: protocol.ReasonInvalidName}, env.RequestID)
		return nil
	}
	p.BindConnection(c.outbox)
	c.bindPlayer(p)
	c.logger.Info("player authenticated",
		zap.String("player_id", p.PlayerID),
		zap.String("name", p.DisplayName),
	)
	c.send(protocol.TypeAuthSuccess, protocol.AuthSuccessPayload{
		PlayerID: p.PlayerID,
		Token:    p.Token,
	}, env.RequestID)
	return nil
}

// handleReconnect self-authenticates by token and routes into the session's
// reconnect path. On a live connection it doubles as a full-state resync
// request.
func (g *Gateway) handleReconnect(c *Conn, env protocol.Envelope) error {
	var req protocol.ReconnectRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	p, ok := g.registry.ByToken(req.Token)
	if !ok {
		c.send(protocol.TypeAuthFailure,
			protocol.AuthFailurePayload{Reason: protocol.ReasonInvalidToken}, env.RequestID)
		return nil
	}
	if cur := c.Player(); cur != nil && cur.PlayerID != p.PlayerID {
		// The connection already speaks for someone else; swapping
		// identities here would orphan the bound one mid-session.
		c.send(protocol.TypeAuthFailure,
			protocol.AuthFailurePayload{Reason: "already_authenticated"}, env.RequestID)
		return nil
	}
	if _, err := g.sessions.Reconnect(req.SessionID, p, c.outbox, env.RequestID); err != nil {
		// Once the sweep reclaims a slot, or tears the whole session down,
		// the member records are gone. To a returning token that is an
		// expired deadline, not an unknown session.
		if errors.Is(err, session.ErrNotInSession) || errors.Is(err, session.ErrSessionNotFound) {
			return session.ErrReconnectExpired
		}
		return err
	}
	// The session bound the outbox; the connection now speaks for p.
	c.bindPlayer(p)
	return nil
}

func (g *Gateway) handleCreateGame(c *Conn, env protocol.Envelope) error {
	gs, err := g.sessions.Create(c.Player(), env.RequestID)
	if err != nil {
		return err
	}
	c.logger.Info("session created via gateway", zap.String("session_id", gs.ID()))
	return nil
}

func (g *Gateway) handleJoinGame(c *Conn, env protocol.Envelope) error {
	var req protocol.JoinGameRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	_, err := g.sessions.Join(req.SessionID, c.Player(), env.RequestID)
	return err
}

func (g *Gateway) handleLeaveGame(c *Conn, env protocol.Envelope) error {
	return g.sessions.Leave(c.Player(), env.RequestID)
}

func (g *Gateway) handleReady(c *Conn, env protocol.Envelope) error {
	var req protocol.ReadyRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	gs, ok := g.sessions.ForPlayer(c.Player())
	if !ok {
		return session.ErrNotInSession
	}
	return gs.Ready(c.Player(), req.Ready)
}

// handleAction feeds one action into the session's serialized pipeline. A
// successful action answers with the resulting DELTA broadcast, request id
// echoed on the originator's copy; a rejected one answers ERROR here.
func (g *Gateway) handleAction(c *Conn, env protocol.Envelope) error {
	var req protocol.ActionRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	gs, ok := g.sessions.ForPlayer(c.Player())
	if !ok {
		return session.ErrNotInSession
	}
	return gs.SubmitAction(c.Player(), req, env.RequestID)
}

func (g *Gateway) handleChat(c *Conn, env protocol.Envelope) error {
	var req protocol.ChatRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	gs, ok := g.sessions.ForPlayer(c.Player())
	if !ok {
		return session.ErrNotInSession
	}
	return gs.Chat(c.Player(), req.Text)
}
