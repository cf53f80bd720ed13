// Package testutil provides the WebSocket test client integration tests
// drive the gateway with.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/crawld/internal/protocol"
)

// recvTimeout bounds a single expected-message wait. Generous enough for a
// loaded CI box, short enough that a hang fails fast.
const recvTimeout = 5 * time.Second

// WSClient is a WebSocket test client speaking the server's JSON envelope
// protocol.
type WSClient struct {
	t    *testing.T
	conn *websocket.Conn

	// Token is filled in by Auth for reconnect tests.
	Token string
	// PlayerID is filled in by Auth.
	PlayerID string
}

// DialWS connects to a gateway served at an http(s) base URL, e.g. the URL
// of an httptest.Server.
//
// Postcondition: Returns a connected client registered for cleanup, or
// fails the test.
func DialWS(t *testing.T, baseURL string) *WSClient {
	t.Helper()
	start := time.Now()

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", wsURL, err, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return &WSClient{t: t, conn: conn}
}

// Send writes one envelope.
func (c *WSClient) Send(mt protocol.MessageType, payload any, requestID string) {
	c.t.Helper()
	data, err := protocol.Encode(mt, payload, requestID)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", mt, err)
	}
	c.SendRaw(data)
}

// SendRaw writes one text frame as-is, for malformed-input tests.
func (c *WSClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(recvTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// Recv reads the next envelope, failing the test on timeout or transport
// error.
func (c *WSClient) Recv() protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("decoding frame %q: %v", data, err)
	}
	return env
}

// Expect reads envelopes until one of the wanted types arrives, skipping
// everything else. Broadcast traffic (SYSTEM notices, chat, join
// announcements) interleaves freely with direct replies, so tests name what
// they are waiting for.
func (c *WSClient) Expect(types ...protocol.MessageType) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(recvTimeout)
	for time.Now().Before(deadline) {
		env := c.Recv()
		for _, mt := range types {
			if env.Type == mt {
				return env
			}
		}
		c.t.Logf("skipping %s while waiting for %v", env.Type, types)
	}
	c.t.Fatalf("no %v within %s", types, recvTimeout)
	return protocol.Envelope{}
}

// ExpectError waits for an ERROR frame and asserts its reason code.
func (c *WSClient) ExpectError(code string) protocol.ErrorPayload {
	c.t.Helper()
	env := c.Expect(protocol.TypeError)
	var p protocol.ErrorPayload
	DecodeInto(c.t, env, &p)
	if p.Code != code {
		c.t.Fatalf("expected error code %q, got %q (%s)", code, p.Code, p.Message)
	}
	return p
}

// ExpectNothing asserts that no frame arrives within the window. Used to
// prove rejected inputs produce no broadcast.
func (c *WSClient) ExpectNothing(window time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(window))
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected silence, got frame %q", data)
	}
}

// ExpectClosed waits for the server to sever the connection. A quiet but
// open connection past the window fails the test.
func (c *WSClient) ExpectClosed(within time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(within))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			c.t.Fatalf("connection still open after %s", within)
		}
		return
	}
}

// Close performs a clean close handshake.
func (c *WSClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// Drop severs the connection without a close handshake, simulating a
// network fault.
func (c *WSClient) Drop() {
	_ = c.conn.Close()
}

// DecodeInto unmarshals an envelope payload, failing the test on error.
func DecodeInto(t *testing.T, env protocol.Envelope, v any) {
	t.Helper()
	if err := env.DecodePayload(v); err != nil {
		t.Fatalf("decoding %s payload: %v", env.Type, err)
	}
}

// Auth authenticates with the given display name and records the issued
// identity on the client.
func (c *WSClient) Auth(name string) protocol.AuthSuccessPayload {
	c.t.Helper()
	c.Send(protocol.TypeAuth, protocol.AuthRequest{DisplayName: name}, "auth-1")
	env := c.Expect(protocol.TypeAuthSuccess, protocol.TypeAuthFailure)
	if env.Type == protocol.TypeAuthFailure {
		var p protocol.AuthFailurePayload
		DecodeInto(c.t, env, &p)
		c.t.Fatalf("auth as %q failed: %s", name, p.Reason)
	}
	var p protocol.AuthSuccessPayload
	DecodeInto(c.t, env, &p)
	c.Token = p.Token
	c.PlayerID = p.PlayerID
	return p
}

// CreateGame creates a session and returns the snapshot the server answers
// with. The session id lives in the payload.
func (c *WSClient) CreateGame() protocol.StatePayload {
	c.t.Helper()
	c.Send(protocol.TypeCreateGame, nil, "create-1")
	var p protocol.StatePayload
	DecodeInto(c.t, c.Expect(protocol.TypeState), &p)
	return p
}

// JoinGame joins a session and returns the snapshot reply.
func (c *WSClient) JoinGame(sessionID string) protocol.StatePayload {
	c.t.Helper()
	c.Send(protocol.TypeJoinGame, protocol.JoinGameRequest{SessionID: sessionID}, "join-1")
	var p protocol.StatePayload
	DecodeInto(c.t, c.Expect(protocol.TypeState), &p)
	return p
}

// Ready sets the lobby ready flag.
func (c *WSClient) Ready(ready bool) {
	c.t.Helper()
	c.Send(protocol.TypeReady, protocol.ReadyRequest{Ready: ready}, "")
}

// Action submits a game action and returns the DELTA reply.
func (c *WSClient) Action(actionType string, params any, requestID string) protocol.DeltaPayload {
	c.t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			c.t.Fatalf("encoding params: %v", err)
		}
		raw = data
	}
	c.Send(protocol.TypeAction, protocol.ActionRequest{ActionType: actionType, Params: raw}, requestID)
	var p protocol.DeltaPayload
	DecodeInto(c.t, c.Expect(protocol.TypeDelta), &p)
	return p
}
