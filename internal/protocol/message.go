// Package protocol defines the JSON wire format spoken over the WebSocket:
// the message envelope, the payload types for every message in the
// vocabulary, and the codec that turns wire actions into game actions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/crawld/internal/delta"
	"github.com/cory-johannsen/crawld/internal/game"
)

// MessageType identifies a message in the wire vocabulary.
type MessageType string

// Client to server.
const (
	TypeAuth       MessageType = "AUTH"
	TypeCreateGame MessageType = "CREATE_GAME"
	TypeJoinGame   MessageType = "JOIN_GAME"
	TypeLeaveGame  MessageType = "LEAVE_GAME"
	TypeReady      MessageType = "READY"
	TypeAction     MessageType = "ACTION"
	TypeChat       MessageType = "CHAT"
	TypeReconnect  MessageType = "RECONNECT"
)

// Server to client.
const (
	TypeAuthSuccess  MessageType = "AUTH_SUCCESS"
	TypeAuthFailure  MessageType = "AUTH_FAILURE"
	TypeState        MessageType = "STATE"
	TypeDelta        MessageType = "DELTA"
	TypeSystem       MessageType = "SYSTEM"
	TypeError        MessageType = "ERROR"
	TypeChatMessage  MessageType = "CHAT_MESSAGE"
	TypePlayerJoined MessageType = "PLAYER_JOINED"
	TypePlayerLeft   MessageType = "PLAYER_LEFT"
	TypeGameStart    MessageType = "GAME_START"
	TypeGameEnd      MessageType = "GAME_END"
)

// Wire reason codes carried in ERROR payloads.
const (
	ReasonBadEnvelope      = "bad_envelope"
	ReasonUnknownType      = "unknown_type"
	ReasonNotAuthenticated = "not_authenticated"
	ReasonInvalidName      = "invalid_name"
	ReasonInvalidToken     = "invalid_token"
	ReasonSessionNotFound  = "session_not_found"
	ReasonSessionFull      = "session_full"
	ReasonInvalidState     = "invalid_state"
	ReasonNotInSession     = "not_in_session"
	ReasonAlreadyInSession = "already_in_session"
	ReasonUnknownAction    = "unknown_action"
	ReasonInvalidAction    = "invalid_action"
	ReasonBudgetExhausted  = "budget_exhausted"
	ReasonDeadActor        = "dead_actor"
	ReasonReconnectExpired = "reconnect_expired"
	ReasonInternal         = "internal_error"
)

// ErrEmptyType reports an envelope without a message type.
var ErrEmptyType = errors.New("envelope type must not be empty")

// Envelope is the frame every message travels in.
type Envelope struct {
	Type MessageType `json:"type"`
	// Payload holds the type-specific body, still encoded.
	Payload json.RawMessage `json:"payload,omitempty"`
	// RequestID, when set by a client, is echoed on the direct reply.
	RequestID string `json:"request_id,omitempty"`
}

// Decode parses one wire frame into an envelope.
//
// Postcondition: Returns an envelope with a non-empty Type, or an error.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// DecodePayload unmarshals the envelope's payload into v. A missing payload
// decodes every field to its zero value.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode builds one wire frame from a message type, payload value, and
// optional request id to echo.
func Encode(t MessageType, payload any, requestID string) ([]byte, error) {
	env := Envelope{Type: t, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", t, err)
	}
	return data, nil
}

// Droppable reports whether a message of this type may be discarded when a
// connection's outbox overflows. State-bearing and lifecycle messages are
// never droppable; a client that misses one must not be left diverged.
func Droppable(t MessageType) bool {
	return t == TypeChatMessage || t == TypeSystem
}

// AuthRequest asks for a player identity.
type AuthRequest struct {
	DisplayName string `json:"display_name"`
}

// AuthSuccessPayload confirms authentication.
type AuthSuccessPayload struct {
	PlayerID string `json:"player_id"`
	Token    string `json:"token"`
}

// AuthFailurePayload explains a rejected AUTH.
type AuthFailurePayload struct {
	Reason string `json:"reason"`
}

// JoinGameRequest asks to join an existing session.
type JoinGameRequest struct {
	SessionID string `json:"session_id"`
}

// ReadyRequest toggles the sender's lobby ready flag. The flag is explicit
// in both directions; there is no bare "ready" shorthand.
type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// ActionRequest submits one game action.
type ActionRequest struct {
	ActionType string          `json:"action_type"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// ChatRequest sends a chat line to the sender's session.
type ChatRequest struct {
	Text string `json:"text"`
}

// ReconnectRequest re-binds a previously issued token to this connection.
// Sent on a fresh connection after a drop, or on a live connection to
// request a full-state resync.
type ReconnectRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// ErrorPayload reports a rejected message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RoundInfo summarizes the round counters at a revision.
type RoundInfo struct {
	Number       int `json:"number"`
	ActionsTaken int `json:"actions_taken"`
	Budget       int `json:"budget"`
}

// RosterEntry is one player's standing in a session.
type RosterEntry struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready,omitempty"`
}

// ChatMessagePayload is one delivered chat line.
type ChatMessagePayload struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// StatePayload is a full snapshot of one session as seen by clients.
type StatePayload struct {
	SessionID string               `json:"session_id"`
	Status    string               `json:"status"`
	Revision  uint64               `json:"revision"`
	Round     RoundInfo            `json:"round"`
	Entities  []game.Entity        `json:"entities"`
	Players   []RosterEntry        `json:"players"`
	Floor     *game.Floor          `json:"floor,omitempty"`
	Chat      []ChatMessagePayload `json:"chat,omitempty"`
	GameOver  bool                 `json:"game_over,omitempty"`
	Result    string               `json:"result,omitempty"`
}

// DeltaPayload is an incremental update between two consecutive revisions.
type DeltaPayload struct {
	SessionID string `json:"session_id"`
	delta.Delta
	Round  RoundInfo `json:"round"`
	Events []string  `json:"events,omitempty"`
}

// SystemPayload is a broadcast notice about session or server lifecycle.
type SystemPayload struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// PlayerJoinedPayload announces a roster addition.
type PlayerJoinedPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// PlayerLeftPayload announces a roster departure or a drop.
type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	// Reason is "left", "disconnected", or "timeout".
	Reason string `json:"reason"`
}

// GameStartPayload announces the lobby-to-active transition.
type GameStartPayload struct {
	SessionID string `json:"session_id"`
	Seed      int64  `json:"seed"`
}

// GameEndPayload announces the end of a run.
type GameEndPayload struct {
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	Rounds    int    `json:"rounds"`
}
