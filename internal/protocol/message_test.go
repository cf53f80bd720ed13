package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/crawld/internal/delta"
	"github.com/cory-johannsen/crawld/internal/game"
)

func TestDecodeValidEnvelope(t *testing.T) {
	env, err := Decode([]byte(`{"type":"AUTH","payload":{"display_name":"Brynn"},"request_id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, env.Type)
	assert.Equal(t, "r1", env.RequestID)

	var req AuthRequest
	require.NoError(t, env.DecodePayload(&req))
	assert.Equal(t, "Brynn", req.DisplayName)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDecodeEmptyType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrEmptyType)
}

func TestDecodePayloadMissing(t *testing.T) {
	env, err := Decode([]byte(`{"type":"CREATE_GAME"}`))
	require.NoError(t, err)

	var req JoinGameRequest
	require.NoError(t, env.DecodePayload(&req))
	assert.Empty(t, req.SessionID)
}

func TestDecodePayloadWrongShape(t *testing.T) {
	env, err := Decode([]byte(`{"type":"ACTION","payload":[1,2,3]}`))
	require.NoError(t, err)

	var req ActionRequest
	assert.Error(t, env.DecodePayload(&req))
}

func TestEncodeEchoesRequestID(t *testing.T) {
	data, err := Encode(TypeError, ErrorPayload{Code: ReasonInvalidAction, Message: "blocked"}, "req-7")
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "req-7", env.RequestID)

	var ep ErrorPayload
	require.NoError(t, env.DecodePayload(&ep))
	assert.Equal(t, ReasonInvalidAction, ep.Code)
	assert.Equal(t, "blocked", ep.Message)
}

func TestEncodeNilPayloadOmitsField(t *testing.T) {
	data, err := Encode(TypeLeaveGame, nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LEAVE_GAME"}`, string(data))
}

func TestDroppable(t *testing.T) {
	assert.True(t, Droppable(TypeChatMessage))
	assert.True(t, Droppable(TypeSystem))

	for _, critical := range []MessageType{
		TypeState, TypeDelta, TypeError,
		TypeAuthSuccess, TypeAuthFailure,
		TypePlayerJoined, TypePlayerLeft,
		TypeGameStart, TypeGameEnd,
	} {
		assert.False(t, Droppable(critical), "%s must never be dropped", critical)
	}
}

// Delta fields sit at the top level of the DELTA payload so clients read
// base_revision and new_revision without an extra nesting hop.
func TestDeltaPayloadFlattensRevisions(t *testing.T) {
	hp := 4
	p := DeltaPayload{
		SessionID: "s1",
		Delta: delta.Delta{
			BaseRevision: 3,
			NewRevision:  4,
			Changes:      []delta.Change{{ID: "p1", Fields: &delta.Fields{HP: &hp}}},
		},
		Round: RoundInfo{Number: 2, ActionsTaken: 1, Budget: 4},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var flat map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Contains(t, flat, "base_revision")
	assert.Contains(t, flat, "new_revision")
	assert.Contains(t, flat, "changes")
	assert.Contains(t, flat, "round")
	assert.NotContains(t, flat, "delta")
}

func TestStatePayloadCarriesEntitiesAndFloor(t *testing.T) {
	p := StatePayload{
		SessionID: "s1",
		Status:    "active",
		Revision:  1,
		Round:     RoundInfo{Number: 1, Budget: 4},
		Entities: []game.Entity{
			{ID: "p1", Kind: game.KindPlayer, Name: "Brynn", HP: 10, MaxHP: 10},
		},
		Players: []RosterEntry{{PlayerID: "p1", Name: "Brynn", Connected: true}},
		Floor:   &game.Floor{Name: "catacombs", Width: 2, Height: 1, Tiles: []string{".."}},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded StatePayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Entities, 1)
	assert.Equal(t, "p1", decoded.Entities[0].ID)
	require.NotNil(t, decoded.Floor)
	assert.Equal(t, "catacombs", decoded.Floor.Name)
}

// Property-based tests

func TestPropertyEnvelopeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msgType := rapid.SampledFrom([]MessageType{
			TypeAuth, TypeAction, TypeState, TypeDelta, TypeError, TypeChat,
		}).Draw(t, "type")
		reqID := rapid.StringMatching(`[a-z0-9-]{0,12}`).Draw(t, "request_id")
		text := rapid.StringMatching(`[ -~]{0,32}`).Draw(t, "text")

		data, err := Encode(msgType, ChatRequest{Text: text}, reqID)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		env, err := Decode(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if env.Type != msgType || env.RequestID != reqID {
			t.Fatalf("envelope diverged: %+v", env)
		}
		var req ChatRequest
		if err := env.DecodePayload(&req); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if req.Text != text {
			t.Fatalf("payload diverged: %q != %q", req.Text, text)
		}
	})
}
