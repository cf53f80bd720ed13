package session

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// maxChatRunes bounds a single chat line. Longer input is truncated rather
// than rejected.
const maxChatRunes = 512

// Chat relays a line to every member, the sender included, and records it
// in the session's bounded history so late joiners and reconnecting
// players see recent talk in their snapshot.
func (g *GameSession) Chat(p *player.Session, text string) error {
	return g.ask(func() error { return g.handleChat(p, text) })
}

func (g *GameSession) handleChat(p *player.Session, text string) error {
	m, ok := g.memberOf(p)
	if !ok || m.departed {
		return ErrNotInSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: chat message is empty", ErrInvalidAction)
	}
	if runes := []rune(text); len(runes) > maxChatRunes {
		text = string(runes[:maxChatRunes])
	}
	entry := protocol.ChatMessagePayload{
		PlayerID: p.PlayerID,
		Name:     p.DisplayName,
		Text:     text,
		SentAt:   g.deps.Clock().UTC(),
	}
	g.chat = append(g.chat, entry)
	if over := len(g.chat) - g.cfg.ChatHistory; over > 0 {
		g.chat = g.chat[over:]
	}
	g.broadcast(protocol.TypeChatMessage, entry)
	return nil
}
