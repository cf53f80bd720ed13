package player

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ErrInvalidName reports a display name that fails validation.
var ErrInvalidName = errors.New("invalid display name")

// Display name bounds, in runes.
const (
	MinNameLen = 2
	MaxNameLen = 24
)

// Session tracks one authenticated player: identity, reconnect token, the
// game session they belong to, and the outbox bound to their current
// connection. Identity fields are immutable after creation; the mutable
// binding state is guarded for concurrent use.
type Session struct {
	// PlayerID is the unique player identifier.
	PlayerID string
	// Token authenticates reconnects. It is a bearer credential: hand it
	// only to the connection that authenticated, never log it.
	Token string
	// DisplayName is the name shown to other players.
	DisplayName string

	mu        sync.Mutex
	gameID    string
	connected bool
	deadline  time.Time
	outbox    *Outbox
}

// GameID returns the owning game session id, or "" when not in one.
func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// SetGameID records the owning game session.
func (s *Session) SetGameID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameID = id
}

// ClearGame detaches the player from their game session.
func (s *Session) ClearGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameID = ""
}

// Connected reports whether a live connection is bound.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Deadline returns the reconnect deadline. Zero when connected.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// DeadlineExpired reports whether the player is disconnected and past their
// reconnect deadline.
func (s *Session) DeadlineExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.connected && !s.deadline.IsZero() && now.After(s.deadline)
}

// BindConnection attaches a fresh connection's outbox, replacing and closing
// any previous one, and marks the player connected.
//
// Precondition: o must be non-nil.
func (s *Session) BindConnection(o *Outbox) {
	s.mu.Lock()
	prev := s.outbox
	s.outbox = o
	s.connected = true
	s.deadline = time.Time{}
	s.mu.Unlock()

	if prev != nil && prev != o {
		prev.Close()
	}
}

// MarkDisconnected records a dropped connection and the deadline by which
// the player must reconnect. The outbox is closed and unbound.
//
// Postcondition: Connected reports false; pushes become silent no-ops.
func (s *Session) MarkDisconnected(deadline time.Time) {
	s.mu.Lock()
	o := s.outbox
	s.outbox = nil
	s.connected = false
	s.deadline = deadline
	s.mu.Unlock()

	if o != nil {
		o.Close()
	}
}

// Owns reports whether o is the currently bound outbox. A connection uses
// it on close to tell being superseded by a reconnect apart from a real
// drop.
func (s *Session) Owns(o *Outbox) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox == o
}

// Push delivers a frame to the player's current connection. Pushing to a
// disconnected player is a silent no-op; their state arrives as a full
// snapshot on reconnect. An undeliverable outbox is closed, severing the
// connection behind it.
func (s *Session) Push(f Frame) error {
	s.mu.Lock()
	o := s.outbox
	s.mu.Unlock()

	if o == nil {
		return nil
	}
	err := o.Push(f)
	if errors.Is(err, ErrUndeliverable) {
		o.Close()
	}
	return err
}

// ValidateDisplayName checks length and charset.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidName.
func ValidateDisplayName(name string) error {
	runes := []rune(name)
	if len(runes) < MinNameLen || len(runes) > MaxNameLen {
		return fmt.Errorf("%w: must be %d-%d characters, got %d",
			ErrInvalidName, MinNameLen, MaxNameLen, len(runes))
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: must not begin or end with whitespace", ErrInvalidName)
	}
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '-', '_', '\'':
			continue
		}
		return fmt.Errorf("%w: character %q not allowed", ErrInvalidName, r)
	}
	return nil
}

// Registry issues player identities and resolves them by id or token.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Session
	byToken map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*Session),
		byToken: make(map[string]*Session),
	}
}

// Authenticate validates the display name and issues a new identity with a
// fresh reconnect token.
//
// Postcondition: Returns a registered Session, or an error wrapping
// ErrInvalidName.
func (r *Registry) Authenticate(displayName string) (*Session, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}

	sess := &Session{
		PlayerID:    uuid.NewString(),
		Token:       uuid.NewString(),
		DisplayName: displayName,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sess.PlayerID] = sess
	r.byToken[sess.Token] = sess
	return sess, nil
}

// ByID returns the session for the given player id.
//
// Postcondition: Returns (session, true) if found, or (nil, false).
func (r *Registry) ByID(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// ByToken returns the session for the given reconnect token.
//
// Postcondition: Returns (session, true) if found, or (nil, false).
func (r *Registry) ByToken(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byToken[token]
	return sess, ok
}

// Remove forgets an identity. Used when a player with no game session
// disconnects; players in a session keep their identity for reconnection.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byID[id]; ok {
		delete(r.byToken, sess.Token)
		delete(r.byID, id)
	}
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
