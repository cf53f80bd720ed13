package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/config"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// Manager owns every live session: creation, lookup, join routing, and the
// periodic sweep that expires disconnect deadlines and evicts finished
// sessions. It runs as a lifecycle service alongside the gateway.
type Manager struct {
	logger *zap.Logger
	cfg    config.SessionConfig
	deps   Deps
	codec  *protocol.Codec

	mu       sync.RWMutex
	sessions map[string]*GameSession

	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewManager builds a manager. The codec decides which action types
// sessions accept; deps supplies their world-building collaborators.
func NewManager(cfg config.SessionConfig, deps Deps, codec *protocol.Codec, logger *zap.Logger) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		deps:     deps,
		codec:    codec,
		sessions: make(map[string]*GameSession),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Create builds a session, starts its loop, and seats the owner in its
// lobby. The owner's snapshot reply echoes requestID.
func (m *Manager) Create(owner *player.Session, requestID string) (*GameSession, error) {
	if owner.GameID() != "" {
		return nil, ErrAlreadyInSession
	}
	id := uuid.NewString()
	g, err := newGameSession(id, m.cfg, m.deps, m.codec, m.logger, m.remove)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = g
	m.mu.Unlock()
	go g.run()
	if err := g.Join(owner, requestID); err != nil {
		// A fresh lobby cannot refuse its owner; if it does, drop it.
		g.Shutdown()
		return nil, err
	}
	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("owner", owner.PlayerID),
	)
	return g, nil
}

// Join routes a player into an existing session's lobby.
func (m *Manager) Join(sessionID string, p *player.Session, requestID string) (*GameSession, error) {
	if p.GameID() != "" {
		return nil, ErrAlreadyInSession
	}
	g, ok := m.Lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := g.Join(p, requestID); err != nil {
		return nil, err
	}
	return g, nil
}

// Reconnect rebinds an authenticated identity to a new connection's outbox
// and resynchronizes it with a full snapshot.
func (m *Manager) Reconnect(sessionID string, p *player.Session, o *player.Outbox, requestID string) (*GameSession, error) {
	g, ok := m.Lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := g.Reconnect(p, o, requestID); err != nil {
		return nil, err
	}
	return g, nil
}

// Leave removes the player from their current session.
func (m *Manager) Leave(p *player.Session, requestID string) error {
	g, ok := m.ForPlayer(p)
	if !ok {
		return ErrNotInSession
	}
	return g.Leave(p, requestID)
}

// Disconnect reports a dropped connection to the player's session, if any.
func (m *Manager) Disconnect(p *player.Session, o *player.Outbox) {
	if g, ok := m.ForPlayer(p); ok {
		g.Disconnect(p, o)
	}
}

// Lookup returns the session with the given id.
func (m *Manager) Lookup(id string) (*GameSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.sessions[id]
	return g, ok
}

// ForPlayer returns the session the player currently belongs to.
func (m *Manager) ForPlayer(p *player.Session) (*GameSession, bool) {
	id := p.GameID()
	if id == "" {
		return nil, false
	}
	return m.Lookup(id)
}

// Counts reports live sessions and seated players, for the status endpoint.
func (m *Manager) Counts() (sessions, players int) {
	list := m.snapshot()
	for _, g := range list {
		players += g.Info().Members
	}
	return len(list), players
}

// Infos reports a point-in-time view of every live session, ordered by id.
func (m *Manager) Infos() []Info {
	list := m.snapshot()
	infos := make([]Info, 0, len(list))
	for _, g := range list {
		infos = append(infos, g.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) snapshot() []*GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*GameSession, 0, len(m.sessions))
	for _, g := range m.sessions {
		list = append(list, g)
	}
	return list
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Start runs the sweep loop until Stop is called. Implements
// server.Service.
func (m *Manager) Start() error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.stopped)
	for {
		select {
		case <-ticker.C:
			for _, g := range m.snapshot() {
				g.Sweep()
			}
		case <-m.stop:
			return nil
		}
	}
}

// Stop halts the sweep loop and tears every session down, waiting for
// their loops to exit so shutdown logging reflects reality.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.stopped
	for _, g := range m.snapshot() {
		g.Shutdown()
		<-g.Done()
	}
}
