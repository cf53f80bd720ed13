// Package gateway terminates client connections: it upgrades WebSocket
// requests, runs the per-connection read and write pumps, authenticates
// players, and dispatches typed messages into the session layer. Errors stop
// here; anything a client does wrong becomes an ERROR frame on its own
// connection, never a failure inside the shared mutation pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/config"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
	"github.com/cory-johannsen/crawld/internal/session"
)

// Handler processes one inbound envelope on a connection. A returned error
// is mapped to a wire reason code and sent back as an ERROR frame echoing
// the envelope's request id; the connection stays open.
type Handler func(c *Conn, env protocol.Envelope) error

// Gateway is the WebSocket front door. It implements server.Service.
type Gateway struct {
	logger   *zap.Logger
	cfg      config.Config
	registry *player.Registry
	sessions *session.Manager
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	hmu      sync.RWMutex
	handlers map[protocol.MessageType]Handler

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	started time.Time
}

// New builds a gateway with the full message vocabulary registered.
//
// Precondition: registry and sessions must be non-nil.
func New(cfg config.Config, registry *player.Registry, sessions *session.Manager, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		logger:   logger,
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native apps, not browsers; origin carries no trust.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		handlers: make(map[protocol.MessageType]Handler),
		conns:    make(map[*Conn]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", g.handleWS)
	router.HandleFunc("/healthz", g.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/sessions", g.handleSessions).Methods(http.MethodGet)
	g.httpSrv = &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	g.registerDefaults()
	return g
}

// Register adds a handler for a message type. Returns an error on a
// duplicate registration; the built-in vocabulary is registered by New.
func (g *Gateway) Register(t protocol.MessageType, h Handler) error {
	if t == "" {
		return errors.New("message type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for message type %q must not be nil", t)
	}
	g.hmu.Lock()
	defer g.hmu.Unlock()
	if _, exists := g.handlers[t]; exists {
		return fmt.Errorf("duplicate message type: %q", t)
	}
	g.handlers[t] = h
	return nil
}

func (g *Gateway) registerDefaults() {
	for t, h := range map[protocol.MessageType]Handler{
		protocol.TypeAuth:       g.handleAuth,
		protocol.TypeCreateGame: g.handleCreateGame,
		protocol.TypeJoinGame:   g.handleJoinGame,
		protocol.TypeLeaveGame:  g.handleLeaveGame,
		protocol.TypeReady:      g.handleReady,
		protocol.TypeAction:     g.handleAction,
		protocol.TypeChat:       g.handleChat,
		protocol.TypeReconnect:  g.handleReconnect,
	} {
		if err := g.Register(t, h); err != nil {
			panic(fmt.Sprintf("registering built-in handler: %v", err))
		}
	}
}

// Start runs the HTTP listener until Stop is called. Implements
// server.Service.
func (g *Gateway) Start() error {
	g.mu.Lock()
	g.started = time.Now()
	g.mu.Unlock()
	g.logger.Info("gateway listening", zap.String("addr", g.httpSrv.Addr))
	if err := g.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listener: %w", err)
	}
	return nil
}

// Stop closes the listener, then severs every live connection. Upgraded
// sockets are hijacked from the HTTP server, so Shutdown alone would leave
// them running.
func (g *Gateway) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := g.httpSrv.Shutdown(ctx); err != nil {
		g.logger.Warn("gateway shutdown", zap.Error(err))
	}

	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	g.logger.Info("gateway stopped", zap.Int("connections_closed", len(conns)))
}

// handleWS upgrades the request and runs the connection until it drops.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	c := newConn(g, ws)
	g.track(c)
	defer g.untrack(c)
	c.serve()
}

func (g *Gateway) track(c *Conn) {
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}

// ConnCount reports the number of live connections.
func (g *Gateway) ConnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// dispatch routes one decoded envelope. Everything except AUTH and RECONNECT
// requires an authenticated connection; RECONNECT authenticates by token.
func (g *Gateway) dispatch(c *Conn, env protocol.Envelope) {
	g.hmu.RLock()
	h, ok := g.handlers[env.Type]
	g.hmu.RUnlock()
	if !ok {
		c.sendError(env.RequestID, protocol.ReasonUnknownType,
			fmt.Sprintf("unknown message type %q", env.Type))
		return
	}
	if c.Player() == nil && env.Type != protocol.TypeAuth && env.Type != protocol.TypeReconnect {
		c.sendError(env.RequestID, protocol.ReasonNotAuthenticated,
			"authenticate before sending anything else")
		return
	}
	if err := h(c, env); err != nil {
		code := reasonFor(err)
		if code == protocol.ReasonInternal {
			c.logger.Error("handler failed",
				zap.String("type", string(env.Type)),
				zap.Error(err),
			)
		}
		c.sendError(env.RequestID, code, err.Error())
	}
}

type healthPayload struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Players     int    `json:"players"`
	Connections int    `json:"connections"`
	UptimeSec   int64  `json:"uptime_seconds"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	sessions, players := g.sessions.Counts()
	g.mu.Lock()
	started := g.started
	conns := len(g.conns)
	g.mu.Unlock()
	respondJSON(w, http.StatusOK, healthPayload{
		Status:      "ok",
		Sessions:    sessions,
		Players:     players,
		Connections: conns,
		UptimeSec:   int64(time.Since(started).Seconds()),
	})
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, g.sessions.Infos())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
