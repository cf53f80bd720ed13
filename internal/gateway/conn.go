package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
)

// Conn is one client connection: the socket, its bounded outbox, and the
// player identity bound to it after AUTH or RECONNECT. The read pump runs on
// the upgrade goroutine; the write pump runs alongside it and owns all
// writes to the socket.
type Conn struct {
	gw     *Gateway
	ws     *websocket.Conn
	outbox *player.Outbox
	logger *zap.Logger

	mu        sync.Mutex
	player    *player.Session
	authTimer *time.Timer
}

func newConn(g *Gateway, ws *websocket.Conn) *Conn {
	return &Conn{
		gw:     g,
		ws:     ws,
		outbox: player.NewOutbox(g.cfg.Gateway.OutboxSize),
		logger: g.logger.With(zap.String("remote", ws.RemoteAddr().String())),
	}
}

// Player returns the bound identity, or nil before authentication.
func (c *Conn) Player() *player.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// bindPlayer records the authenticated identity and cancels the pre-auth
// countdown.
func (c *Conn) bindPlayer(p *player.Session) {
	c.mu.Lock()
	c.player = p
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()
}

// serve runs the connection to completion: write pump in the background,
// read pump in the foreground, then teardown. The pre-auth countdown severs
// connections that never identify themselves.
func (c *Conn) serve() {
	c.mu.Lock()
	c.authTimer = time.AfterFunc(c.gw.cfg.Gateway.AuthWindow, func() {
		if c.Player() == nil {
			c.logger.Info("closing unauthenticated connection",
				zap.Duration("auth_window", c.gw.cfg.Gateway.AuthWindow),
			)
			c.close()
		}
	})
	c.mu.Unlock()

	c.logger.Debug("connection opened")
	go c.writePump()
	c.readPump()
	c.teardown()
}

// teardown runs once the read pump exits. The outbox close stops the write
// pump; the disconnect notification travels into the player's session, which
// decides whether this drop matters or was superseded by a reconnect.
func (c *Conn) teardown() {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	p := c.player
	c.mu.Unlock()

	c.outbox.Close()
	_ = c.ws.Close()

	if p == nil {
		c.logger.Debug("unauthenticated connection closed")
		return
	}
	if p.GameID() != "" {
		c.gw.sessions.Disconnect(p, c.outbox)
	} else if p.Owns(c.outbox) {
		// An idle identity has nothing to reconnect to; forget it.
		p.MarkDisconnected(time.Time{})
		c.gw.registry.Remove(p.PlayerID)
	}
	c.logger.Info("connection closed", zap.String("player_id", p.PlayerID))
}

// close severs the connection from outside the pumps: the socket close makes
// the read pump return, which runs teardown.
func (c *Conn) close() {
	_ = c.ws.Close()
}

// readPump decodes inbound frames and dispatches them until the socket
// drops. Malformed frames earn an ERROR reply and the loop continues; only
// transport errors end the connection.
func (c *Conn) readPump() {
	cfg := c.gw.cfg.Gateway
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.sendError("", protocol.ReasonBadEnvelope, err.Error())
			continue
		}
		c.gw.dispatch(c, env)
	}
}

// writePump drains the outbox onto the socket and keeps the peer alive with
// periodic pings. It is the only writer to the socket.
func (c *Conn) writePump() {
	cfg := c.gw.cfg.Gateway
	ticker := time.NewTicker(cfg.PingInterval())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.outbox.Ready():
			for {
				f, ok := c.outbox.TryNext()
				if !ok {
					break
				}
				_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
				if err := c.ws.WriteMessage(websocket.TextMessage, f.Data); err != nil {
					c.logger.Debug("write failed", zap.Error(err))
					return
				}
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.outbox.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// send encodes and queues one message for this connection.
func (c *Conn) send(t protocol.MessageType, payload any, requestID string) {
	data, err := protocol.Encode(t, payload, requestID)
	if err != nil {
		c.logger.Error("encoding message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if err := c.outbox.Push(player.Frame{Data: data, Droppable: protocol.Droppable(t)}); err != nil {
		c.logger.Debug("frame not queued", zap.String("type", string(t)), zap.Error(err))
	}
}

// sendError queues an ERROR frame echoing requestID.
func (c *Conn) sendError(requestID, code, message string) {
	c.send(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message}, requestID)
}
