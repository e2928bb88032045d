package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/ratelimit"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

const (
	writeWait = 10 * time.Second

	// sendBuffer bounds queued outbound messages per connection; overflow is
	// dropped by the hub rather than blocking the room.
	sendBuffer = 64
)

// client is one websocket connection in one room. The hub owns membership;
// the pumps own the connection.
type client struct {
	hub         *Hub
	conn        *websocket.Conn
	roomID      string
	participant signaling.Participant

	send chan signaling.Message

	idleTimeout  time.Duration
	pingInterval time.Duration
	maxBytes     int64
	limiter      *ratelimit.TokenBucket
}

func newClient(h *Hub, conn *websocket.Conn, roomID string, p signaling.Participant, cfg ServerConfig) *client {
	rate := int64(cfg.MaxMessagesPerSecond)
	return &client{
		hub:          h,
		conn:         conn,
		roomID:       roomID,
		participant:  p,
		send:         make(chan signaling.Message, sendBuffer),
		idleTimeout:  cfg.WSIdleTimeout,
		pingInterval: cfg.WSPingInterval,
		maxBytes:     cfg.MaxMessageBytes,
		limiter:      ratelimit.NewTokenBucket(nil, rate, rate),
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		if !c.limiter.Allow(1) {
			c.hub.m.IncDrop(metrics.DropReasonRateLimited)
			writeClose(c.conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		select {
		case c.hub.forward <- inbound{from: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				writeClose(c.conn, websocket.CloseNormalClosure, "")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
