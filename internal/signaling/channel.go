package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	incomingBuffer = 32
	outgoingBuffer = 32
)

// ErrChannelClosed is returned by Send once the channel is closed or the
// underlying transport has failed. The room session is unusable until the
// caller reconnects.
var ErrChannelClosed = errors.New("signaling: channel closed")

// Channel is a persistent bidirectional message transport between a
// participant and the room-scoped relay.
//
// Incoming is closed when the transport fails or Close is called; consumers
// treat that as a session-level connection loss, not a per-peer failure.
type Channel interface {
	Send(msg Message) error
	Incoming() <-chan Message
	Close() error
}

// DialOptions identifies the participant to the relay.
type DialOptions struct {
	// URL is the relay's websocket endpoint, e.g. ws://host:port/signal.
	URL         string
	RoomID      string
	SelfID      string
	DisplayName string
	Role        Role

	Logger *slog.Logger
}

// WSChannel is the gorilla/websocket implementation of Channel.
type WSChannel struct {
	conn     *websocket.Conn
	log      *slog.Logger
	incoming chan Message
	outgoing chan Message
	done     chan struct{}

	closeOnce sync.Once
}

var _ Channel = (*WSChannel)(nil)

// Dial opens the signaling channel for a room. The relay reacts by
// broadcasting participant_joined to the room and replaying existing members
// to the new connection.
func Dial(ctx context.Context, opts DialOptions) (*WSChannel, error) {
	if opts.RoomID == "" || opts.SelfID == "" {
		return nil, errors.New("signaling: room id and self id are required")
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("signaling: invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", opts.RoomID)
	q.Set("peer", opts.SelfID)
	if opts.DisplayName != "" {
		q.Set("name", opts.DisplayName)
	}
	if opts.Role != "" {
		q.Set("role", string(opts.Role))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial relay: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &WSChannel{
		conn:     conn,
		log:      log.With("room", opts.RoomID),
		incoming: make(chan Message, incomingBuffer),
		outgoing: make(chan Message, outgoingBuffer),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send queues msg for delivery to the relay. It fails with ErrChannelClosed
// once the channel is closed.
func (c *WSChannel) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Incoming returns the stream of relay-forwarded messages. The channel is
// closed when the transport goes away.
func (c *WSChannel) Incoming() <-chan Message {
	return c.incoming
}

// Close tears down the transport. Safe to call more than once.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *WSChannel) readPump() {
	defer func() {
		_ = c.Close()
		_ = c.conn.Close()
		close(c.incoming)
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("signaling read failed", "err", err)
			}
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
