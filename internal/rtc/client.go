package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/roomapi"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// ErrNotConnected is returned by operations that need a live room session.
var ErrNotConnected = errors.New("rtc: not connected to a room")

// ClientOptions configures the room client.
type ClientOptions struct {
	// SignalURL is the relay's websocket endpoint, e.g. ws://host/signal.
	SignalURL string
	Self      signaling.Participant

	Factory  TransportFactory
	Capture  CaptureDevice
	Playback PlaybackSink

	// RoomAPI, when set, is called around connect and disconnect to keep
	// room membership in sync.
	RoomAPI *roomapi.Client

	NegotiationTimeout time.Duration

	// MicOnJoin activates the microphone as part of Connect for speakers,
	// so membership events observed at join time already find a local
	// stream and this side initiates.
	MicOnJoin bool

	Logger *slog.Logger

	// OnSessionClosed is invoked when a session ends, with nil on local
	// disconnect and the cause when the signaling channel was lost.
	OnSessionClosed func(err error)
}

// Client is the room orchestrator: Connect, Disconnect, ToggleMic.
type Client struct {
	opts ClientOptions
	log  *slog.Logger

	mu      sync.Mutex
	session *Session
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.SignalURL == "" {
		return nil, errors.New("rtc: signal url is required")
	}
	if opts.Self.ID == "" {
		return nil, errors.New("rtc: self participant id is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("rtc: transport factory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{opts: opts, log: log}, nil
}

// Connect joins the room and starts the session. Connecting to the room the
// client is already in is a no-op; connecting to a different room first
// disconnects from the current one.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.session; s != nil {
		if s.RoomID() == roomID && alive(s) {
			return nil
		}
		c.disconnectLocked()
	}

	if c.opts.RoomAPI != nil {
		if err := c.opts.RoomAPI.Join(ctx, roomID, c.opts.Self.ID); err != nil {
			return fmt.Errorf("rtc: join room %s: %w", roomID, err)
		}
	}

	channel, err := signaling.Dial(ctx, signaling.DialOptions{
		URL:         c.opts.SignalURL,
		RoomID:      roomID,
		SelfID:      c.opts.Self.ID,
		DisplayName: c.opts.Self.DisplayName,
		Role:        c.opts.Self.Role,
		Logger:      c.log,
	})
	if err != nil {
		return fmt.Errorf("rtc: open signaling channel: %w", err)
	}

	session := NewSession(SessionConfig{
		RoomID:             roomID,
		SelfID:             c.opts.Self.ID,
		Role:               c.opts.Self.Role,
		Channel:            channel,
		Factory:            c.opts.Factory,
		Capture:            c.opts.Capture,
		Playback:           c.opts.Playback,
		NegotiationTimeout: c.opts.NegotiationTimeout,
		Logger:             c.log,
		OnClosed:           c.opts.OnSessionClosed,
	})

	// Activate before the session consumes membership events, so joins
	// already in flight see a local stream and get an offer.
	if c.opts.MicOnJoin && c.opts.Self.Role == signaling.RoleSpeaker {
		if _, err := session.Mic().Activate(ctx); err != nil {
			_ = session.Close()
			return err
		}
	}

	session.Start()
	c.session = session
	c.log.Info("connected to room", "room", roomID, "self", c.opts.Self.ID)
	return nil
}

// Disconnect leaves the current room, tearing down every peer connection
// and the signaling channel. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	_ = s.Close()

	if c.opts.RoomAPI != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.opts.RoomAPI.Leave(ctx, s.RoomID(), c.opts.Self.ID); err != nil {
			c.log.Warn("leaving room failed", "room", s.RoomID(), "err", err)
		}
	}
}

// ToggleMic flips the microphone: active becomes muted, muted becomes
// active. Each successful toggle broadcasts exactly one mic_status.
func (c *Client) ToggleMic(ctx context.Context) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	mic := s.Mic()
	if mic.IsActive() {
		return mic.Deactivate()
	}
	_, err := mic.Activate(ctx)
	return err
}

// MicActive reports whether the local microphone is live.
func (c *Client) MicActive() bool {
	s := c.currentSession()
	return s != nil && s.Mic().IsActive()
}

// Room returns the connected room id, or "".
func (c *Client) Room() string {
	s := c.currentSession()
	if s == nil {
		return ""
	}
	return s.RoomID()
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	s := c.currentSession()
	return s != nil && alive(s)
}

// Peers reports the current session's registry, or nil when disconnected.
func (c *Client) Peers() []PeerInfo {
	s := c.currentSession()
	if s == nil {
		return nil
	}
	return s.Peers()
}

// Done exposes the current session's completion channel; nil when
// disconnected.
func (c *Client) Done() <-chan struct{} {
	s := c.currentSession()
	if s == nil {
		return nil
	}
	return s.Done()
}

func (c *Client) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func alive(s *Session) bool {
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}
