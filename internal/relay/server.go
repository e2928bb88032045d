package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/origin"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// ServerConfig carries the per-connection hardening knobs.
type ServerConfig struct {
	AllowedOrigins       []string
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// WithDefaults fills zero values with safe defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.WSIdleTimeout <= 0 {
		c.WSIdleTimeout = 60 * time.Second
	}
	if c.WSPingInterval <= 0 {
		c.WSPingInterval = 20 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = 50
	}
	return c
}

// Server upgrades signaling connections and hands them to the hub.
//
// Clients identify themselves with query parameters:
//
//	GET /signal?room=<room_id>&peer=<peer_id>&name=<display_name>&role=<speaker|listener>
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.WithDefaults()
	s := &Server{
		hub: hub,
		cfg: cfg,
		log: log,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Native clients send no Origin header and are always admitted.
			return origin.Allowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return s
}

// RegisterRoutes mounts the signaling endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /signal", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room")
	peerID := q.Get("peer")
	if roomID == "" || peerID == "" {
		s.hub.m.Inc(metrics.ConnectionsRejected)
		http.Error(w, "room and peer query parameters are required", http.StatusBadRequest)
		return
	}

	role := signaling.RoleListener
	if raw := q.Get("role"); raw != "" {
		parsed, err := signaling.ParseRole(raw)
		if err != nil {
			s.hub.m.Inc(metrics.ConnectionsRejected)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		role = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.m.Inc(metrics.ConnectionsRejected)
		return
	}

	c := newClient(s.hub, conn, roomID, signaling.Participant{
		ID:          peerID,
		DisplayName: q.Get("name"),
		Role:        role,
	}, s.cfg)

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		writeClose(conn, websocket.CloseGoingAway, "relay shutting down")
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
