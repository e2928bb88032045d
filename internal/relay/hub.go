package relay

import (
	"context"
	"log/slog"

	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// inbound pairs a client-originated message with its sender.
type inbound struct {
	from *client
	msg  signaling.Message
}

// Hub owns all room state. A single Run goroutine processes registration,
// unregistration and message fan-out, so rooms and members are never touched
// concurrently.
type Hub struct {
	rooms map[string]map[string]*client

	register   chan *client
	unregister chan *client
	forward    chan inbound

	// done is closed when Run exits so client pumps never block on a hub
	// that is no longer draining its channels.
	done chan struct{}

	log *slog.Logger
	m   *metrics.Metrics
}

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		rooms:      make(map[string]map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		forward:    make(chan inbound),
		done:       make(chan struct{}),
		log:        log,
		m:          m,
	}
}

// Metrics exposes the hub's counter registry for scraping.
func (h *Hub) Metrics() *metrics.Metrics {
	return h.m
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case in := <-h.forward:
			h.route(in)
		case <-ctx.Done():
			for _, members := range h.rooms {
				for _, c := range members {
					close(c.send)
				}
			}
			h.rooms = make(map[string]map[string]*client)
			return
		}
	}
}

func (h *Hub) addClient(c *client) {
	members, ok := h.rooms[c.roomID]
	if !ok {
		members = make(map[string]*client)
		h.rooms[c.roomID] = members
		h.m.Inc(metrics.RoomsCreated)
		h.log.Info("room opened", "room", c.roomID)
	}

	// A reconnect under the same peer id replaces the stale connection.
	if prev, ok := members[c.participant.ID]; ok {
		h.log.Warn("replacing stale connection", "room", c.roomID, "peer", c.participant.ID)
		close(prev.send)
	}
	members[c.participant.ID] = c
	h.m.Inc(metrics.ConnectionsOpened)

	h.log.Info("participant joined",
		"room", c.roomID,
		"peer", c.participant.ID,
		"role", c.participant.Role,
	)

	joined := signaling.NewParticipantJoined(c.participant)
	for id, member := range members {
		if id == c.participant.ID {
			continue
		}
		// Existing members learn about the newcomer; the newcomer learns
		// about each existing member. Order across members is not defined.
		h.deliver(member, joined)
		h.deliver(c, signaling.NewParticipantJoined(member.participant))
	}
}

func (h *Hub) removeClient(c *client) {
	members, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	cur, ok := members[c.participant.ID]
	if !ok || cur != c {
		// Already replaced by a newer connection; nothing to announce.
		return
	}

	delete(members, c.participant.ID)
	close(c.send)
	h.m.Inc(metrics.ConnectionsClosed)

	if len(members) == 0 {
		delete(h.rooms, c.roomID)
		h.m.Inc(metrics.RoomsDeleted)
		h.log.Info("room closed", "room", c.roomID)
		return
	}

	left := signaling.NewParticipantLeft(c.participant)
	for _, member := range members {
		h.deliver(member, left)
	}
	h.log.Info("participant left", "room", c.roomID, "peer", c.participant.ID)
}

func (h *Hub) route(in inbound) {
	msg := in.msg
	msg.From = in.from.participant.ID

	switch msg.Type {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate, signaling.TypeMicStatus:
	default:
		// participant_joined/left are relay-originated; clients must not
		// inject them.
		h.m.IncDrop(metrics.DropReasonMalformed)
		h.log.Warn("dropping client message with relay-only type", "type", msg.Type, "peer", msg.From)
		return
	}

	if err := msg.Validate(); err != nil {
		h.m.IncDrop(metrics.DropReasonMalformed)
		h.log.Warn("dropping malformed message", "type", msg.Type, "peer", msg.From, "err", err)
		return
	}

	members, ok := h.rooms[in.from.roomID]
	if !ok || members[msg.From] != in.from {
		h.m.IncDrop(metrics.DropReasonNotInRoom)
		return
	}

	if msg.To != "" {
		target, ok := members[msg.To]
		if !ok {
			h.m.IncDrop(metrics.DropReasonUnknownPeer)
			h.log.Warn("dropping message for unknown peer", "type", msg.Type, "from", msg.From, "to", msg.To)
			return
		}
		h.deliver(target, msg)
		h.m.Inc(metrics.MessagesRelayed)
		return
	}

	for id, member := range members {
		if id == msg.From {
			continue
		}
		h.deliver(member, msg)
	}
	h.m.Inc(metrics.MessagesRelayed)
}

// deliver never blocks the hub loop: a member that cannot keep up loses
// messages rather than stalling the whole room.
func (h *Hub) deliver(c *client, msg signaling.Message) {
	select {
	case c.send <- msg:
	default:
		h.m.IncDrop(metrics.DropReasonSlowConsumer)
		h.log.Warn("dropping message for slow consumer", "room", c.roomID, "peer", c.participant.ID, "type", msg.Type)
	}
}
