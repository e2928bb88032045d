package rtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// SessionConfig assembles one room session.
type SessionConfig struct {
	RoomID string
	SelfID string
	Role   signaling.Role

	Channel  signaling.Channel
	Factory  TransportFactory
	Capture  CaptureDevice
	Playback PlaybackSink

	NegotiationTimeout time.Duration
	Logger             *slog.Logger

	// OnClosed reports the session's end: nil on local Close, a channel
	// error when the signaling transport went away underneath it.
	OnClosed func(err error)
}

// Session coordinates one room: it owns the peer registry, the candidate
// buffer and the mic controller, and dispatches inbound signaling to
// per-peer state machines. Messages for one peer are handled serially in
// arrival order; message handling for one peer never blocks another; the
// registry is the single lock-guarded shared state.
type Session struct {
	roomID   string
	selfID   string
	channel  signaling.Channel
	factory  TransportFactory
	playback PlaybackSink
	timeout  time.Duration
	log      *slog.Logger
	onClosed func(error)

	registry *Registry
	buffer   *CandidateBuffer
	mic      *MicController

	qmu    sync.Mutex
	queues map[string]*taskQueue

	closeOnce sync.Once
	done      chan struct{}
}

// taskQueue runs submitted functions one at a time, in submission order,
// without blocking the submitter. The worker goroutine exists only while
// tasks are pending.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func (q *taskQueue) Do(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *taskQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}

func NewSession(cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room", cfg.RoomID)

	timeout := cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}

	playback := cfg.Playback
	if playback == nil {
		playback = DiscardPlayback{}
	}

	s := &Session{
		roomID:   cfg.RoomID,
		selfID:   cfg.SelfID,
		channel:  cfg.Channel,
		factory:  cfg.Factory,
		playback: playback,
		timeout:  timeout,
		log:      log,
		onClosed: cfg.OnClosed,
		registry: NewRegistry(),
		buffer:   NewCandidateBuffer(),
		queues:   make(map[string]*taskQueue),
		done:     make(chan struct{}),
	}
	s.mic = NewMicController(cfg.Capture, cfg.Role, s.registry, cfg.Channel.Send, log)
	return s
}

// Start runs the coordinator loop until the channel closes or Close is
// called.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) RoomID() string      { return s.roomID }
func (s *Session) SelfID() string      { return s.selfID }
func (s *Session) Mic() *MicController { return s.mic }

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Peers reports the current registry contents.
func (s *Session) Peers() []PeerInfo { return s.registry.Snapshot() }

// PeerInfo reports one registry entry.
func (s *Session) PeerInfo(peerID string) (PeerInfo, bool) {
	return s.registry.Get(peerID)
}

func (s *Session) run() {
	for {
		select {
		case msg, ok := <-s.channel.Incoming():
			if !ok {
				s.teardown(fmt.Errorf("room %s: %w", s.roomID, signaling.ErrChannelClosed))
				return
			}
			s.dispatch(msg)
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(msg signaling.Message) {
	// The relay echoes broadcasts back in some topologies; anything
	// self-originated is discarded, never applied.
	if msg.From == s.selfID {
		return
	}

	switch msg.Type {
	case signaling.TypeParticipantJoined:
		p, err := msg.Participant()
		if err != nil {
			s.log.Warn("dropping malformed participant_joined", "err", err)
			return
		}
		if p.ID == s.selfID {
			return
		}
		s.onParticipantJoined(p)

	case signaling.TypeParticipantLeft:
		p, err := msg.Participant()
		if err != nil {
			s.log.Warn("dropping malformed participant_left", "err", err)
			return
		}
		if p.ID == s.selfID {
			return
		}
		s.removePeer(p.ID)

	case signaling.TypeOffer:
		desc, err := msg.Description()
		if err != nil {
			s.log.Warn("dropping malformed offer", "from", msg.From, "err", err)
			return
		}
		s.onOffer(msg.From, desc)

	case signaling.TypeAnswer:
		desc, err := msg.Description()
		if err != nil {
			s.log.Warn("dropping malformed answer", "from", msg.From, "err", err)
			return
		}
		peer, ok := s.registry.Peer(msg.From)
		if !ok {
			s.log.Warn("dropping answer with no matching connection", "from", msg.From)
			return
		}
		s.enqueue(msg.From, func() { peer.HandleRemoteAnswer(desc) })

	case signaling.TypeICECandidate:
		c, err := msg.ICECandidate()
		if err != nil {
			s.log.Warn("dropping malformed ice candidate", "from", msg.From, "err", err)
			return
		}
		if peer, ok := s.registry.Peer(msg.From); ok {
			s.enqueue(msg.From, func() { peer.AddRemoteCandidate(c) })
			return
		}
		// No connection yet; hold the candidate for whichever connection
		// to this peer comes next.
		s.buffer.Enqueue(msg.From, c)

	case signaling.TypeMicStatus:
		ms, err := msg.MicStatus()
		if err != nil {
			s.log.Warn("dropping malformed mic_status", "from", msg.From, "err", err)
			return
		}
		s.registry.SetMuted(msg.From, ms.IsMuted)

	default:
		s.log.Warn("dropping message of unknown type", "type", msg.Type, "from", msg.From)
	}
}

// onParticipantJoined records the participant and, when a local stream
// exists, initiates a connection to them. Duplicate joins are idempotent.
func (s *Session) onParticipantJoined(p signaling.Participant) {
	s.registry.Upsert(p)

	stream := s.mic.Stream()
	if stream == nil {
		// Without a local stream we are not the initiator; the peer will
		// offer to us if it has one.
		return
	}
	if existing, ok := s.registry.Peer(p.ID); ok && !terminal(existing.State()) {
		return
	}

	peer, err := s.newPeer(p.ID, true)
	if err != nil {
		s.log.Warn("creating initiator connection failed", "peer", p.ID, "err", err)
		return
	}
	s.enqueue(p.ID, func() {
		_ = peer.StartNegotiation(stream)
	})
}

// enqueue schedules fn on the sender's serial queue, so messages from one
// peer apply in the order they arrived.
func (s *Session) enqueue(peerID string, fn func()) {
	s.qmu.Lock()
	q, ok := s.queues[peerID]
	if !ok {
		q = &taskQueue{}
		s.queues[peerID] = q
	}
	s.qmu.Unlock()
	q.Do(fn)
}

func (s *Session) dropQueue(peerID string) {
	s.qmu.Lock()
	delete(s.queues, peerID)
	s.qmu.Unlock()
}

// onOffer routes an offer to the existing connection, or creates a
// responder connection for it. A live peer decides for itself whether the
// offer is glare, a renegotiation, or its first offer.
func (s *Session) onOffer(from string, desc signaling.SessionDescription) {
	if from == "" {
		s.log.Warn("dropping offer without sender")
		return
	}
	if existing, ok := s.registry.Peer(from); ok {
		if !terminal(existing.State()) {
			s.enqueue(from, func() { existing.HandleRemoteOffer(desc) })
			return
		}
		// A dead connection is replaced; tear it down first.
		s.removePeer(from)
	}

	peer, err := s.newPeer(from, false)
	if err != nil {
		s.log.Warn("creating responder connection failed", "peer", from, "err", err)
		return
	}
	s.enqueue(from, func() { peer.HandleRemoteOffer(desc) })
}

func (s *Session) newPeer(peerID string, initiator bool) (*Peer, error) {
	transport, err := s.factory.NewTransport()
	if err != nil {
		return nil, err
	}
	peer := NewPeer(PeerConfig{
		PeerID:        peerID,
		Initiator:     initiator,
		Transport:     transport,
		Buffer:        s.buffer,
		Send:          s.channel.Send,
		Timeout:       s.timeout,
		Logger:        s.log,
		OnStateChange: s.onPeerState,
		OnRemoteAudio: s.onRemoteAudio,
	})

	prev, prevStop := s.registry.Attach(peerID, peer)
	if prev != nil {
		_ = prev.Close()
	}
	if prevStop != nil {
		prevStop()
	}
	return peer, nil
}

func (s *Session) onPeerState(peerID string, state State) {
	s.registry.SetState(peerID, state)
	if state == StateFailed {
		// Failure is per peer: drop the entry, leave the rest of the room
		// alone. A retry is the caller's call.
		_, stop := s.registry.Remove(peerID)
		if stop != nil {
			stop()
		}
		s.dropQueue(peerID)
		s.log.Warn("removed failed peer", "peer", peerID)
	}
}

func (s *Session) onRemoteAudio(peerID string, audio RemoteAudio) {
	stop, err := s.playback.Play(peerID, audio)
	if err != nil {
		s.log.Warn("starting playback failed", "peer", peerID, "err", err)
		return
	}
	s.registry.SetRemoteAudio(peerID, stop)
}

func (s *Session) removePeer(peerID string) {
	peer, stop := s.registry.Remove(peerID)
	if peer != nil {
		_ = peer.Close()
	}
	if stop != nil {
		stop()
	}
	s.buffer.Clear(peerID)
	// Tasks still queued for the old connection run against a closed peer
	// and discard themselves.
	s.dropQueue(peerID)
}

// Close tears down every peer connection, releases local media and playback
// resources and closes the signaling channel. Safe to call at any point,
// including before any connection completed, and more than once.
func (s *Session) Close() error {
	s.teardown(nil)
	return nil
}

func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.mic.release()

		peers, stops := s.registry.Clear()
		for _, p := range peers {
			_ = p.Close()
		}
		for _, stop := range stops {
			stop()
		}

		_ = s.channel.Close()
		close(s.done)

		if cause != nil {
			s.log.Warn("session ended", "err", cause)
		} else {
			s.log.Info("session closed")
		}
		if s.onClosed != nil {
			s.onClosed(cause)
		}
	})
}

func terminal(s State) bool {
	return s == StateFailed || s == StateClosed
}
