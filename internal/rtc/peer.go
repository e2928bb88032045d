package rtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// State is the negotiation state of one peer connection.
type State int

const (
	StateNew State = iota
	StateOffering
	StateAwaitingOffer
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAwaitingOffer:
		return "awaiting_offer"
	case StateHaveLocalOffer:
		return "have_local_offer"
	case StateHaveRemoteOffer:
		return "have_remote_offer"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultNegotiationTimeout bounds the window from first offer to
// connectivity. A peer still pending when it expires is failed, not left
// hanging.
const DefaultNegotiationTimeout = 15 * time.Second

// PeerConfig assembles one peer state machine.
type PeerConfig struct {
	PeerID    string
	Initiator bool
	Transport Transport
	Buffer    *CandidateBuffer

	// Send delivers a signaling message to the remote peer.
	Send func(signaling.Message) error

	Timeout time.Duration
	Logger  *slog.Logger

	// OnStateChange and OnRemoteAudio are invoked outside the peer's lock
	// and may call back into the peer.
	OnStateChange func(peerID string, state State)
	OnRemoteAudio func(peerID string, audio RemoteAudio)
}

// Peer drives the offer/answer/ICE exchange with one remote participant.
// All transitions go through a single authoritative state field; results of
// asynchronous steps are discarded once the peer has moved to a terminal
// state.
type Peer struct {
	id        string
	initiator bool
	transport Transport
	buffer    *CandidateBuffer
	send      func(signaling.Message) error
	timeout   time.Duration
	log       *slog.Logger

	onStateChange func(string, State)
	onRemoteAudio func(string, RemoteAudio)

	mu             sync.Mutex
	state          State
	remoteDescSet  bool
	applying       bool
	restarted      bool
	hasRemoteAudio bool
	timer          *time.Timer
}

func NewPeer(cfg PeerConfig) *Peer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}

	p := &Peer{
		id:            cfg.PeerID,
		initiator:     cfg.Initiator,
		transport:     cfg.Transport,
		buffer:        cfg.Buffer,
		send:          cfg.Send,
		timeout:       timeout,
		log:           log.With("peer", cfg.PeerID),
		onStateChange: cfg.OnStateChange,
		onRemoteAudio: cfg.OnRemoteAudio,
		state:         StateNew,
	}
	if !cfg.Initiator {
		p.state = StateAwaitingOffer
	}

	p.transport.OnICECandidate(func(c signaling.ICECandidate) {
		// Outbound candidates are never buffered locally; the remote side
		// buffers what it cannot apply yet.
		if err := p.send(signaling.NewICECandidate(p.id, c)); err != nil {
			p.log.Warn("sending ice candidate failed", "err", err)
		}
	})
	p.transport.OnStateChange(p.onTransportState)
	p.transport.OnRemoteAudio(func(a RemoteAudio) {
		p.mu.Lock()
		if p.state == StateClosed || p.state == StateFailed {
			p.mu.Unlock()
			return
		}
		p.hasRemoteAudio = true
		p.mu.Unlock()
		if p.onRemoteAudio != nil {
			p.onRemoteAudio(p.id, a)
		}
	})

	return p
}

func (p *Peer) ID() string      { return p.id }
func (p *Peer) Initiator() bool { return p.initiator }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) HasRemoteAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRemoteAudio
}

// StartNegotiation begins the initiator path: attach the local stream when
// one exists, offer, and wait for the answer. No-op unless the peer is
// fresh.
func (p *Peer) StartNegotiation(stream StreamHandle) error {
	p.mu.Lock()
	if p.state != StateNew {
		p.mu.Unlock()
		return nil
	}
	p.state = StateOffering
	p.mu.Unlock()
	p.notifyState(StateOffering)

	if stream != nil {
		if err := p.transport.AttachAudio(stream); err != nil {
			p.fail(fmt.Errorf("attach local audio: %w", err))
			return err
		}
	}
	return p.offer(false)
}

// offer creates and sends an offer, moving to HAVE_LOCAL_OFFER.
func (p *Peer) offer(iceRestart bool) error {
	desc, err := p.transport.CreateOffer(iceRestart)
	if err != nil {
		p.fail(fmt.Errorf("create offer: %w", err))
		return err
	}

	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		// Torn down while the offer was being created; discard it.
		p.mu.Unlock()
		return nil
	}
	p.state = StateHaveLocalOffer
	p.armTimerLocked()
	p.mu.Unlock()
	p.notifyState(StateHaveLocalOffer)

	if err := p.send(signaling.NewOffer(p.id, desc)); err != nil {
		p.fail(fmt.Errorf("send offer: %w", err))
		return err
	}
	return nil
}

// HandleRemoteOffer runs the responder path. A simultaneous offer while our
// own offer is outstanding is ignored (first local offer wins); an offer on
// an established connection is a renegotiation, typically the remote side's
// ICE restart.
func (p *Peer) HandleRemoteOffer(desc signaling.SessionDescription) {
	p.mu.Lock()
	switch p.state {
	case StateOffering, StateHaveLocalOffer:
		p.mu.Unlock()
		p.log.Warn("ignoring simultaneous offer, local offer outstanding")
		return
	case StateClosed, StateFailed:
		p.mu.Unlock()
		return
	}
	if p.applying {
		// A duplicate delivered while the first copy is still being
		// applied. Delivery is at least once; drop it.
		p.mu.Unlock()
		p.log.Warn("dropping offer, a negotiation step is already applying")
		return
	}
	p.applying = true
	fresh := p.state == StateNew || p.state == StateAwaitingOffer
	p.mu.Unlock()
	defer p.doneApplying()

	if err := p.applyRemoteDescription(desc); err != nil {
		p.fail(fmt.Errorf("apply remote offer: %w", err))
		return
	}
	if fresh {
		p.mu.Lock()
		if p.state == StateAwaitingOffer || p.state == StateNew {
			p.state = StateHaveRemoteOffer
		}
		p.mu.Unlock()
		p.notifyState(StateHaveRemoteOffer)
	}

	answer, err := p.transport.CreateAnswer()
	if err != nil {
		p.fail(fmt.Errorf("create answer: %w", err))
		return
	}

	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return
	}
	if p.state != StateConnected {
		p.state = StateConnecting
		p.armTimerLocked()
	}
	st := p.state
	p.mu.Unlock()
	p.notifyState(st)

	if err := p.send(signaling.NewAnswer(p.id, answer)); err != nil {
		p.fail(fmt.Errorf("send answer: %w", err))
	}
}

// HandleRemoteAnswer completes the initiator path. An answer in any other
// state is a duplicate or late delivery; it is dropped with a warning.
func (p *Peer) HandleRemoteAnswer(desc signaling.SessionDescription) {
	p.mu.Lock()
	if p.state != StateHaveLocalOffer || p.applying {
		st := p.state
		p.mu.Unlock()
		p.log.Warn("dropping answer in unexpected state", "state", st)
		return
	}
	p.applying = true
	p.mu.Unlock()
	defer p.doneApplying()

	if err := p.applyRemoteDescription(desc); err != nil {
		p.fail(fmt.Errorf("apply remote answer: %w", err))
		return
	}

	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed || p.state == StateConnected {
		p.mu.Unlock()
		return
	}
	p.state = StateConnecting
	p.mu.Unlock()
	p.notifyState(StateConnecting)
}

func (p *Peer) doneApplying() {
	p.mu.Lock()
	p.applying = false
	p.mu.Unlock()
}

// applyRemoteDescription sets the remote description and flushes the
// candidate buffer exactly once, in arrival order.
func (p *Peer) applyRemoteDescription(desc signaling.SessionDescription) error {
	if err := p.transport.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	p.remoteDescSet = true
	buffered := p.buffer.Drain(p.id)
	p.mu.Unlock()

	for _, c := range buffered {
		if err := p.transport.AddICECandidate(c); err != nil {
			p.log.Warn("applying buffered candidate failed", "err", err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a candidate, or buffers it while the remote
// description is still unset.
func (p *Peer) AddRemoteCandidate(c signaling.ICECandidate) {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return
	}
	if !p.remoteDescSet {
		p.buffer.Enqueue(p.id, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.transport.AddICECandidate(c); err != nil {
		p.log.Warn("adding remote candidate failed", "err", err)
	}
}

// AttachAudio adds the local stream's tracks to the transport.
func (p *Peer) AttachAudio(stream StreamHandle) error {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.transport.AttachAudio(stream)
}

// DetachAudio removes previously attached local tracks.
func (p *Peer) DetachAudio() error {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.transport.DetachAudio()
}

func (p *Peer) onTransportState(s TransportState) {
	switch s {
	case TransportConnected:
		p.mu.Lock()
		if p.state == StateClosed || p.state == StateFailed {
			p.mu.Unlock()
			return
		}
		p.state = StateConnected
		p.stopTimerLocked()
		p.mu.Unlock()
		p.notifyState(StateConnected)
	case TransportDisconnected, TransportFailed:
		p.onConnectivityLost()
	}
}

// onConnectivityLost restarts ICE exactly once; a second loss is fatal. The
// initiator re-offers with an ICE restart, the responder re-arms its timer
// and waits for that offer.
func (p *Peer) onConnectivityLost() {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return
	}
	if p.restarted {
		p.mu.Unlock()
		p.fail(fmt.Errorf("%w: connectivity lost after restart", ErrNegotiationFailed))
		return
	}
	p.restarted = true
	if !p.initiator {
		p.state = StateConnecting
		p.armTimerLocked()
		p.mu.Unlock()
		p.log.Info("connectivity lost, waiting for restart offer")
		p.notifyState(StateConnecting)
		return
	}
	p.mu.Unlock()

	p.log.Info("connectivity lost, restarting ice")
	_ = p.offer(true)
}

// Close tears the peer down: the transport is released and buffered
// candidates for this peer are discarded. Idempotent.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	p.stopTimerLocked()
	p.mu.Unlock()

	err := p.transport.Close()
	p.buffer.Clear(p.id)
	p.notifyState(StateClosed)
	return err
}

func (p *Peer) fail(cause error) {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateFailed {
		p.mu.Unlock()
		return
	}
	p.state = StateFailed
	p.stopTimerLocked()
	p.mu.Unlock()

	p.log.Warn("peer failed", "err", cause)
	_ = p.transport.Close()
	p.buffer.Clear(p.id)
	p.notifyState(StateFailed)
}

func (p *Peer) notifyState(s State) {
	if p.onStateChange != nil {
		p.onStateChange(p.id, s)
	}
}

// armTimerLocked (re)starts the negotiation deadline. Callers hold p.mu.
func (p *Peer) armTimerLocked() {
	p.stopTimerLocked()
	p.timer = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		switch p.state {
		case StateConnected, StateClosed, StateFailed:
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.fail(fmt.Errorf("%w: no connectivity within %s", ErrNegotiationFailed, p.timeout))
	})
}

func (p *Peer) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
