package rtc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// PionFactoryConfig configures the pion-backed transport factory.
type PionFactoryConfig struct {
	ICEServers []webrtc.ICEServer

	// SettingEngine overrides the default setting engine. Tests inject a
	// vnet-backed one here.
	SettingEngine *webrtc.SettingEngine

	Logger *slog.Logger
}

// PionFactory builds transports on a shared pion API instance.
type PionFactory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log *slog.Logger
}

var _ TransportFactory = (*PionFactory)(nil)

func NewPionFactory(cfg PionFactoryConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}

	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, fmt.Errorf("rtc: register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.SettingEngine != nil {
		se = *cfg.SettingEngine
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(reg),
			webrtc.WithSettingEngine(se),
		),
		cfg: webrtc.Configuration{ICEServers: cfg.ICEServers},
		log: log,
	}, nil
}

func (f *PionFactory) NewTransport() (Transport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: create peer connection: %w", err)
	}

	// A recvonly audio transceiver guarantees the offer carries an audio
	// m-line even when the local mic is not active yet.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("rtc: add audio transceiver: %w", err)
	}

	return &pionTransport{pc: pc, log: f.log}, nil
}

// LocalAudioProvider is implemented by capture streams that carry pion local
// tracks; the pion transport attaches those tracks on AttachAudio.
type LocalAudioProvider interface {
	AudioTracks() []webrtc.TrackLocal
}

type pionTransport struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu      sync.Mutex
	senders []*webrtc.RTPSender
}

var _ Transport = (*pionTransport)(nil)

func (t *pionTransport) CreateOffer(iceRestart bool) (signaling.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: set local offer: %w", err)
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *pionTransport) CreateAnswer() (signaling.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: set local answer: %w", err)
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *pionTransport) SetRemoteDescription(desc signaling.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}); err != nil {
		return fmt.Errorf("rtc: set remote %s: %w", desc.Type, err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(c signaling.ICECandidate) error {
	mid := c.SDPMid
	mline := c.SDPMLineIndex
	if err := t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mline,
	}); err != nil {
		return fmt.Errorf("rtc: add ice candidate: %w", err)
	}
	return nil
}

func (t *pionTransport) AttachAudio(stream StreamHandle) error {
	provider, ok := stream.(LocalAudioProvider)
	if !ok {
		return fmt.Errorf("rtc: stream %T carries no pion audio tracks", stream)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, track := range provider.AudioTracks() {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("rtc: attach audio track: %w", err)
		}
		t.senders = append(t.senders, sender)
		// Drain RTCP so the interceptors keep running.
		go drainRTCP(sender)
	}
	return nil
}

func (t *pionTransport) DetachAudio() error {
	t.mu.Lock()
	senders := t.senders
	t.senders = nil
	t.mu.Unlock()

	for _, sender := range senders {
		if err := t.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("rtc: detach audio track: %w", err)
		}
	}
	return nil
}

func (t *pionTransport) OnICECandidate(fn func(signaling.ICECandidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering complete.
			return
		}
		init := c.ToJSON()
		out := signaling.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(out)
	})
}

func (t *pionTransport) OnStateChange(fn func(TransportState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapPeerConnectionState(s))
	})
}

func (t *pionTransport) OnRemoteAudio(fn func(RemoteAudio)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		fn(&pionRemoteAudio{track: track})
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func mapPeerConnectionState(s webrtc.PeerConnectionState) TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	default:
		return TransportClosed
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// pionRemoteAudio wraps a remote pion track for playback sinks.
type pionRemoteAudio struct {
	track *webrtc.TrackRemote
}

func (a *pionRemoteAudio) ID() string {
	return a.track.ID()
}

// Track exposes the underlying pion track to sinks that read RTP directly.
func (a *pionRemoteAudio) Track() *webrtc.TrackRemote {
	return a.track
}
