package rtc

import (
	"context"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// TransportState is the connectivity state of one peer transport, reduced to
// what the negotiation state machine needs.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamHandle is an opaque local capture stream. Transports attach it to
// outbound connections; Close releases the capture resource.
type StreamHandle interface {
	Close() error
}

// RemoteAudio is an opaque remote audio track handed to the playback sink.
type RemoteAudio interface {
	ID() string
}

// Transport is one peer-to-peer audio connection. Implementations own the
// SDP/ICE mechanics; the state machine in this package drives them.
//
// CreateOffer and CreateAnswer set the local description before returning,
// so locally discovered candidates start flowing through the OnICECandidate
// callback as soon as either returns.
type Transport interface {
	CreateOffer(iceRestart bool) (signaling.SessionDescription, error)
	CreateAnswer() (signaling.SessionDescription, error)
	SetRemoteDescription(desc signaling.SessionDescription) error
	AddICECandidate(c signaling.ICECandidate) error

	AttachAudio(stream StreamHandle) error
	DetachAudio() error

	OnICECandidate(fn func(signaling.ICECandidate))
	OnStateChange(fn func(TransportState))
	OnRemoteAudio(fn func(RemoteAudio))

	Close() error
}

// TransportFactory creates one Transport per remote peer.
type TransportFactory interface {
	NewTransport() (Transport, error)
}

// CaptureDevice acquires the platform audio-capture resource. Failures are
// reported as *MicError so callers can distinguish the cause.
type CaptureDevice interface {
	AcquireAudio(ctx context.Context) (StreamHandle, error)
}

// PlaybackSink renders a remote peer's audio. The returned stop function
// releases the playback resource and is owned by the peer registry.
type PlaybackSink interface {
	Play(peerID string, audio RemoteAudio) (stop func(), err error)
}
