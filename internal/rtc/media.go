package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// MicController owns the local capture stream lifecycle. Activation is
// restricted to speakers; every state change is announced to the room with
// exactly one mic_status broadcast.
type MicController struct {
	device   CaptureDevice
	role     signaling.Role
	registry *Registry
	send     func(signaling.Message) error
	log      *slog.Logger

	mu     sync.Mutex
	stream StreamHandle
}

func NewMicController(device CaptureDevice, role signaling.Role, registry *Registry, send func(signaling.Message) error, log *slog.Logger) *MicController {
	if log == nil {
		log = slog.Default()
	}
	return &MicController{
		device:   device,
		role:     role,
		registry: registry,
		send:     send,
		log:      log,
	}
}

func (m *MicController) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Stream returns the active capture stream, or nil.
func (m *MicController) Stream() StreamHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Activate acquires the capture resource, attaches it to every connecting
// or connected peer and broadcasts mic_status{is_muted:false}. Activating an
// already active mic returns the existing stream without a new broadcast.
// Listeners are refused before any device access happens.
func (m *MicController) Activate(ctx context.Context) (StreamHandle, error) {
	if m.role != signaling.RoleSpeaker {
		return nil, &MicError{Kind: MicNotAuthorized}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return m.stream, nil
	}

	stream, err := m.device.AcquireAudio(ctx)
	if err != nil {
		return nil, fmt.Errorf("activate microphone: %w", err)
	}
	m.stream = stream

	for _, peer := range m.registry.Peers() {
		switch peer.State() {
		case StateConnecting, StateConnected:
			if err := peer.AttachAudio(stream); err != nil {
				m.log.Warn("attaching mic to peer failed", "peer", peer.ID(), "err", err)
			}
		}
	}

	if err := m.send(signaling.NewMicStatus(false)); err != nil {
		m.log.Warn("broadcasting mic status failed", "err", err)
	}
	return stream, nil
}

// Deactivate detaches the stream from every peer, releases the capture
// resource and broadcasts mic_status{is_muted:true}. No-op when inactive.
func (m *MicController) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}

	for _, peer := range m.registry.Peers() {
		if err := peer.DetachAudio(); err != nil {
			m.log.Warn("detaching mic from peer failed", "peer", peer.ID(), "err", err)
		}
	}

	err := m.stream.Close()
	m.stream = nil

	if sendErr := m.send(signaling.NewMicStatus(true)); sendErr != nil {
		m.log.Warn("broadcasting mic status failed", "err", sendErr)
	}
	return err
}

// release closes the capture resource without announcing anything; used on
// session teardown when the channel is already going away.
func (m *MicController) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	_ = m.stream.Close()
	m.stream = nil
}
