package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// fakeTransport records everything the state machine asks of it and lets
// tests fire the asynchronous callbacks by hand.
type fakeTransport struct {
	mu           sync.Mutex
	offerFlags   []bool
	answers      int
	remoteDescs  []signaling.SessionDescription
	candidates   []signaling.ICECandidate
	attached     []StreamHandle
	detachCalls  int
	closed       bool
	offerErr     error
	remoteErr    error
	onCandidate  func(signaling.ICECandidate)
	onState      func(TransportState)
	onAudio      func(RemoteAudio)
}

func newFakeTransport() *fakeTransport { return &fakeTransport{} }

func (f *fakeTransport) CreateOffer(iceRestart bool) (signaling.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return signaling.SessionDescription{}, f.offerErr
	}
	f.offerFlags = append(f.offerFlags, iceRestart)
	return signaling.SessionDescription{Type: "offer", SDP: fmt.Sprintf("v=0 offer %d", len(f.offerFlags))}, nil
}

func (f *fakeTransport) CreateAnswer() (signaling.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return signaling.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc signaling.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeTransport) AddICECandidate(c signaling.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AttachAudio(stream StreamHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, stream)
	return nil
}

func (f *fakeTransport) DetachAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(signaling.ICECandidate)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(TransportState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnRemoteAudio(fn func(RemoteAudio)) {
	f.mu.Lock()
	f.onAudio = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) fireState(s TransportState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeTransport) fireAudio(a RemoteAudio) {
	f.mu.Lock()
	fn := f.onAudio
	f.mu.Unlock()
	if fn != nil {
		fn(a)
	}
}

func (f *fakeTransport) appliedCandidates() []signaling.ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signaling.ICECandidate(nil), f.candidates...)
}

func (f *fakeTransport) remoteDescriptions() []signaling.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signaling.SessionDescription(nil), f.remoteDescs...)
}

func (f *fakeTransport) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offerFlags)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out fake transports and remembers them.
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (f *fakeFactory) NewTransport() (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tr := newFakeTransport()
	f.transports = append(f.transports, tr)
	return tr, nil
}

func (f *fakeFactory) created() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.transports...)
}

// fakeChannel is an in-memory signaling.Channel with a scriptable inbound
// side and a recorded outbound side.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []signaling.Message
	in     chan signaling.Message
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan signaling.Message, 64)}
}

func (c *fakeChannel) Send(msg signaling.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return signaling.ErrChannelClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Incoming() <-chan signaling.Message { return c.in }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeChannel) push(msg signaling.Message) { c.in <- msg }

func (c *fakeChannel) sentMessages() []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Message(nil), c.sent...)
}

func (c *fakeChannel) sentOfType(typ signaling.Type) []signaling.Message {
	var out []signaling.Message
	for _, m := range c.sentMessages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeStream is a no-op capture stream.
type fakeStream struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeCapture returns a fixed stream or error.
type fakeCapture struct {
	mu       sync.Mutex
	err      error
	acquired int
}

func (c *fakeCapture) AcquireAudio(context.Context) (StreamHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.acquired++
	return &fakeStream{}, nil
}

func (c *fakeCapture) acquisitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

// fakeAudio is an opaque remote track stand-in.
type fakeAudio struct{ id string }

func (a fakeAudio) ID() string { return a.id }

var errDeviceGone = errors.New("device unplugged")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
