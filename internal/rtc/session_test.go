package rtc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

type sessionHarness struct {
	session *Session
	channel *fakeChannel
	factory *fakeFactory
	capture *fakeCapture
	closed  chan error
}

func newSessionHarness(t *testing.T, role signaling.Role) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		channel: newFakeChannel(),
		factory: &fakeFactory{},
		capture: &fakeCapture{},
		closed:  make(chan error, 1),
	}
	h.session = NewSession(SessionConfig{
		RoomID:   "stoop-1",
		SelfID:   "self",
		Role:     role,
		Channel:  h.channel,
		Factory:  h.factory,
		Capture:  h.capture,
		OnClosed: func(err error) { h.closed <- err },
	})
	h.session.Start()
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func joined(id string, role signaling.Role) signaling.Message {
	return signaling.NewParticipantJoined(signaling.Participant{ID: id, Role: role})
}

func left(id string) signaling.Message {
	return signaling.NewParticipantLeft(signaling.Participant{ID: id})
}

func from(peer string, msg signaling.Message) signaling.Message {
	msg.From = peer
	return msg
}

func TestSelfEchoesAreDiscarded(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if _, err := h.session.Mic().Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	h.channel.push(from("self", signaling.NewOffer("self", signaling.SessionDescription{Type: "offer", SDP: "v=0"})))
	h.channel.push(from("self", signaling.NewMicStatus(true)))
	h.channel.push(joined("bob", signaling.RoleListener))

	waitFor(t, "bob's connection", func() bool { return len(h.factory.created()) == 1 })
	if got := len(h.factory.created()); got != 1 {
		t.Fatalf("created %d transports, want 1 (self echo spawned one?)", got)
	}
	if info, ok := h.session.PeerInfo("self"); ok {
		t.Fatalf("self registered as a peer: %+v", info)
	}
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if _, err := h.session.Mic().Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	h.channel.push(joined("bob", signaling.RoleListener))
	waitFor(t, "first connection", func() bool { return len(h.factory.created()) == 1 })

	h.channel.push(joined("bob", signaling.RoleListener))
	h.channel.push(joined("bob", signaling.RoleListener))
	waitFor(t, "offer sent", func() bool {
		return len(h.channel.sentOfType(signaling.TypeOffer)) >= 1
	})

	if got := len(h.factory.created()); got != 1 {
		t.Fatalf("created %d transports for one peer, want 1", got)
	}
	if got := h.channel.sentOfType(signaling.TypeOffer); len(got) != 1 {
		t.Fatalf("sent %d offers, want 1", len(got))
	}
}

func TestListenerWaitsForOfferThenResponds(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleListener)

	// No local stream: joining peers do not trigger an outbound offer.
	h.channel.push(joined("alice", signaling.RoleSpeaker))
	h.channel.push(from("alice", signaling.NewMicStatus(true)))
	waitFor(t, "alice registered", func() bool {
		info, ok := h.session.PeerInfo("alice")
		return ok && info.Muted
	})
	if got := len(h.factory.created()); got != 0 {
		t.Fatalf("listener initiated %d connections", got)
	}

	h.channel.push(from("alice", signaling.NewOffer("self", signaling.SessionDescription{Type: "offer", SDP: "v=0"})))
	waitFor(t, "answer", func() bool {
		return len(h.channel.sentOfType(signaling.TypeAnswer)) == 1
	})

	answer := h.channel.sentOfType(signaling.TypeAnswer)[0]
	if answer.To != "alice" {
		t.Fatalf("answer targeted %q", answer.To)
	}
	info, _ := h.session.PeerInfo("alice")
	if !info.Muted {
		t.Fatal("alice's mute was lost")
	}
}

func TestEarlyCandidatesReachTheResponderInOrder(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleListener)

	// Candidates before any connection exists for alice.
	for _, c := range []string{"candidate:0", "candidate:1", "candidate:2"} {
		h.channel.push(from("alice", signaling.NewICECandidate("self", signaling.ICECandidate{Candidate: c})))
	}
	h.channel.push(from("alice", signaling.NewOffer("self", signaling.SessionDescription{Type: "offer", SDP: "v=0"})))

	waitFor(t, "answer", func() bool {
		return len(h.channel.sentOfType(signaling.TypeAnswer)) == 1
	})

	tr := h.factory.created()[0]
	waitFor(t, "buffered candidates", func() bool { return len(tr.appliedCandidates()) == 3 })
	for i, c := range tr.appliedCandidates() {
		if want := "candidate:" + string(rune('0'+i)); c.Candidate != want {
			t.Fatalf("candidate %d = %q, want %q", i, c.Candidate, want)
		}
	}
}

func TestCandidateFloodAtPendingPeerKeepsArrivalOrder(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if _, err := h.session.Mic().Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Bob joins and our offer goes out; the connection now exists but its
	// remote description is still unset.
	h.channel.push(joined("bob", signaling.RoleListener))
	waitFor(t, "offer sent", func() bool {
		return len(h.channel.sentOfType(signaling.TypeOffer)) == 1
	})

	const n = 40
	for i := 0; i < n; i++ {
		h.channel.push(from("bob", signaling.NewICECandidate("self", signaling.ICECandidate{
			Candidate: fmt.Sprintf("candidate:%03d", i),
		})))
	}
	h.channel.push(from("bob", signaling.NewAnswer("self", signaling.SessionDescription{Type: "answer", SDP: "v=0"})))

	tr := h.factory.created()[0]
	waitFor(t, "candidates applied", func() bool { return len(tr.appliedCandidates()) == n })
	for i, c := range tr.appliedCandidates() {
		if want := fmt.Sprintf("candidate:%03d", i); c.Candidate != want {
			t.Fatalf("applied candidate %d = %q, want %q (arrival order lost)", i, c.Candidate, want)
		}
	}
}

func TestParticipantLeftTearsConnectionDown(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if _, err := h.session.Mic().Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.channel.push(joined("bob", signaling.RoleListener))
	waitFor(t, "connection", func() bool { return len(h.factory.created()) == 1 })

	h.channel.push(left("bob"))
	waitFor(t, "teardown", func() bool { return h.factory.created()[0].isClosed() })
	if _, ok := h.session.PeerInfo("bob"); ok {
		t.Fatal("bob survived participant_left in the registry")
	}
}

func TestAnswerWithoutConnectionIsDropped(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleListener)

	h.channel.push(from("alice", signaling.NewAnswer("self", signaling.SessionDescription{Type: "answer", SDP: "v=0"})))
	h.channel.push(joined("alice", signaling.RoleSpeaker))
	waitFor(t, "alice registered", func() bool {
		_, ok := h.session.PeerInfo("alice")
		return ok
	})

	if got := len(h.factory.created()); got != 0 {
		t.Fatalf("stray answer created %d connections", got)
	}
}

func TestFailedPeerIsIsolated(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if _, err := h.session.Mic().Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.channel.push(joined("bob", signaling.RoleListener))
	h.channel.push(joined("carol", signaling.RoleListener))
	waitFor(t, "two connections", func() bool { return len(h.factory.created()) == 2 })

	transports := h.factory.created()
	// Bob gets one restart; the second loss is fatal.
	transports[0].fireState(TransportDisconnected)
	transports[0].fireState(TransportFailed)

	waitFor(t, "bob removed", func() bool {
		_, ok := h.session.PeerInfo("bob")
		return !ok
	})
	if transports[1].isClosed() {
		t.Fatal("carol's transport was torn down by bob's failure")
	}
	if _, ok := h.session.PeerInfo("carol"); !ok {
		t.Fatal("carol missing from the registry")
	}
}

func TestChannelLossEndsSession(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleListener)

	_ = h.channel.Close()

	<-h.session.Done()
	select {
	case err := <-h.closed:
		if !errors.Is(err, signaling.ErrChannelClosed) {
			t.Fatalf("closed with %v, want ErrChannelClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClosed not invoked")
	}
}

func TestCloseIsSafeBeforeAnyConnection(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	if err := h.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case err := <-h.closed:
		if err != nil {
			t.Fatalf("local close reported %v", err)
		}
	default:
		t.Fatal("OnClosed not invoked")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newSessionHarness(t, signaling.RoleSpeaker)
	stream, err := h.session.Mic().Activate(context.Background())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.channel.push(joined("bob", signaling.RoleListener))
	waitFor(t, "connection", func() bool { return len(h.factory.created()) == 1 })

	if err := h.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !h.factory.created()[0].isClosed() {
		t.Fatal("peer transport not closed")
	}
	if !stream.(*fakeStream).isClosed() {
		t.Fatal("capture stream not released")
	}
	if len(h.session.Peers()) != 0 {
		t.Fatal("registry not cleared")
	}
}
