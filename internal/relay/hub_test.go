package relay

import (
	"context"
	"testing"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil, metrics.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func addMember(t *testing.T, h *Hub, room, id string, role signaling.Role) *client {
	t.Helper()
	c := &client{
		hub:         h,
		roomID:      room,
		participant: signaling.Participant{ID: id, Role: role},
		send:        make(chan signaling.Message, 16),
	}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func recv(t *testing.T, c *client) signaling.Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message delivered to %s", c.participant.ID)
		return signaling.Message{}
	}
}

func expectNothing(t *testing.T, c *client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message for %s: %+v", c.participant.ID, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinAnnouncesAndReplaysMembers(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	b := addMember(t, h, "stoop-1", "b", signaling.RoleListener)

	gotA := recv(t, a)
	if gotA.Type != signaling.TypeParticipantJoined {
		t.Fatalf("a got %+v", gotA)
	}
	p, err := gotA.Participant()
	if err != nil || p.ID != "b" {
		t.Fatalf("a learned about %+v (%v)", p, err)
	}

	gotB := recv(t, b)
	p, err = gotB.Participant()
	if err != nil || p.ID != "a" || p.Role != signaling.RoleSpeaker {
		t.Fatalf("b learned about %+v (%v)", p, err)
	}
}

func TestTargetedMessageRoutesToTargetOnly(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	b := addMember(t, h, "stoop-1", "b", signaling.RoleSpeaker)
	c := addMember(t, h, "stoop-1", "c", signaling.RoleListener)
	drainJoins(t, a, b, c)

	h.forward <- inbound{from: a, msg: signaling.NewOffer("b", signaling.SessionDescription{Type: "offer", SDP: "v=0"})}

	got := recv(t, b)
	if got.Type != signaling.TypeOffer || got.From != "a" {
		t.Fatalf("b got %+v", got)
	}
	expectNothing(t, c)
	expectNothing(t, a)
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	b := addMember(t, h, "stoop-1", "b", signaling.RoleListener)
	drainJoins(t, a, b)

	h.forward <- inbound{from: a, msg: signaling.NewMicStatus(true)}

	got := recv(t, b)
	if got.Type != signaling.TypeMicStatus || got.From != "a" {
		t.Fatalf("b got %+v", got)
	}
	expectNothing(t, a)
}

func TestUnknownTargetIsDropped(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)

	h.forward <- inbound{from: a, msg: signaling.NewOffer("ghost", signaling.SessionDescription{Type: "offer", SDP: "v=0"})}

	waitForCounter(t, h.m, metrics.MessagesDropped+":"+metrics.DropReasonUnknownPeer, 1)
	expectNothing(t, a)
}

func TestClientsCannotInjectMembershipEvents(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	b := addMember(t, h, "stoop-1", "b", signaling.RoleListener)
	drainJoins(t, a, b)

	h.forward <- inbound{from: a, msg: signaling.NewParticipantLeft(signaling.Participant{ID: "b"})}

	waitForCounter(t, h.m, metrics.MessagesDropped+":"+metrics.DropReasonMalformed, 1)
	expectNothing(t, b)
}

func TestLeaveBroadcastsAndClosesRoom(t *testing.T) {
	h := startHub(t)
	a := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	b := addMember(t, h, "stoop-1", "b", signaling.RoleListener)
	drainJoins(t, a, b)

	h.unregister <- b

	got := recv(t, a)
	if got.Type != signaling.TypeParticipantLeft {
		t.Fatalf("a got %+v", got)
	}
	p, err := got.Participant()
	if err != nil || p.ID != "b" {
		t.Fatalf("left participant %+v (%v)", p, err)
	}

	h.unregister <- a
	waitForCounter(t, h.m, metrics.RoomsDeleted, 1)
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	h := startHub(t)
	old := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)
	fresh := addMember(t, h, "stoop-1", "a", signaling.RoleSpeaker)

	select {
	case _, ok := <-old.send:
		if ok {
			t.Fatal("expected old send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("old connection was not closed")
	}

	// The replacement is now the routable member.
	b := addMember(t, h, "stoop-1", "b", signaling.RoleListener)
	drainJoins(t, fresh, b)
	h.forward <- inbound{from: b, msg: signaling.NewOffer("a", signaling.SessionDescription{Type: "offer", SDP: "v=0"})}
	if got := recv(t, fresh); got.From != "b" {
		t.Fatalf("fresh got %+v", got)
	}
}

// drainJoins consumes the participant_joined replay for every member of a
// fully assembled room: each of n members sees the other n-1 join.
func drainJoins(t *testing.T, clients ...*client) {
	t.Helper()
	for _, c := range clients {
		for i := 0; i < len(clients)-1; i++ {
			msg := recv(t, c)
			if msg.Type != signaling.TypeParticipantJoined {
				t.Fatalf("%s: unexpected %+v while draining joins", c.participant.ID, msg)
			}
		}
	}
}

func waitForCounter(t *testing.T, m *metrics.Metrics, name string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Get(name) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter %s = %d, want >= %d", name, m.Get(name), want)
}
