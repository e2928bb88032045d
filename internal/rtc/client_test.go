package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/relay"
	"github.com/crisjonblvx/blvx-app-sub000/internal/roomapi"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

func startRelay(t *testing.T) (signalURL string, m *metrics.Metrics) {
	t.Helper()
	m = metrics.New()
	hub := relay.NewHub(slog.Default(), m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	mux := http.NewServeMux()
	relay.NewServer(hub, relay.ServerConfig{}, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal", m
}

func newTestClient(t *testing.T, signalURL string, self signaling.Participant, api *roomapi.Client) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		SignalURL: signalURL,
		Self:      self,
		Factory:   &fakeFactory{},
		Capture:   &fakeCapture{},
		RoomAPI:   api,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	signalURL, m := startRelay(t)
	c := newTestClient(t, signalURL, signaling.Participant{ID: "alice", Role: signaling.RoleSpeaker}, nil)

	ctx := context.Background()
	if err := c.Connect(ctx, "stoop-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := c.Done()
	if err := c.Connect(ctx, "stoop-1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if c.Done() != first {
		t.Fatal("second connect replaced the session")
	}
	if got := m.Get(metrics.ConnectionsOpened); got != 1 {
		t.Fatalf("relay saw %d connections, want 1", got)
	}
	if c.Room() != "stoop-1" {
		t.Fatalf("room = %q", c.Room())
	}
}

func TestConnectToAnotherRoomDisconnectsFirst(t *testing.T) {
	signalURL, m := startRelay(t)
	c := newTestClient(t, signalURL, signaling.Participant{ID: "alice", Role: signaling.RoleSpeaker}, nil)

	ctx := context.Background()
	if err := c.Connect(ctx, "stoop-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	firstDone := c.Done()
	if err := c.Connect(ctx, "stoop-2"); err != nil {
		t.Fatalf("connect to second room: %v", err)
	}

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first session not torn down")
	}
	if c.Room() != "stoop-2" {
		t.Fatalf("room = %q, want stoop-2", c.Room())
	}
	if got := m.Get(metrics.RoomsCreated); got != 2 {
		t.Fatalf("relay created %d rooms, want 2", got)
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	signalURL, _ := startRelay(t)
	c := newTestClient(t, signalURL, signaling.Participant{ID: "alice", Role: signaling.RoleSpeaker}, nil)

	if err := c.ToggleMic(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("toggle err = %v, want ErrNotConnected", err)
	}
	// Disconnect before any connect must be a no-op.
	c.Disconnect()
	if c.Connected() {
		t.Fatal("connected with no session")
	}
	if c.Peers() != nil {
		t.Fatal("peers reported with no session")
	}
}

func TestMicOnJoinActivatesForSpeakers(t *testing.T) {
	signalURL, _ := startRelay(t)
	c, err := NewClient(ClientOptions{
		SignalURL: signalURL,
		Self:      signaling.Participant{ID: "alice", Role: signaling.RoleSpeaker},
		Factory:   &fakeFactory{},
		Capture:   &fakeCapture{},
		MicOnJoin: true,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Disconnect)

	if err := c.Connect(context.Background(), "stoop-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.MicActive() {
		t.Fatal("mic not active after join")
	}

	if err := c.ToggleMic(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if c.MicActive() {
		t.Fatal("mic still active after toggle")
	}
}

func TestRoomAPIIsCalledAroundConnectAndDisconnect(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ParticipantID string `json:"participant_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+body.ParticipantID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(api.Close)

	signalURL, _ := startRelay(t)
	c := newTestClient(t, signalURL,
		signaling.Participant{ID: "alice", Role: signaling.RoleSpeaker},
		roomapi.NewClient(api.URL))

	if err := c.Connect(context.Background(), "stoop-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"POST /rooms/stoop-1/join alice",
		"POST /rooms/stoop-1/leave alice",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}
