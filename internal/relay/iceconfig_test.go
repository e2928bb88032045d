package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/crisjonblvx/blvx-app-sub000/internal/turnrest"
)

func getICEConfig(t *testing.T, h http.Handler, query string) iceConfigJSON {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ice-config"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	var out iceConfigJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestICEConfigWithoutIssuerPassesServersThrough(t *testing.T) {
	h := NewICEConfigHandler([]webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "static", Credential: "pw"},
	}, nil, nil)

	out := getICEConfig(t, h, "")
	if len(out.ICEServers) != 2 {
		t.Fatalf("servers = %+v", out.ICEServers)
	}
	if out.ICEServers[1].Username != "static" || out.ICEServers[1].Credential != "pw" {
		t.Errorf("static credentials were not preserved: %+v", out.ICEServers[1])
	}
	if out.TTLSeconds != 0 {
		t.Errorf("ttl_seconds = %d, want omitted", out.TTLSeconds)
	}
}

func TestICEConfigIssuesEphemeralTURNCredentials(t *testing.T) {
	iss, err := turnrest.NewIssuer(turnrest.IssuerConfig{
		SharedSecret: "s3cret",
		TTL:          10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	h := NewICEConfigHandler([]webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "static", Credential: "pw"},
	}, iss, nil)

	out := getICEConfig(t, h, "?peer=alice")
	if out.TTLSeconds != 600 {
		t.Errorf("ttl_seconds = %d, want 600", out.TTLSeconds)
	}

	stun, turn := out.ICEServers[0], out.ICEServers[1]
	if stun.Username != "" || stun.Credential != "" {
		t.Errorf("stun entry got credentials: %+v", stun)
	}
	if !strings.HasSuffix(turn.Username, ":stoop:alice") {
		t.Errorf("turn username = %q", turn.Username)
	}
	if turn.Credential == "" || turn.Credential == "pw" {
		t.Errorf("turn credential was not replaced: %q", turn.Credential)
	}
}

func TestICEConfigRejectsMalformedPeerID(t *testing.T) {
	iss, err := turnrest.NewIssuer(turnrest.IssuerConfig{SharedSecret: "s3cret", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	h := NewICEConfigHandler(nil, iss, nil)

	req := httptest.NewRequest(http.MethodGet, "/ice-config?peer=a:b", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
