package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/crisjonblvx/blvx-app-sub000/internal/turnrest"
)

// ICEConfigHandler serves the ICE server list clients should dial with.
// When an ephemeral credential issuer is configured, TURN entries are
// returned with short-lived credentials instead of anything static, so the
// relay's TURN secret never reaches clients.
//
//	GET /ice-config?peer=<peer_id>
type ICEConfigHandler struct {
	servers []webrtc.ICEServer
	issuer  *turnrest.Issuer
	log     *slog.Logger
}

func NewICEConfigHandler(servers []webrtc.ICEServer, issuer *turnrest.Issuer, log *slog.Logger) *ICEConfigHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ICEConfigHandler{servers: servers, issuer: issuer, log: log}
}

type iceServerJSON struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfigJSON struct {
	ICEServers []iceServerJSON `json:"ice_servers"`
	TTLSeconds int64           `json:"ttl_seconds,omitempty"`
}

func (h *ICEConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var creds *turnrest.Credentials
	if h.issuer != nil {
		c, err := h.issuer.Issue(r.URL.Query().Get("peer"))
		if err != nil {
			h.log.Warn("issuing TURN credentials failed", "err", err)
			http.Error(w, "invalid peer id", http.StatusBadRequest)
			return
		}
		creds = &c
	}

	out := iceConfigJSON{ICEServers: make([]iceServerJSON, 0, len(h.servers))}
	for _, s := range h.servers {
		entry := iceServerJSON{URLs: s.URLs, Username: s.Username}
		if cred, ok := s.Credential.(string); ok {
			entry.Credential = cred
		}
		if creds != nil && hasTURN(s.URLs) {
			entry.Username = creds.Username
			entry.Credential = creds.Credential
		}
		out.ICEServers = append(out.ICEServers, entry)
	}
	if creds != nil {
		out.TTLSeconds = int64(h.issuer.TTL().Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	// Credentials expire; clients must not reuse a cached response.
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Warn("writing ice config failed", "err", err)
	}
}

func hasTURN(urls []string) bool {
	for _, u := range urls {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
