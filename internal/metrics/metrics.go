// Package metrics is a minimal, concurrency-safe counter registry for the
// stoop relay, exposed in Prometheus' text format.
package metrics

import "sync"

// Counter names used by the relay.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsRejected = "connections_rejected"
	MessagesRelayed     = "messages_relayed"
	MessagesDropped     = "messages_dropped"
	RoomsCreated        = "rooms_created"
	RoomsDeleted        = "rooms_deleted"
)

// Drop reasons, appended to MessagesDropped as <name>:<reason>.
const (
	DropReasonRateLimited  = "rate_limited"
	DropReasonMalformed    = "malformed"
	DropReasonUnknownPeer  = "unknown_peer"
	DropReasonNotInRoom    = "not_in_room"
	DropReasonSlowConsumer = "slow_consumer"
)

// Metrics is a minimal counter registry. The relay is expected to plug into a
// real metrics backend eventually; this type keeps the fan-out logic testable
// while still being scrapeable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

// IncDrop increments the drop counter for a specific reason.
func (m *Metrics) IncDrop(reason string) {
	m.Inc(MessagesDropped + ":" + reason)
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
