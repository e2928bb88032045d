package rtc

import (
	"sort"
	"sync"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// PeerInfo is the registry's view of one remote participant.
type PeerInfo struct {
	Participant    signaling.Participant
	State          State
	HasRemoteAudio bool
	Muted          bool
}

type registryEntry struct {
	info         PeerInfo
	peer         *Peer
	stopPlayback func()
}

// Registry maps participant id to connection state and metadata. It is the
// single source of truth the rest of the session queries, and it owns each
// peer's playback handle so teardown releases it deterministically.
//
// The registry never initiates network activity; callers close the *Peer
// and run the playback stop function that Remove hands back.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// Upsert records a participant's metadata, preserving any existing
// connection state. Applying the same participant twice is harmless.
func (r *Registry) Upsert(p signaling.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[p.ID]
	if !ok {
		r.entries[p.ID] = &registryEntry{info: PeerInfo{Participant: p}}
		return
	}
	e.info.Participant = p
}

// Attach binds a peer connection to a participant and returns the previous
// one, which the caller must close: at most one live connection per peer id.
func (r *Registry) Attach(peerID string, peer *Peer) (prev *Peer, prevStop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		e = &registryEntry{info: PeerInfo{Participant: signaling.Participant{ID: peerID}}}
		r.entries[peerID] = e
	}
	prev, prevStop = e.peer, e.stopPlayback
	e.peer = peer
	e.stopPlayback = nil
	e.info.State = peer.State()
	e.info.HasRemoteAudio = false
	return prev, prevStop
}

// Peer returns the live connection for peerID, if any.
func (r *Registry) Peer(peerID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[peerID]
	if !ok || e.peer == nil {
		return nil, false
	}
	return e.peer, true
}

// Peers returns every bound connection.
func (r *Registry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.entries))
	for _, e := range r.entries {
		if e.peer != nil {
			out = append(out, e.peer)
		}
	}
	return out
}

func (r *Registry) SetState(peerID string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peerID]; ok {
		e.info.State = s
	}
}

// SetRemoteAudio marks audio arrival and stores the playback stop function.
func (r *Registry) SetRemoteAudio(peerID string, stop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		if stop != nil {
			stop()
		}
		return
	}
	if e.stopPlayback != nil {
		e.stopPlayback()
	}
	e.info.HasRemoteAudio = true
	e.stopPlayback = stop
}

func (r *Registry) SetMuted(peerID string, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peerID]; ok {
		e.info.Muted = muted
	}
}

// Get returns a point-in-time copy of one entry.
func (r *Registry) Get(peerID string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return e.info, true
}

// Remove drops the entry and hands back the resources the caller must
// release.
func (r *Registry) Remove(peerID string) (peer *Peer, stopPlayback func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		return nil, nil
	}
	delete(r.entries, peerID)
	return e.peer, e.stopPlayback
}

// Snapshot returns all entries ordered by participant id. Consistent at the
// point of call, not transactional across concurrent updates.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Participant.ID < out[j].Participant.ID
	})
	return out
}

// Clear empties the registry, returning every held resource for release.
func (r *Registry) Clear() (peers []*Peer, stops []func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.peer != nil {
			peers = append(peers, e.peer)
		}
		if e.stopPlayback != nil {
			stops = append(stops, e.stopPlayback)
		}
		delete(r.entries, id)
	}
	return peers, stops
}
