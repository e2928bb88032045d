package rtc

import (
	"sync"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

// CandidateBuffer holds remote ICE candidates that arrived before the peer
// they belong to could accept them (no connection yet, or no remote
// description set). Candidates are kept in arrival order per peer.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending map[string][]signaling.ICECandidate
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{
		pending: make(map[string][]signaling.ICECandidate),
	}
}

func (b *CandidateBuffer) Enqueue(peerID string, c signaling.ICECandidate) {
	b.mu.Lock()
	b.pending[peerID] = append(b.pending[peerID], c)
	b.mu.Unlock()
}

// Drain returns the buffered candidates for peerID in arrival order and
// empties the buffer for that peer. Called once per connection, right after
// its remote description is set.
func (b *CandidateBuffer) Drain(peerID string) []signaling.ICECandidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending[peerID]
	delete(b.pending, peerID)
	return out
}

// Clear discards buffered candidates for peerID. Called on teardown so a
// later connection to the same peer never sees candidates from a dead one.
func (b *CandidateBuffer) Clear(peerID string) {
	b.mu.Lock()
	delete(b.pending, peerID)
	b.mu.Unlock()
}

// Len reports how many candidates are buffered for peerID.
func (b *CandidateBuffer) Len(peerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[peerID])
}
