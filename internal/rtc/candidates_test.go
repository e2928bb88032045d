package rtc

import (
	"fmt"
	"testing"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

func TestCandidateBufferPreservesArrivalOrder(t *testing.T) {
	b := NewCandidateBuffer()
	for i := 0; i < 5; i++ {
		b.Enqueue("alice", signaling.ICECandidate{Candidate: fmt.Sprintf("candidate:%d", i)})
	}

	got := b.Drain("alice")
	if len(got) != 5 {
		t.Fatalf("drained %d candidates, want 5", len(got))
	}
	for i, c := range got {
		if want := fmt.Sprintf("candidate:%d", i); c.Candidate != want {
			t.Fatalf("candidate %d = %q, want %q", i, c.Candidate, want)
		}
	}
	if b.Len("alice") != 0 {
		t.Fatalf("buffer not empty after drain: %d", b.Len("alice"))
	}
}

func TestCandidateBufferDrainIsOneShot(t *testing.T) {
	b := NewCandidateBuffer()
	b.Enqueue("alice", signaling.ICECandidate{Candidate: "candidate:0"})

	if got := b.Drain("alice"); len(got) != 1 {
		t.Fatalf("first drain = %d, want 1", len(got))
	}
	if got := b.Drain("alice"); len(got) != 0 {
		t.Fatalf("second drain = %d, want 0", len(got))
	}
}

func TestCandidateBufferIsolatesPeers(t *testing.T) {
	b := NewCandidateBuffer()
	b.Enqueue("alice", signaling.ICECandidate{Candidate: "candidate:a"})
	b.Enqueue("bob", signaling.ICECandidate{Candidate: "candidate:b"})

	b.Clear("alice")
	if b.Len("alice") != 0 {
		t.Fatal("alice's candidates survived clear")
	}
	if got := b.Drain("bob"); len(got) != 1 || got[0].Candidate != "candidate:b" {
		t.Fatalf("bob's candidates affected by alice's clear: %+v", got)
	}
}
