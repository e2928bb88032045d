// Package signaling defines the wire format exchanged through the stoop
// relay and the client-side channel that carries it.
//
// Messages are JSON envelopes with a type tag. The relay stamps from_peer_id
// on every message it forwards; clients MUST discard messages whose
// from_peer_id equals their own id (the relay may echo broadcasts).
package signaling
