// Package relay implements the room-scoped signaling relay.
//
// The relay never inspects SDP or candidate payloads; it only validates
// envelopes, stamps from_peer_id, and fans messages out within a room.
// Media always flows peer to peer.
package relay
