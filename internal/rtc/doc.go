// Package rtc is the client-side mesh core for live audio rooms: per-peer
// negotiation state machines, the candidate buffer, the peer registry, local
// media control and the room session that ties them to a signaling channel.
package rtc
