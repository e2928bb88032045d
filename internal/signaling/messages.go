package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags the union of messages carried over the relay.
type Type string

const (
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice_candidate"
	TypeMicStatus         Type = "mic_status"
)

// Role is a participant's room role. Only speakers may publish audio.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// ErrProtocol marks malformed or out-of-state messages. Receivers log and
// drop; a protocol violation is never fatal to the room session.
var ErrProtocol = errors.New("signaling: protocol violation")

var (
	errUnknownType    = fmt.Errorf("%w: unknown message type", ErrProtocol)
	errMissingTarget  = fmt.Errorf("%w: missing target_peer_id", ErrProtocol)
	errMissingPayload = fmt.Errorf("%w: missing payload", ErrProtocol)
	errInvalidSDPType = fmt.Errorf("%w: session description type mismatch", ErrProtocol)
	errMissingSDP     = fmt.Errorf("%w: missing sdp", ErrProtocol)
	errEmptyCandidate = fmt.Errorf("%w: empty candidate", ErrProtocol)
)

// Message is the JSON envelope for everything the relay forwards.
//
// From is stamped by the relay on forwarded messages and is empty on the
// sending side. To is set only on targeted messages (offer, answer,
// ice_candidate); everything else fans out to the whole room.
type Message struct {
	Type    Type            `json:"type"`
	From    string          `json:"from_peer_id,omitempty"`
	To      string          `json:"target_peer_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription is the payload of offer and answer messages.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a single network-path descriptor.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// MicStatus announces a local mute/unmute to the room.
type MicStatus struct {
	IsMuted bool `json:"is_muted"`
}

// Participant is the payload of participant_joined and participant_left.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

func envelope(t Type, to string, payload any) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		// All payload types marshal without error; a failure here is a
		// programming bug, not a runtime condition.
		panic(fmt.Sprintf("signaling: marshal %s payload: %v", t, err))
	}
	return Message{Type: t, To: to, Payload: raw}
}

// NewOffer builds a targeted offer message.
func NewOffer(to string, desc SessionDescription) Message {
	return envelope(TypeOffer, to, desc)
}

// NewAnswer builds a targeted answer message.
func NewAnswer(to string, desc SessionDescription) Message {
	return envelope(TypeAnswer, to, desc)
}

// NewICECandidate builds a targeted ice_candidate message.
func NewICECandidate(to string, c ICECandidate) Message {
	return envelope(TypeICECandidate, to, c)
}

// NewMicStatus builds a room-wide mic_status broadcast.
func NewMicStatus(isMuted bool) Message {
	return envelope(TypeMicStatus, "", MicStatus{IsMuted: isMuted})
}

// NewParticipantJoined builds a participant_joined event. Sent by the relay,
// never by clients.
func NewParticipantJoined(p Participant) Message {
	return envelope(TypeParticipantJoined, "", p)
}

// NewParticipantLeft builds a participant_left event. Sent by the relay,
// never by clients.
func NewParticipantLeft(p Participant) Message {
	return envelope(TypeParticipantLeft, "", p)
}

// Validate checks the envelope's shape for its type. Payload decoding is
// validated separately by the Decode helpers.
func (m Message) Validate() error {
	switch m.Type {
	case TypeOffer, TypeAnswer:
		if m.To == "" && m.From == "" {
			return errMissingTarget
		}
		desc, err := m.Description()
		if err != nil {
			return err
		}
		want := "offer"
		if m.Type == TypeAnswer {
			want = "answer"
		}
		if desc.Type != want {
			return fmt.Errorf("%w: got %q for %s", errInvalidSDPType, desc.Type, m.Type)
		}
		return nil
	case TypeICECandidate:
		if m.To == "" && m.From == "" {
			return errMissingTarget
		}
		_, err := m.ICECandidate()
		return err
	case TypeMicStatus:
		_, err := m.MicStatus()
		return err
	case TypeParticipantJoined, TypeParticipantLeft:
		_, err := m.Participant()
		return err
	default:
		return fmt.Errorf("%w: %q", errUnknownType, m.Type)
	}
}

// Description decodes the session description payload of an offer or answer.
func (m Message) Description() (SessionDescription, error) {
	if m.Type != TypeOffer && m.Type != TypeAnswer {
		return SessionDescription{}, fmt.Errorf("%w: %s carries no session description", ErrProtocol, m.Type)
	}
	if len(m.Payload) == 0 {
		return SessionDescription{}, errMissingPayload
	}
	var desc SessionDescription
	if err := json.Unmarshal(m.Payload, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if desc.SDP == "" {
		return SessionDescription{}, errMissingSDP
	}
	return desc, nil
}

// ICECandidate decodes the candidate payload of an ice_candidate message.
func (m Message) ICECandidate() (ICECandidate, error) {
	if m.Type != TypeICECandidate {
		return ICECandidate{}, fmt.Errorf("%w: %s carries no candidate", ErrProtocol, m.Type)
	}
	if len(m.Payload) == 0 {
		return ICECandidate{}, errMissingPayload
	}
	var c ICECandidate
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return ICECandidate{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if c.Candidate == "" {
		return ICECandidate{}, errEmptyCandidate
	}
	return c, nil
}

// MicStatus decodes the payload of a mic_status message.
func (m Message) MicStatus() (MicStatus, error) {
	if m.Type != TypeMicStatus {
		return MicStatus{}, fmt.Errorf("%w: %s carries no mic status", ErrProtocol, m.Type)
	}
	if len(m.Payload) == 0 {
		return MicStatus{}, errMissingPayload
	}
	var st MicStatus
	if err := json.Unmarshal(m.Payload, &st); err != nil {
		return MicStatus{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return st, nil
}

// Participant decodes the payload of a participant_joined/left event.
func (m Message) Participant() (Participant, error) {
	if m.Type != TypeParticipantJoined && m.Type != TypeParticipantLeft {
		return Participant{}, fmt.Errorf("%w: %s carries no participant", ErrProtocol, m.Type)
	}
	if len(m.Payload) == 0 {
		return Participant{}, errMissingPayload
	}
	var p Participant
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return Participant{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if p.ID == "" {
		return Participant{}, fmt.Errorf("%w: participant without id", ErrProtocol)
	}
	return p, nil
}

// ParseRole validates a role string from configuration or query parameters.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleSpeaker:
		return RoleSpeaker, nil
	case RoleListener:
		return RoleListener, nil
	default:
		return "", fmt.Errorf("invalid role %q (expected speaker or listener)", raw)
	}
}
