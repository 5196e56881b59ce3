package domain

import "encoding/json"

type ClientID string

// Member is one participant of a relay room as reported by the relay.
type Member struct {
	ID ClientID `json:"id"`
}

// MemberList is the relay's view of a room at one point in time, in join
// order. At most two members are meaningful to the call protocol.
type MemberList []Member

// Contains reports whether the list includes the given client.
func (m MemberList) Contains(id ClientID) bool {
	for _, member := range m {
		if member.ID == id {
			return true
		}
	}
	return false
}

// SignalKind discriminates room-data payloads.
type SignalKind string

const (
	SignalSDP       SignalKind = "sdp"
	SignalCandidate SignalKind = "candidate"
	SignalUnknown   SignalKind = "unknown"
)

// SignalPayload is the wire shape of a room-data message: exactly one of
// SDP or Candidate is set.
type SignalPayload struct {
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

// Kind returns which half of the payload is populated, or SignalUnknown
// when neither is. Valid JSON with neither key parses cleanly, so callers
// must not assume a decoded payload carries anything.
func (p *SignalPayload) Kind() SignalKind {
	switch {
	case p.SDP != nil:
		return SignalSDP
	case p.Candidate != nil:
		return SignalCandidate
	default:
		return SignalUnknown
	}
}

// SessionDescription mirrors RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// DecodeSignalPayload parses a raw room-data message.
func DecodeSignalPayload(data []byte) (*SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode serializes the payload for publishing.
func (p *SignalPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
