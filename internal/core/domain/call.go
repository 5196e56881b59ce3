package domain

import "time"

// CallState is the lifecycle of one peer connection attempt. Terminal states
// are never re-entered; a new session is created for the next attempt.
type CallState string

const (
	CallStateIdle         CallState = "idle"
	CallStateNegotiating  CallState = "negotiating"
	CallStateConnected    CallState = "connected"
	CallStateDisconnected CallState = "disconnected"
	CallStateFailed       CallState = "failed"
	CallStateClosed       CallState = "closed"
)

// Terminal reports whether the state permits no further transitions.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateDisconnected, CallStateFailed, CallStateClosed:
		return true
	}
	return false
}

// Role is the side of the offer/answer exchange this peer plays.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// MediaKind identifies an outbound track slot.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallStatus is the single user-visible status line plus auxiliary
// diagnostic substates.
type CallStatus struct {
	Line         string    `json:"line"`
	Signaling    string    `json:"signaling"`
	Transport    string    `json:"transport"`
	ICE          string    `json:"ice"`
	Encoder      string    `json:"encoder"`
	RemoteActive bool      `json:"remote_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransportStats is decoded from inbound RTCP receiver reports.
type TransportStats struct {
	PacketsLost uint32
	Jitter      uint32
	UpdatedAt   time.Time
}

// Recording is the finalized downloadable artifact.
type Recording struct {
	Data       []byte
	Format     string // "wav" or "opus"
	SampleRate int
	Channels   int
	CreatedAt  time.Time
}

// Ext returns the artifact filename extension for the format.
func (r *Recording) Ext() string {
	if r.Format == "opus" {
		return "opus"
	}
	return "wav"
}
