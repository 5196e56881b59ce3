package signal

import (
	"encoding/json"

	"github.com/hi-zp/recording/internal/core/domain"
)

// Frame types exchanged between relay and client over one WebSocket.
const (
	TypeHandshake  = "handshake"
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypePublish    = "publish"
	TypeMembers    = "members"
	TypeData       = "data"
	TypeError      = "error"
)

// Frame is the relay wire envelope. Payload carries the opaque room-data
// body for publish/data frames; the relay never inspects it.
type Frame struct {
	Type     string            `json:"type"`
	Room     string            `json:"room,omitempty"`
	ClientID domain.ClientID   `json:"client_id,omitempty"`
	SenderID domain.ClientID   `json:"sender_id,omitempty"`
	Members  domain.MemberList `json:"members,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
}
