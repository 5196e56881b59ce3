package ports

import (
	"context"

	"github.com/hi-zp/recording/internal/core/domain"
)

// RoomEvents receives relay callbacks for one joined room. The adapter does
// not filter self-echo: OnData fires for the consumer's own messages too, and
// the consumer must compare senderID against its own client id.
type RoomEvents struct {
	// OnOpen is invoked exactly once with the result of the room join. A
	// non-nil error is terminal for the session; the adapter never retries.
	OnOpen func(err error)
	// OnMembers is invoked with the full member list in join order whenever
	// room membership changes, including the consumer's own join.
	OnMembers func(members domain.MemberList)
	// OnData is invoked for every data message published to the room.
	OnData func(payload []byte, senderID domain.ClientID)
}

// RoomHandle is a joined relay room.
type RoomHandle interface {
	Name() string
	// Leave unsubscribes from the room. Safe to call more than once.
	Leave() error
}

// SignalingChannel wraps the pub/sub relay: join a room, publish to it,
// receive membership and data events.
type SignalingChannel interface {
	// ClientID is the relay-assigned identity of this client, used by
	// consumers for self-echo suppression.
	ClientID() domain.ClientID
	// Join subscribes to a room and begins delivering events.
	Join(ctx context.Context, room string, events RoomEvents) (RoomHandle, error)
	// Publish sends a data payload to every member of the room, the sender
	// included.
	Publish(room string, payload []byte) error
	// Close tears down the relay connection and all joined rooms.
	Close() error
}
