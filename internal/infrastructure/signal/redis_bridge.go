package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	bridgeDataChannel       = "recording:relay:data"
	bridgeMembershipChannel = "recording:relay:membership"
	bridgeRoomKeyPrefix     = "recording:relay:room:"

	// Stale members registered by a crashed instance age out with the set.
	bridgeRoomTTL = 10 * time.Minute
)

// bridgeEvent is one room data message crossing relay instances.
type bridgeEvent struct {
	InstanceID string          `json:"instance_id"`
	Room       string          `json:"room"`
	SenderID   domain.ClientID `json:"sender_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// membershipEvent announces a join or leave on one instance to the others.
type membershipEvent struct {
	InstanceID string          `json:"instance_id"`
	Room       string          `json:"room"`
	ClientID   domain.ClientID `json:"client_id"`
	Joined     bool            `json:"joined"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RemoteMember is a room member connected to another relay instance.
type RemoteMember struct {
	ID         domain.ClientID
	InstanceID string
}

// RedisBridge spans relay instances through Redis: room data fans out over
// pub/sub, and room membership is kept in per-room sets plus join/leave
// events, so two peers of a room may be connected to different instances.
type RedisBridge struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger

	pubsub       *redis.PubSub
	onData       func(room string, senderID domain.ClientID, payload []byte)
	onMembership func(room string, member RemoteMember, joined bool)
	started      bool
}

// NewRedisBridge creates a bridge identified by instanceID.
func NewRedisBridge(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// OnRemoteData registers the local delivery callback for messages published
// by other instances.
func (b *RedisBridge) OnRemoteData(fn func(room string, senderID domain.ClientID, payload []byte)) {
	b.onData = fn
}

// OnRemoteMembership registers the callback for joins and leaves observed on
// other instances.
func (b *RedisBridge) OnRemoteMembership(fn func(room string, member RemoteMember, joined bool)) {
	b.onMembership = fn
}

// PublishData forwards one room data message to the other instances.
func (b *RedisBridge) PublishData(ctx context.Context, room string, senderID domain.ClientID, payload []byte) error {
	event := bridgeEvent{
		InstanceID: b.instanceID,
		Room:       room,
		SenderID:   senderID,
		Timestamp:  time.Now(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge event: %w", err)
	}

	if err := b.client.Publish(ctx, bridgeDataChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish bridge event: %w", err)
	}
	return nil
}

// RegisterMember records a local join in the shared room set and announces
// it to the other instances.
func (b *RedisBridge) RegisterMember(ctx context.Context, room string, id domain.ClientID) error {
	key := b.roomKey(room)
	if err := b.client.SAdd(ctx, key, b.memberValue(id)).Err(); err != nil {
		return fmt.Errorf("failed to register room member: %w", err)
	}
	b.client.Expire(ctx, key, bridgeRoomTTL)
	return b.publishMembership(ctx, room, id, true)
}

// UnregisterMember removes a local member from the shared room set and
// announces the leave.
func (b *RedisBridge) UnregisterMember(ctx context.Context, room string, id domain.ClientID) error {
	if err := b.client.SRem(ctx, b.roomKey(room), b.memberValue(id)).Err(); err != nil {
		return fmt.Errorf("failed to unregister room member: %w", err)
	}
	return b.publishMembership(ctx, room, id, false)
}

// RoomMembers returns the members of a room registered by other instances.
func (b *RedisBridge) RoomMembers(ctx context.Context, room string) ([]RemoteMember, error) {
	values, err := b.client.SMembers(ctx, b.roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}

	var members []RemoteMember
	for _, v := range values {
		id, instanceID, ok := strings.Cut(v, "|")
		if !ok {
			b.logger.Warnw("malformed room set entry", "room", room, "value", v)
			continue
		}
		if instanceID == b.instanceID {
			continue
		}
		members = append(members, RemoteMember{ID: domain.ClientID(id), InstanceID: instanceID})
	}
	return members, nil
}

func (b *RedisBridge) publishMembership(ctx context.Context, room string, id domain.ClientID, joined bool) error {
	event := membershipEvent{
		InstanceID: b.instanceID,
		Room:       room,
		ClientID:   id,
		Joined:     joined,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal membership event: %w", err)
	}

	if err := b.client.Publish(ctx, bridgeMembershipChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish membership event: %w", err)
	}
	return nil
}

func (b *RedisBridge) roomKey(room string) string {
	return bridgeRoomKeyPrefix + room
}

func (b *RedisBridge) memberValue(id domain.ClientID) string {
	return string(id) + "|" + b.instanceID
}

// Run subscribes and delivers remote messages until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	if b.started {
		return fmt.Errorf("bridge already running")
	}
	b.started = true

	b.pubsub = b.client.Subscribe(ctx, bridgeDataChannel, bridgeMembershipChannel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			switch msg.Channel {
			case bridgeDataChannel:
				b.handleDataMessage(msg.Payload)
			case bridgeMembershipChannel:
				b.handleMembershipMessage(msg.Payload)
			}
		}
	}
}

func (b *RedisBridge) handleDataMessage(payload string) {
	var event bridgeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warnw("failed to unmarshal bridge event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance; those were already delivered locally
	// at publish time.
	if event.InstanceID == b.instanceID {
		return
	}

	if b.onData != nil {
		b.onData(event.Room, event.SenderID, []byte(event.Payload))
	}
}

func (b *RedisBridge) handleMembershipMessage(payload string) {
	var event membershipEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warnw("failed to unmarshal membership event",
			"error", err,
			"payload", payload,
		)
		return
	}

	if event.InstanceID == b.instanceID {
		return
	}

	if b.onMembership != nil {
		b.onMembership(event.Room, RemoteMember{ID: event.ClientID, InstanceID: event.InstanceID}, event.Joined)
	}
}
