package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	apperrors "github.com/hi-zp/recording/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is the relay adapter: one WebSocket connection multiplexing room
// subscriptions. It implements ports.SignalingChannel. The adapter performs
// no self-echo filtering; data events carry the sender id and the consumer
// decides.
type Client struct {
	conn     *websocket.Conn
	clientID domain.ClientID

	mu     sync.Mutex
	rooms  map[string]*clientRoom
	closed bool

	writeMu sync.Mutex

	logger *zap.SugaredLogger
}

type clientRoom struct {
	name   string
	events ports.RoomEvents
	opened bool
	client *Client
	left   bool
}

// Dial connects to the relay, waits for the handshake frame carrying this
// client's relay-assigned id, and starts the read loop. Connection failure
// is returned once and never retried.
func Dial(ctx context.Context, relayURL string, logger *zap.SugaredLogger) (*Client, error) {
	if _, err := url.Parse(relayURL); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid relay url")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeSignaling, "relay connection failed")
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeSignaling, "relay handshake failed")
	}
	if hello.Type != TypeHandshake || hello.ClientID == "" {
		conn.Close()
		return nil, apperrors.NewSignalingError(fmt.Sprintf("unexpected handshake frame %q", hello.Type))
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		clientID: hello.ClientID,
		rooms:    make(map[string]*clientRoom),
		logger:   logger.With("client_id", hello.ClientID),
	}
	go c.readLoop()

	c.logger.Infow("connected to relay", "url", relayURL)
	return c, nil
}

// ClientID returns the relay-assigned identity of this client.
func (c *Client) ClientID() domain.ClientID {
	return c.clientID
}

// Join subscribes to a room. The join result is delivered once through
// events.OnOpen; membership and data events follow on the read loop.
func (c *Client) Join(ctx context.Context, room string, events ports.RoomEvents) (ports.RoomHandle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.NewSignalingError("relay connection is closed")
	}
	if _, exists := c.rooms[room]; exists {
		c.mu.Unlock()
		return nil, apperrors.NewSignalingError(fmt.Sprintf("already subscribed to room %s", room))
	}
	r := &clientRoom{name: room, events: events, client: c}
	c.rooms[room] = r
	c.mu.Unlock()

	if err := c.writeFrame(&Frame{Type: TypeSubscribe, Room: room}); err != nil {
		c.mu.Lock()
		delete(c.rooms, room)
		c.mu.Unlock()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeSignaling, "room subscribe failed")
	}
	return r, nil
}

// Publish sends a data payload to every member of the room, this client
// included.
func (c *Client) Publish(room string, payload []byte) error {
	return c.writeFrame(&Frame{Type: TypePublish, Room: room, Payload: payload})
}

// Close tears down the relay connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) writeFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.handleDisconnect(err)
			return
		}
		c.dispatch(&f)
	}
}

func (c *Client) dispatch(f *Frame) {
	c.mu.Lock()
	room := c.rooms[f.Room]
	c.mu.Unlock()
	if room == nil || room.isLeft() {
		return
	}

	switch f.Type {
	case TypeSubscribed:
		room.open(nil)
	case TypeError:
		room.open(apperrors.NewSignalingError(f.Error))
	case TypeMembers:
		if room.events.OnMembers != nil {
			room.events.OnMembers(f.Members)
		}
	case TypeData:
		if room.events.OnData != nil {
			room.events.OnData([]byte(f.Payload), f.SenderID)
		}
	default:
		c.logger.Warnw("unknown relay frame", "type", f.Type, "room", f.Room)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	rooms := make([]*clientRoom, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.rooms = make(map[string]*clientRoom)
	c.mu.Unlock()

	if !alreadyClosed {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.logger.Warnw("relay connection lost", "error", err)
		}
		c.conn.Close()
	}

	// Rooms that never opened still get their one OnOpen callback.
	for _, r := range rooms {
		r.open(apperrors.WrapError(err, apperrors.ErrCodeSignaling, "relay connection lost"))
	}
}

func (r *clientRoom) Name() string {
	return r.name
}

// Leave unsubscribes locally; the relay notices membership change when the
// connection closes or via a fresh subscribe. Safe to call more than once.
func (r *clientRoom) Leave() error {
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	if r.left {
		return nil
	}
	r.left = true
	delete(r.client.rooms, r.name)
	return nil
}

func (r *clientRoom) isLeft() bool {
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	return r.left
}

// open delivers the OnOpen callback at most once.
func (r *clientRoom) open(err error) {
	r.client.mu.Lock()
	if r.opened {
		r.client.mu.Unlock()
		return
	}
	r.opened = true
	r.client.mu.Unlock()

	if r.events.OnOpen != nil {
		r.events.OnOpen(err)
	}
}
