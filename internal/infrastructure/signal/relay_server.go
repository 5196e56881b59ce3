package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/infrastructure/monitoring"
	"github.com/hi-zp/recording/pkg/tracing"
	"github.com/hi-zp/recording/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RelayConfig tunes the relay server.
type RelayConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// JWTSecret enables connection auth when non-empty: clients must present
	// a valid HS256 token in the "token" query parameter.
	JWTSecret string

	// Rate limiting per connection; zero MessagesPerSecond disables it.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

// DefaultRelayConfig matches the hosted relay's behavior closely enough for
// local development and tests.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// RelayServer is a self-hostable pub/sub relay: WebSocket rooms with member
// lists and data fan-out. Data messages are delivered to every room member,
// the sender included; self-echo suppression is the client's job.
type RelayServer struct {
	cfg       RelayConfig
	collector *monitoring.PrometheusCollector
	bridge    *RedisBridge

	mu    sync.RWMutex
	rooms map[string]*serverRoom
	conns map[domain.ClientID]*relayConn

	logger *zap.SugaredLogger
}

type serverRoom struct {
	name string
	// members in join order; the protocol only gives meaning to the first 2
	members []*relayConn
	// members connected to other relay instances, bridged through Redis
	remote []RemoteMember
}

type relayConn struct {
	id      domain.ClientID
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
	rooms   map[string]bool
}

// NewRelayServer creates a relay server. collector and bridge may be nil.
func NewRelayServer(cfg RelayConfig, collector *monitoring.PrometheusCollector, bridge *RedisBridge, logger *zap.SugaredLogger) *RelayServer {
	s := &RelayServer{
		cfg:       cfg,
		collector: collector,
		bridge:    bridge,
		rooms:     make(map[string]*serverRoom),
		conns:     make(map[domain.ClientID]*relayConn),
		logger:    logger,
	}
	if bridge != nil {
		bridge.OnRemoteData(s.deliverLocal)
		bridge.OnRemoteMembership(s.handleRemoteMembership)
	}
	return s
}

// HandleWebSocket upgrades and serves one relay client connection.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.JWTSecret != "" {
		if err := s.authenticate(r); err != nil {
			s.logger.Warnw("relay auth rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	rc := &relayConn{
		id:    domain.ClientID(utils.GenerateClientID()),
		conn:  conn,
		rooms: make(map[string]bool),
	}
	if s.cfg.MessagesPerSecond > 0 {
		rc.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	s.mu.Lock()
	s.conns[rc.id] = rc
	s.mu.Unlock()
	if s.collector != nil {
		s.collector.RecordClientConnected()
	}

	if err := rc.write(&Frame{Type: TypeHandshake, ClientID: rc.id}, s.cfg.WriteTimeout); err != nil {
		s.logger.Warnw("handshake write failed", "client_id", rc.id, "error", err)
		s.cleanup(rc)
		return
	}

	s.logger.Infow("client connected", "client_id", rc.id)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	frameChan := make(chan Frame, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			frameChan <- f
		}
	}()

	for {
		select {
		case f := <-frameChan:
			if err := s.handleFrame(rc, &f); err != nil {
				s.logger.Infow("error handling frame", "client_id", rc.id, "error", err)
				rc.write(&Frame{Type: TypeError, Room: f.Room, Error: err.Error()}, s.cfg.WriteTimeout)
			}

		case <-pingTicker.C:
			rc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			rc.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "client_id", rc.id, "error", err)
				s.cleanup(rc)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading from client", "client_id", rc.id, "error", err)
			}
			s.cleanup(rc)
			return
		}
	}
}

func (s *RelayServer) authenticate(r *http.Request) error {
	tokenStr := r.URL.Query().Get("token")
	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}

func (s *RelayServer) handleFrame(rc *relayConn, f *Frame) error {
	if rc.limiter != nil && !rc.limiter.Allow() {
		if s.collector != nil {
			s.collector.RecordRateLimited()
		}
		return errRateLimited
	}

	switch f.Type {
	case TypeSubscribe:
		return s.handleSubscribe(rc, f.Room)
	case TypePublish:
		return s.handlePublish(rc, f.Room, []byte(f.Payload))
	default:
		return errUnknownFrame(f.Type)
	}
}

func (s *RelayServer) handleSubscribe(rc *relayConn, roomName string) error {
	if roomName == "" {
		return errEmptyRoom
	}

	// Register in the shared room set first, then read it back, so the
	// member list handed to this client already includes peers that joined
	// through another instance.
	var remotes []RemoteMember
	if s.bridge != nil {
		ctx := context.Background()
		if err := s.bridge.RegisterMember(ctx, roomName, rc.id); err != nil {
			s.logger.Warnw("bridge member register failed", "room", roomName, "error", err)
		}
		var err error
		if remotes, err = s.bridge.RoomMembers(ctx, roomName); err != nil {
			s.logger.Warnw("bridge member list failed", "room", roomName, "error", err)
		}
	}

	s.mu.Lock()
	room := s.rooms[roomName]
	if room == nil {
		room = &serverRoom{name: roomName}
		s.rooms[roomName] = room
		if s.collector != nil {
			s.collector.RecordRoomCreated()
		}
	}
	room.members = append(room.members, rc)
	for _, m := range remotes {
		room.addRemote(m)
	}
	rc.rooms[roomName] = true
	members := room.memberList()
	targets := room.memberConns()
	s.mu.Unlock()

	if err := rc.write(&Frame{Type: TypeSubscribed, Room: roomName}, s.cfg.WriteTimeout); err != nil {
		return err
	}

	s.broadcastMembers(roomName, members, targets)
	s.logger.Infow("client subscribed", "client_id", rc.id, "room", roomName, "members", len(members))
	return nil
}

func (s *RelayServer) handlePublish(rc *relayConn, roomName string, payload []byte) error {
	s.mu.RLock()
	room := s.rooms[roomName]
	subscribed := rc.rooms[roomName]
	s.mu.RUnlock()
	if room == nil || !subscribed {
		return errNotSubscribed
	}

	ctx, span := tracing.TraceRoomMessage(context.Background(), roomName, string(rc.id))
	defer span.End()

	s.deliverLocal(roomName, rc.id, payload)

	if s.bridge != nil {
		if err := s.bridge.PublishData(ctx, roomName, rc.id, payload); err != nil {
			tracing.RecordError(ctx, err)
			s.logger.Warnw("redis bridge publish failed", "room", roomName, "error", err)
		}
	}

	if s.collector != nil {
		s.collector.RecordMessage(len(payload))
	}
	return nil
}

// deliverLocal fans a data message out to every member of the room on this
// instance, the sender included.
func (s *RelayServer) deliverLocal(roomName string, senderID domain.ClientID, payload []byte) {
	s.mu.RLock()
	room := s.rooms[roomName]
	var targets []*relayConn
	if room != nil {
		targets = room.memberConns()
	}
	s.mu.RUnlock()

	frame := &Frame{Type: TypeData, Room: roomName, SenderID: senderID, Payload: payload}
	for _, member := range targets {
		if err := member.write(frame, s.cfg.WriteTimeout); err != nil {
			s.logger.Warnw("data fan-out write failed", "client_id", member.id, "room", roomName, "error", err)
		}
	}
}

// handleRemoteMembership merges a join or leave observed on another instance
// into the local room view and rebroadcasts the member list.
func (s *RelayServer) handleRemoteMembership(roomName string, member RemoteMember, joined bool) {
	s.mu.Lock()
	room := s.rooms[roomName]
	if room == nil {
		if !joined {
			s.mu.Unlock()
			return
		}
		room = &serverRoom{name: roomName}
		s.rooms[roomName] = room
		if s.collector != nil {
			s.collector.RecordRoomCreated()
		}
	}
	if joined {
		room.addRemote(member)
	} else {
		room.removeRemote(member.ID)
	}
	if len(room.members) == 0 && len(room.remote) == 0 {
		delete(s.rooms, roomName)
		s.mu.Unlock()
		if s.collector != nil {
			s.collector.RecordRoomClosed(roomName)
		}
		return
	}
	members := room.memberList()
	targets := room.memberConns()
	s.mu.Unlock()

	s.logger.Infow("bridged membership change", "room", roomName, "client_id", member.ID, "joined", joined)
	s.broadcastMembers(roomName, members, targets)
}

func (s *RelayServer) broadcastMembers(roomName string, members domain.MemberList, targets []*relayConn) {
	_, span := tracing.TraceRoomMembership(context.Background(), roomName, len(members))
	defer span.End()

	if s.collector != nil {
		s.collector.RecordRoomMembers(roomName, len(members))
	}

	frame := &Frame{Type: TypeMembers, Room: roomName, Members: members}
	for _, member := range targets {
		if err := member.write(frame, s.cfg.WriteTimeout); err != nil {
			s.logger.Warnw("members broadcast write failed", "client_id", member.id, "error", err)
		}
	}
}

func (s *RelayServer) cleanup(rc *relayConn) {
	s.mu.Lock()
	if _, ok := s.conns[rc.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, rc.id)

	type pending struct {
		room    string
		members domain.MemberList
		targets []*relayConn
		closed  bool
	}
	var updates []pending
	for roomName := range rc.rooms {
		room := s.rooms[roomName]
		if room == nil {
			continue
		}
		room.remove(rc)
		if len(room.members) == 0 && len(room.remote) == 0 {
			delete(s.rooms, roomName)
			updates = append(updates, pending{room: roomName, closed: true})
			continue
		}
		updates = append(updates, pending{
			room:    roomName,
			members: room.memberList(),
			targets: room.memberConns(),
		})
	}
	s.mu.Unlock()

	if s.bridge != nil {
		ctx := context.Background()
		for roomName := range rc.rooms {
			if err := s.bridge.UnregisterMember(ctx, roomName, rc.id); err != nil {
				s.logger.Warnw("bridge member unregister failed", "room", roomName, "error", err)
			}
		}
	}

	for _, u := range updates {
		if u.closed {
			if s.collector != nil {
				s.collector.RecordRoomClosed(u.room)
			}
			continue
		}
		s.broadcastMembers(u.room, u.members, u.targets)
	}

	if s.collector != nil {
		s.collector.RecordClientDisconnected()
	}
	rc.conn.Close()
	s.logger.Infow("client disconnected", "client_id", rc.id)
}

// RoomSize returns the current number of members of a room, bridged members
// included.
func (s *RelayServer) RoomSize(roomName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if room := s.rooms[roomName]; room != nil {
		return len(room.members) + len(room.remote)
	}
	return 0
}

// HealthCheck reports relay liveness.
func (s *RelayServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (room *serverRoom) memberList() domain.MemberList {
	list := make(domain.MemberList, 0, len(room.members)+len(room.remote))
	for _, m := range room.members {
		list = append(list, domain.Member{ID: m.id})
	}
	for _, m := range room.remote {
		list = append(list, domain.Member{ID: m.ID})
	}
	return list
}

func (room *serverRoom) addRemote(m RemoteMember) {
	for _, existing := range room.remote {
		if existing.ID == m.ID {
			return
		}
	}
	room.remote = append(room.remote, m)
}

func (room *serverRoom) removeRemote(id domain.ClientID) {
	for i, m := range room.remote {
		if m.ID == id {
			room.remote = append(room.remote[:i], room.remote[i+1:]...)
			return
		}
	}
}

func (room *serverRoom) memberConns() []*relayConn {
	out := make([]*relayConn, len(room.members))
	copy(out, room.members)
	return out
}

func (room *serverRoom) remove(rc *relayConn) {
	for i, m := range room.members {
		if m == rc {
			room.members = append(room.members[:i], room.members[i+1:]...)
			return
		}
	}
}

func (rc *relayConn) write(f *Frame, timeout time.Duration) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(timeout))
	return rc.conn.WriteJSON(f)
}
