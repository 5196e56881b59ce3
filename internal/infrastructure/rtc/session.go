package rtc

import (
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	apperrors "github.com/hi-zp/recording/pkg/errors"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SessionConfig configures one peer connection attempt.
type SessionConfig struct {
	ICEServers []webrtc.ICEServer
	Role       domain.Role
}

// SessionCallbacks are invoked from pion's event goroutines. Publish sends a
// signaling payload to the room; the session never filters self-echo, its
// consumer does that before dispatching into the session.
type SessionCallbacks struct {
	Publish       func(payload *domain.SignalPayload) error
	OnStateChange func(state domain.CallState)
	OnICEState    func(state string)
	OnRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// Session owns one real-time transport session: role, offer/answer flow, ICE
// handling, state transitions and teardown. Terminal states are never left; a
// new Session is built for the next attempt.
type Session struct {
	role  domain.Role
	pc    *webrtc.PeerConnection
	queue *CandidateQueue
	cb    SessionCallbacks

	mu     sync.Mutex
	state  domain.CallState
	closed bool
	stats  domain.TransportStats

	logger *zap.SugaredLogger
}

// NewSession builds the peer connection and installs its event handlers.
// Only the offerer attaches the negotiation-needed trigger; the answerer
// waits for the remote offer.
func NewSession(cfg SessionConfig, cb SessionCallbacks, logger *zap.SugaredLogger) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "failed to create peer connection")
	}

	s := &Session{
		role:   cfg.Role,
		pc:     pc,
		queue:  NewCandidateQueue(),
		cb:     cb,
		state:  domain.CallStateIdle,
		logger: logger.With("role", cfg.Role),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.isClosed() {
			return
		}
		init := fromCandidateInit(c.ToJSON())
		if err := s.cb.Publish(&domain.SignalPayload{Candidate: &init}); err != nil {
			s.logger.Warnw("failed to publish local candidate", "error", err)
		}
	})

	if cfg.Role == domain.RoleOfferer {
		pc.OnNegotiationNeeded(func() {
			if s.isClosed() {
				return
			}
			s.setState(domain.CallStateNegotiating)
			offer, err := pc.CreateOffer(nil)
			if err != nil {
				s.logger.Errorw("create offer failed", "error", err)
				return
			}
			s.publishLocalDescription(offer)
		})
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if s.isClosed() {
			return
		}
		s.logger.Infow("remote track received",
			"kind", track.Kind().String(),
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
		)
		if s.cb.OnRemoteTrack != nil {
			s.cb.OnRemoteTrack(track, receiver)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Debugw("ice connection state changed", "state", state.String())
		if s.cb.OnICEState != nil {
			s.cb.OnICEState(state.String())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.setState(domain.CallStateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			s.setState(domain.CallStateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			s.setState(domain.CallStateFailed)
		case webrtc.PeerConnectionStateClosed:
			s.setState(domain.CallStateClosed)
		}
	})

	return s, nil
}

// Role returns the side of the offer/answer exchange this session plays.
func (s *Session) Role() domain.Role {
	return s.role
}

// State returns the current lifecycle state.
func (s *Session) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transport exposes the underlying peer connection for track management.
// Its identity is stable for the session's whole lifetime, including across
// device switches.
func (s *Session) Transport() *webrtc.PeerConnection {
	return s.pc
}

// Stats returns the latest transport stats decoded from inbound RTCP.
func (s *Session) Stats() domain.TransportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// HandleRemoteDescription applies a received offer or answer. For an offer,
// an answer is created, set locally and published. Afterwards the candidate
// queue is drained exactly once and applied in arrival order; application
// failures are logged, never fatal.
func (s *Session) HandleRemoteDescription(desc *domain.SessionDescription) error {
	if s.isClosed() {
		return nil
	}
	s.setState(domain.CallStateNegotiating)

	if err := s.pc.SetRemoteDescription(toSessionDescription(desc)); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "set remote description failed")
	}

	if s.pc.RemoteDescription() != nil && s.pc.RemoteDescription().Type == webrtc.SDPTypeOffer {
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "create answer failed")
		}
		s.publishLocalDescription(answer)
	}

	for _, c := range s.queue.Drain() {
		if err := s.pc.AddICECandidate(toCandidateInit(c)); err != nil {
			s.logger.Warnw("queued candidate apply failed", "error", err)
		}
	}
	return nil
}

// HandleRemoteCandidate buffers the candidate while no remote description is
// set and applies it directly afterwards. Application failures are logged and
// do not abort the call.
func (s *Session) HandleRemoteCandidate(c domain.ICECandidate) {
	if s.isClosed() {
		return
	}
	if s.queue.Enqueue(c) {
		return
	}
	if err := s.pc.AddICECandidate(toCandidateInit(c)); err != nil {
		s.logger.Warnw("candidate apply failed", "error", err)
	}
}

// AddOutboundTrack attaches a local track and starts the RTCP drain loop for
// its sender, feeding transport stats.
func (s *Session) AddOutboundTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "add track failed")
	}
	go s.drainSenderRTCP(sender)
	return sender, nil
}

// Close tears the transport down. Idempotent, and safe while negotiation or
// device acquisition is still in flight: handlers check liveness and no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.setState(domain.CallStateClosed)
	return s.pc.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) publishLocalDescription(desc webrtc.SessionDescription) {
	if err := s.pc.SetLocalDescription(desc); err != nil {
		s.logger.Errorw("set local description failed", "error", err)
		return
	}
	local := fromSessionDescription(s.pc.LocalDescription())
	if local == nil {
		return
	}
	if err := s.cb.Publish(&domain.SignalPayload{SDP: local}); err != nil {
		s.logger.Warnw("failed to publish local description", "error", err)
	}
}

// setState applies a transition unless the session is already in a terminal
// state; terminal states are never re-entered or left.
func (s *Session) setState(next domain.CallState) {
	s.mu.Lock()
	if s.state == next || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(next)
	}
}

func (s *Session) drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range report.Reports {
				s.mu.Lock()
				s.stats = domain.TransportStats{
					PacketsLost: r.TotalLost,
					Jitter:      r.Jitter,
					UpdatedAt:   time.Now(),
				}
				s.mu.Unlock()
			}
		}
	}
}
