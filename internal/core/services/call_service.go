package services

import (
	"context"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	"github.com/hi-zp/recording/internal/infrastructure/audio"
	"github.com/hi-zp/recording/internal/infrastructure/media"
	"github.com/hi-zp/recording/internal/infrastructure/rtc"
	apperrors "github.com/hi-zp/recording/pkg/errors"
	"github.com/hi-zp/recording/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config fixes the call parameters at service creation.
type Config struct {
	ICEServers   []webrtc.ICEServer
	SampleRate   int
	Channels     int
	FrameSamples int
	Format       string // artifact format, "wav" or "opus"
	MeterCadence time.Duration
}

// CallService is the call controller: one instance per room attempt, owning
// the signaling room, the transport session, the local capture, the remote
// binding, the mix pipeline and both level meters. All incoming signaling
// events pass through its single dispatch point; there is no package-level
// state.
type CallService struct {
	channel ports.SignalingChannel
	devices *media.Manager
	cfg     Config
	logger  *zap.SugaredLogger

	mu          sync.Mutex
	roomName    string
	room        ports.RoomHandle
	session     *rtc.Session
	rtpSender   *webrtc.RTPSender
	localStream *media.Stream
	remote      *media.Remote
	pipeline    *audio.Pipeline
	localMeter  *audio.Meter
	remoteMeter *audio.Meter
	status      domain.CallStatus
	recording   *domain.Recording
	localLevel  float64
	remoteLevel float64
	roleChosen  bool
	role        domain.Role
	torn        bool

	onStatus    func(domain.CallStatus)
	onRecording func(*domain.Recording)
}

func NewCallService(channel ports.SignalingChannel, devices *media.Manager, cfg Config, logger *zap.SugaredLogger) *CallService {
	if cfg.MeterCadence == 0 {
		cfg.MeterCadence = 50 * time.Millisecond
	}
	s := &CallService{
		channel: channel,
		devices: devices,
		cfg:     cfg,
		logger:  logger,
	}
	s.status.Line = "idle"
	devices.OnFatal(func(err error) {
		s.setStatus(func(st *domain.CallStatus) { st.Line = "no microphone: " + err.Error() })
	})
	return s
}

// OnStatus registers the status observer, invoked after every change.
func (s *CallService) OnStatus(fn func(domain.CallStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// OnRecording registers the artifact observer, invoked once when the first
// finalized recording becomes available.
func (s *CallService) OnRecording(fn func(*domain.Recording)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecording = fn
}

// JoinRoom acquires local capture and subscribes to observable-<token>.
// Role is decided from the first observed member list: a list already
// holding two members makes this side the offerer.
func (s *CallService) JoinRoom(ctx context.Context, token string) error {
	if !utils.IsValidRoomToken(token) {
		return apperrors.NewInvalidInputError("invalid room token: " + token)
	}
	roomName := utils.RoomName(token)

	stream, err := s.devices.AcquireInitial()
	if err != nil {
		s.setStatus(func(st *domain.CallStatus) { st.Line = "capture failed: " + err.Error() })
		return err
	}

	s.mu.Lock()
	s.roomName = roomName
	s.localStream = stream
	s.mu.Unlock()

	room, err := s.channel.Join(ctx, roomName, ports.RoomEvents{
		OnOpen:    s.handleOpen,
		OnMembers: s.handleMembers,
		OnData:    s.handleData,
	})
	if err != nil {
		s.setStatus(func(st *domain.CallStatus) { st.Line = "room join failed: " + err.Error() })
		return err
	}

	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	s.localMeterStart(stream)
	s.logger.Infow("joining room", "room", roomName)
	return nil
}

func (s *CallService) localMeterStart(stream *media.Stream) {
	meter := audio.NewMeter(stream, s.cfg.MeterCadence, func(v float64) {
		s.mu.Lock()
		s.localLevel = v
		s.mu.Unlock()
	}, s.logger)

	s.mu.Lock()
	s.localMeter = meter
	s.mu.Unlock()
}

func (s *CallService) handleOpen(err error) {
	if err != nil {
		s.setStatus(func(st *domain.CallStatus) {
			st.Line = "signaling failed: " + err.Error()
			st.Signaling = "error"
		})
		return
	}
	s.setStatus(func(st *domain.CallStatus) {
		st.Line = "waiting for peer"
		st.Signaling = "open"
	})
}

func (s *CallService) handleMembers(members domain.MemberList) {
	s.mu.Lock()
	if !s.roleChosen {
		s.roleChosen = true
		if len(members) >= 2 {
			s.role = domain.RoleOfferer
		} else {
			s.role = domain.RoleAnswerer
		}
	}
	role := s.role
	hasSession := s.session != nil
	torn := s.torn
	s.mu.Unlock()
	if torn {
		return
	}

	s.logger.Infow("room members changed", "count", len(members), "role", role)

	if len(members) >= 2 && !hasSession {
		if err := s.startSession(role); err != nil {
			s.setStatus(func(st *domain.CallStatus) { st.Line = "negotiation failed: " + err.Error() })
		}
		return
	}
	if len(members) < 2 && hasSession {
		// Peer left: the call is over for this side too.
		s.Teardown()
		s.setStatus(func(st *domain.CallStatus) { st.Line = "peer left" })
	}
}

// handleData is the single dispatch point for incoming signaling payloads.
// Messages echoed back with this client's own sender id are dropped before
// any descriptor or candidate processing.
func (s *CallService) handleData(payload []byte, senderID domain.ClientID) {
	if senderID == s.channel.ClientID() {
		return
	}

	p, err := domain.DecodeSignalPayload(payload)
	if err != nil {
		s.logger.Warnw("undecodable signaling payload", "error", err)
		return
	}

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		s.logger.Debugw("signaling payload before session exists", "kind", p.Kind())
		return
	}

	switch p.Kind() {
	case domain.SignalSDP:
		if err := session.HandleRemoteDescription(p.SDP); err != nil {
			s.logger.Errorw("remote description rejected", "error", err)
			s.setStatus(func(st *domain.CallStatus) { st.Signaling = "negotiation error" })
		}
	case domain.SignalCandidate:
		session.HandleRemoteCandidate(*p.Candidate)
	default:
		s.logger.Warnw("signaling payload with no sdp or candidate", "sender", senderID)
	}
}

func (s *CallService) startSession(role domain.Role) error {
	s.mu.Lock()
	roomName := s.roomName
	localStream := s.localStream
	s.mu.Unlock()

	session, err := rtc.NewSession(rtc.SessionConfig{
		ICEServers: s.cfg.ICEServers,
		Role:       role,
	}, rtc.SessionCallbacks{
		Publish: func(p *domain.SignalPayload) error {
			data, err := p.Encode()
			if err != nil {
				return err
			}
			return s.channel.Publish(roomName, data)
		},
		OnStateChange: s.handleTransportState,
		OnICEState: func(state string) {
			s.setStatus(func(st *domain.CallStatus) { st.ICE = state })
		},
		OnRemoteTrack: s.handleRemoteTrack,
	}, s.logger)
	if err != nil {
		return err
	}

	pipeline, err := audio.NewPipeline(audio.PipelineConfig{
		SampleRate:   localStream.SampleRate(),
		Channels:     localStream.Channels(),
		FrameSamples: s.cfg.FrameSamples,
		Format:       s.cfg.Format,
	}, s.logger)
	if err != nil {
		_ = session.Close()
		return err
	}
	if err := pipeline.Register(localStream); err != nil {
		_ = session.Close()
		return err
	}

	sender, err := session.AddOutboundTrack(s.devices.OutboundTrack())
	if err != nil {
		_ = session.Close()
		return err
	}
	s.devices.SetTrackReplacer(func(track webrtc.TrackLocal) error {
		return sender.ReplaceTrack(track)
	})

	s.mu.Lock()
	s.session = session
	s.rtpSender = sender
	s.pipeline = pipeline
	s.mu.Unlock()

	s.setStatus(func(st *domain.CallStatus) { st.Line = "negotiating" })
	return nil
}

func (s *CallService) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	remote, err := media.NewRemote(track, receiver, s.cfg.SampleRate, s.cfg.Channels, s.logger)
	if err != nil {
		s.logger.Errorw("remote decode setup failed", "error", err)
		return
	}

	meter := audio.NewMeter(remote.Stream(), s.cfg.MeterCadence, func(v float64) {
		s.mu.Lock()
		s.remoteLevel = v
		s.mu.Unlock()
	}, s.logger)

	s.mu.Lock()
	s.remote = remote
	s.remoteMeter = meter
	pipeline := s.pipeline
	s.mu.Unlock()

	if pipeline != nil {
		if err := pipeline.Register(remote.Stream()); err != nil {
			s.logger.Warnw("remote stream registration rejected", "error", err)
		}
	}

	s.setStatus(func(st *domain.CallStatus) { st.RemoteActive = true })
}

func (s *CallService) handleTransportState(state domain.CallState) {
	s.setStatus(func(st *domain.CallStatus) { st.Transport = string(state) })
	switch state {
	case domain.CallStateConnected:
		s.setStatus(func(st *domain.CallStatus) { st.Line = "connected" })
	case domain.CallStateDisconnected, domain.CallStateFailed, domain.CallStateClosed:
		// Remote-side resources go away; the session object itself stays
		// until membership drops below two or explicit teardown.
		s.clearRemote()
	}
}

// clearRemote drops the remote media binding and rebuilds the pipeline with
// only the local source, capturing the artifact of the finished mix first.
func (s *CallService) clearRemote() {
	s.mu.Lock()
	remote := s.remote
	meter := s.remoteMeter
	pipeline := s.pipeline
	localStream := s.localStream
	torn := s.torn
	s.remote = nil
	s.remoteMeter = nil
	s.remoteLevel = 0
	s.mu.Unlock()

	if remote == nil && meter == nil {
		return
	}
	if meter != nil {
		meter.Stop()
	}
	if remote != nil {
		remote.Close()
	}
	s.finalizePipeline(pipeline)

	if !torn && localStream != nil {
		fresh, err := audio.NewPipeline(audio.PipelineConfig{
			SampleRate:   localStream.SampleRate(),
			Channels:     localStream.Channels(),
			FrameSamples: s.cfg.FrameSamples,
			Format:       s.cfg.Format,
		}, s.logger)
		if err == nil {
			_ = fresh.Register(localStream)
			s.mu.Lock()
			s.pipeline = fresh
			s.mu.Unlock()
		}
	}

	s.setStatus(func(st *domain.CallStatus) { st.RemoteActive = false })
}

// finalizePipeline keeps only the first recording that had both sources.
func (s *CallService) finalizePipeline(pipeline *audio.Pipeline) {
	if pipeline == nil {
		return
	}
	wasActive := pipeline.Active()
	rec, err := pipeline.Finalize()
	if err != nil {
		s.logger.Warnw("pipeline finalize failed", "error", err)
		return
	}
	if !wasActive {
		return
	}

	s.mu.Lock()
	first := s.recording == nil
	if first {
		s.recording = rec
	}
	cb := s.onRecording
	s.mu.Unlock()

	if first && cb != nil {
		cb(rec)
	}
	s.setStatus(func(st *domain.CallStatus) { st.Encoder = "finalized" })
}

// Teardown closes the transport, releases the room handle, stops all level
// metering and finalizes the pipeline. Idempotent.
func (s *CallService) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	session := s.session
	room := s.room
	localMeter := s.localMeter
	s.mu.Unlock()

	s.clearRemote()

	s.mu.Lock()
	pipeline := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()
	s.finalizePipeline(pipeline)

	if localMeter != nil {
		localMeter.Stop()
	}
	if session != nil {
		_ = session.Close()
	}
	if room != nil {
		_ = room.Leave()
	}
	s.setStatus(func(st *domain.CallStatus) { st.Line = "ended" })
	s.logger.Infow("call torn down")
}

// Close tears the call down and releases capture and the relay connection.
func (s *CallService) Close() {
	s.Teardown()
	s.devices.Release()
	_ = s.channel.Close()
}

// SwitchDevice reacquires capture on the given device and swaps the outbound
// track in place; the transport session is untouched.
func (s *CallService) SwitchDevice(deviceID string) error {
	return s.devices.SwitchDevice(deviceID)
}

// Recording returns the finalized artifact, nil until available.
func (s *CallService) Recording() *domain.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Status returns a snapshot of the user-visible call status.
func (s *CallService) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Levels returns the latest local and remote meter values.
func (s *CallService) Levels() (local, remote float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localLevel, s.remoteLevel
}

// Role returns the elected negotiation role; meaningful once members were
// observed.
func (s *CallService) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Session exposes the transport session for identity checks; nil before
// negotiation starts.
func (s *CallService) Session() *rtc.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// PipelineActive reports whether the mix pipeline has both sources
// registered and is producing frames.
func (s *CallService) PipelineActive() bool {
	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	return pipeline != nil && pipeline.Active()
}

// RemoteMeterReleased reports whether the remote meter's resources are gone;
// true when no remote meter exists.
func (s *CallService) RemoteMeterReleased() bool {
	s.mu.Lock()
	meter := s.remoteMeter
	s.mu.Unlock()
	return meter == nil || meter.Released()
}

func (s *CallService) setStatus(mutate func(*domain.CallStatus)) {
	s.mu.Lock()
	mutate(&s.status)
	s.status.UpdatedAt = time.Now()
	snapshot := s.status
	cb := s.onStatus
	s.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}
