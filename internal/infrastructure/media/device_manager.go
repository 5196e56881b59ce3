package media

import (
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	apperrors "github.com/hi-zp/recording/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ManagerConfig holds the acquisition preferences for the local capture
// chain. FrameSamples is per channel.
type ManagerConfig struct {
	PreferredDevice   string
	SampleRate        int
	Channels          int
	FrameSamples      int
	MuteRecoveryDelay time.Duration
}

// Manager owns the local capture stream: acquisition with a fallback chain,
// live device switching without renegotiation, mute self-healing, and
// device-list watching. It is the only writer of the local source set.
type Manager struct {
	provider ports.DeviceProvider
	cfg      ManagerConfig
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	stream    *Stream
	pump      *Pump
	source    ports.CaptureSource
	sender    *Sender
	replace   func(track webrtc.TrackLocal) error
	onFatal   func(error)
	muted     bool
	muteTimer *time.Timer
	released  bool
}

func NewManager(provider ports.DeviceProvider, cfg ManagerConfig, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
	provider.OnDeviceChange(m.handleDeviceChange)
	return m
}

// SetTrackReplacer wires the transport-side track swap, typically
// RTPSender.ReplaceTrack. Must be set before the first SwitchDevice.
func (m *Manager) SetTrackReplacer(fn func(track webrtc.TrackLocal) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replace = fn
}

// OnFatal registers the no-microphone handler; the condition is terminal for
// the session and never retried.
func (m *Manager) OnFatal(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = fn
}

func (m *Manager) constraints(deviceID string, exact bool) ports.AudioConstraints {
	return ports.AudioConstraints{
		DeviceID:         deviceID,
		Exact:            exact,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       m.cfg.SampleRate,
		ChannelCount:     m.cfg.Channels,
	}
}

// AcquireInitial walks the fallback chain: the preferred device with quality
// preferences, any device with quality preferences, then unconstrained. When
// every tier fails the error is a DeviceError and the session cannot proceed.
func (m *Manager) AcquireInitial() (*Stream, error) {
	tiers := []ports.AudioConstraints{
		m.constraints(m.cfg.PreferredDevice, m.cfg.PreferredDevice != ""),
		m.constraints("", false),
		{},
	}

	var src ports.CaptureSource
	var lastErr error
	for _, c := range tiers {
		s, err := m.provider.Open(c)
		if err == nil {
			src = s
			break
		}
		lastErr = err
		m.logger.Warnw("capture acquisition tier failed, falling back", "error", err)
	}
	if src == nil {
		return nil, apperrors.WrapError(lastErr, apperrors.ErrCodeDevice, "no audio capture available")
	}

	stream := NewStream("local", src.SampleRate(), src.Channels())
	sender, err := NewSender(stream, m.cfg.FrameSamples, m.logger)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	m.mu.Lock()
	m.stream = stream
	m.source = src
	m.sender = sender
	m.pump = NewPump(stream, src, m.cfg.FrameSamples, m.logger)
	m.mu.Unlock()

	go m.watchSource(src)
	m.logger.Infow("local capture acquired",
		"device_id", src.DeviceID(),
		"sample_rate", src.SampleRate(),
		"channels", src.Channels(),
	)
	return stream, nil
}

// Stream returns the local PCM stream; identity is stable across device
// switches.
func (m *Manager) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// OutboundTrack returns the current outbound sample track.
func (m *Manager) OutboundTrack() *webrtc.TrackLocalStaticSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sender == nil {
		return nil
	}
	return m.sender.Track()
}

// SwitchDevice reacquires capture on the given device, exact first, relaxed
// on failure, then swaps the pump source and replaces the outbound track in
// place. The transport session and the local stream identity are untouched.
func (m *Manager) SwitchDevice(deviceID string) error {
	m.mu.Lock()
	if m.released || m.stream == nil {
		m.mu.Unlock()
		return apperrors.NewDeviceError("no active capture to switch")
	}
	stream := m.stream
	m.mu.Unlock()

	src, err := m.provider.Open(m.constraints(deviceID, true))
	if err != nil {
		m.logger.Warnw("exact device open failed, relaxing constraints", "device_id", deviceID, "error", err)
		src, err = m.provider.Open(m.constraints(deviceID, false))
	}
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeDevice, "device switch acquisition failed")
	}
	if src.SampleRate() != stream.SampleRate() || src.Channels() != stream.Channels() {
		_ = src.Close()
		return apperrors.NewDeviceError("replacement device format does not match active stream")
	}

	sender, err := NewSender(stream, m.cfg.FrameSamples, m.logger)
	if err != nil {
		_ = src.Close()
		return err
	}

	m.mu.Lock()
	prevSender := m.sender
	m.source = src
	m.sender = sender
	m.muted = false
	if m.muteTimer != nil {
		m.muteTimer.Stop()
		m.muteTimer = nil
	}
	replace := m.replace
	pump := m.pump
	m.mu.Unlock()

	prev := pump.Swap(src)
	if prev != nil {
		_ = prev.Close()
	}
	if prevSender != nil {
		prevSender.Stop()
	}
	go m.watchSource(src)

	if replace != nil {
		if err := replace(sender.Track()); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeDevice, "outbound track replace failed")
		}
	}
	m.logger.Infow("capture device switched", "device_id", src.DeviceID())
	return nil
}

func (m *Manager) watchSource(src ports.CaptureSource) {
	for ev := range src.Events() {
		switch ev.Kind {
		case ports.SourceMuted:
			m.handleMute(src)
		case ports.SourceUnmuted:
			m.handleUnmute(src)
		case ports.SourceEnded:
			m.logger.Warnw("capture source ended", "device_id", src.DeviceID())
		}
	}
}

// handleMute arms the recovery timer: a transient blip that unmutes before
// the delay elapses cancels recovery.
func (m *Manager) handleMute(src ports.CaptureSource) {
	m.mu.Lock()
	if m.released || m.source != src {
		m.mu.Unlock()
		return
	}
	m.muted = true
	if m.muteTimer != nil {
		m.muteTimer.Stop()
	}
	m.muteTimer = time.AfterFunc(m.cfg.MuteRecoveryDelay, func() {
		m.recoverFromMute(src)
	})
	m.mu.Unlock()
	m.logger.Infow("capture muted, recovery timer armed", "device_id", src.DeviceID())
}

func (m *Manager) handleUnmute(src ports.CaptureSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source != src {
		return
	}
	m.muted = false
	if m.muteTimer != nil {
		m.muteTimer.Stop()
		m.muteTimer = nil
	}
}

func (m *Manager) recoverFromMute(src ports.CaptureSource) {
	m.mu.Lock()
	still := m.muted && m.source == src && !m.released
	m.mu.Unlock()
	if !still {
		return
	}
	m.logger.Infow("mute persisted past recovery delay, reacquiring audio")
	if err := m.SwitchDevice(m.cfg.PreferredDevice); err != nil {
		m.logger.Errorw("mute recovery failed", "error", err)
	}
}

func (m *Manager) handleDeviceChange() {
	devices, err := m.provider.Enumerate()
	if err != nil {
		m.logger.Warnw("device enumeration failed", "error", err)
		return
	}
	audio := 0
	for _, d := range devices {
		if d.Kind == domain.MediaAudio {
			audio++
		}
	}
	m.logger.Infow("device list changed", "audio_inputs", audio)
	if audio > 0 {
		return
	}

	m.mu.Lock()
	released := m.released
	fatal := m.onFatal
	m.mu.Unlock()
	if !released && fatal != nil {
		fatal(apperrors.NewDeviceError("no microphone input available"))
	}
}

// Release stops the sender, the pump, the source and the stream. Idempotent
// and best-effort.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	if m.muteTimer != nil {
		m.muteTimer.Stop()
		m.muteTimer = nil
	}
	sender := m.sender
	pump := m.pump
	m.mu.Unlock()

	if sender != nil {
		sender.Stop()
	}
	if pump != nil {
		pump.Stop()
	}
}
