package media

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	apperrors "github.com/hi-zp/recording/pkg/errors"
)

// pacer throttles Read calls to real time, one audio quantum per tick.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func (p *pacer) wait() {
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		time.Sleep(d)
	}
	p.next = p.next.Add(p.interval)
}

// ToneSource synthesizes a sine wave. It stands in for a microphone on
// headless peers and in tests; mute produces silence, matching muted-track
// behavior.
type ToneSource struct {
	deviceID     string
	freq         float64
	rate         int
	channels     int
	frameSamples int
	realtime     bool
	pace         pacer

	mu     sync.Mutex
	phase  float64
	muted  bool
	closed bool
	events chan ports.SourceEvent
}

// NewToneSource builds a sine generator. frameSamples is per channel;
// realtime=false removes pacing for tests.
func NewToneSource(deviceID string, freq float64, rate, channels, frameSamples int, realtime bool) *ToneSource {
	return &ToneSource{
		deviceID:     deviceID,
		freq:         freq,
		rate:         rate,
		channels:     channels,
		frameSamples: frameSamples,
		realtime:     realtime,
		pace:         pacer{interval: time.Duration(frameSamples) * time.Second / time.Duration(rate)},
		events:       make(chan ports.SourceEvent, 8),
	}
}

func (t *ToneSource) DeviceID() string                 { return t.deviceID }
func (t *ToneSource) Kind() domain.MediaKind           { return domain.MediaAudio }
func (t *ToneSource) SampleRate() int                  { return t.rate }
func (t *ToneSource) Channels() int                    { return t.channels }
func (t *ToneSource) Events() <-chan ports.SourceEvent { return t.events }

func (t *ToneSource) Read(dst []int16) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	muted := t.muted
	phase := t.phase
	t.mu.Unlock()

	if t.realtime {
		t.pace.wait()
	}

	step := 2 * math.Pi * t.freq / float64(t.rate)
	for i := 0; i < len(dst); i += t.channels {
		var v int16
		if !muted {
			v = int16(math.Sin(phase) * 0.3 * 32767)
		}
		for c := 0; c < t.channels && i+c < len(dst); c++ {
			dst[i+c] = v
		}
		phase += step
	}

	t.mu.Lock()
	t.phase = math.Mod(phase, 2*math.Pi)
	t.mu.Unlock()
	return len(dst), nil
}

func (t *ToneSource) Mute() {
	t.setMuted(true, ports.SourceMuted)
}

func (t *ToneSource) Unmute() {
	t.setMuted(false, ports.SourceUnmuted)
}

func (t *ToneSource) setMuted(muted bool, kind ports.SourceEventKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.muted == muted {
		return
	}
	t.muted = muted
	select {
	case t.events <- ports.SourceEvent{Kind: kind}:
	default:
	}
}

func (t *ToneSource) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	return nil
}

// BufferSource streams a fixed PCM sample buffer, optionally looping. A
// non-looping source emits SourceEnded and then io.EOF once drained.
type BufferSource struct {
	deviceID string
	samples  []int16
	rate     int
	channels int
	loop     bool
	realtime bool
	pace     pacer

	mu     sync.Mutex
	pos    int
	closed bool
	ended  bool
	events chan ports.SourceEvent
}

func NewBufferSource(deviceID string, samples []int16, rate, channels int, loop, realtime bool) *BufferSource {
	return &BufferSource{
		deviceID: deviceID,
		samples:  samples,
		rate:     rate,
		channels: channels,
		loop:     loop,
		realtime: realtime,
		events:   make(chan ports.SourceEvent, 8),
	}
}

func (b *BufferSource) DeviceID() string                 { return b.deviceID }
func (b *BufferSource) Kind() domain.MediaKind           { return domain.MediaAudio }
func (b *BufferSource) SampleRate() int                  { return b.rate }
func (b *BufferSource) Channels() int                    { return b.channels }
func (b *BufferSource) Events() <-chan ports.SourceEvent { return b.events }

func (b *BufferSource) Read(dst []int16) (int, error) {
	b.mu.Lock()
	if b.closed || b.ended {
		b.mu.Unlock()
		return 0, io.EOF
	}
	b.mu.Unlock()

	if b.realtime {
		if b.pace.interval == 0 {
			b.pace.interval = time.Duration(len(dst)/b.channels) * time.Second / time.Duration(b.rate)
		}
		b.pace.wait()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for n < len(dst) {
		if b.pos >= len(b.samples) {
			if !b.loop {
				b.ended = true
				select {
				case b.events <- ports.SourceEvent{Kind: ports.SourceEnded}:
				default:
				}
				if n == 0 {
					return 0, io.EOF
				}
				return n, io.EOF
			}
			b.pos = 0
		}
		c := copy(dst[n:], b.samples[b.pos:])
		n += c
		b.pos += c
	}
	return n, nil
}

func (b *BufferSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.events)
	return nil
}

// SilenceSource produces zero samples forever; the last-resort fallback
// device.
type SilenceSource struct {
	deviceID string
	rate     int
	channels int
	realtime bool
	pace     pacer

	mu     sync.Mutex
	closed bool
	events chan ports.SourceEvent
}

func NewSilenceSource(deviceID string, rate, channels int, realtime bool) *SilenceSource {
	return &SilenceSource{
		deviceID: deviceID,
		rate:     rate,
		channels: channels,
		realtime: realtime,
		events:   make(chan ports.SourceEvent, 1),
	}
}

func (s *SilenceSource) DeviceID() string                 { return s.deviceID }
func (s *SilenceSource) Kind() domain.MediaKind           { return domain.MediaAudio }
func (s *SilenceSource) SampleRate() int                  { return s.rate }
func (s *SilenceSource) Channels() int                    { return s.channels }
func (s *SilenceSource) Events() <-chan ports.SourceEvent { return s.events }

func (s *SilenceSource) Read(dst []int16) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.mu.Unlock()

	if s.realtime {
		if s.pace.interval == 0 {
			s.pace.interval = time.Duration(len(dst)/s.channels) * time.Second / time.Duration(s.rate)
		}
		s.pace.wait()
	}
	for i := range dst {
		dst[i] = 0
	}
	return len(dst), nil
}

func (s *SilenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// SimulatedDevice pairs a device descriptor with its open function.
type SimulatedDevice struct {
	Info ports.DeviceInfo
	Open func(c ports.AudioConstraints) (ports.CaptureSource, error)
}

// SimulatedProvider is an in-process DeviceProvider: a configurable device
// list, device-change notification, and injectable open failures.
type SimulatedProvider struct {
	mu        sync.Mutex
	devices   []SimulatedDevice
	listeners []func()
	openHook  func(c ports.AudioConstraints) error
}

func NewSimulatedProvider(devices ...SimulatedDevice) *SimulatedProvider {
	return &SimulatedProvider{devices: devices}
}

func (p *SimulatedProvider) Enumerate() ([]ports.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]ports.DeviceInfo, 0, len(p.devices))
	for _, d := range p.devices {
		infos = append(infos, d.Info)
	}
	return infos, nil
}

// Open resolves constraints against the device list. An exact DeviceID that
// does not exist is a DeviceError; a relaxed request falls back to the first
// audio device.
func (p *SimulatedProvider) Open(c ports.AudioConstraints) (ports.CaptureSource, error) {
	p.mu.Lock()
	hook := p.openHook
	devices := make([]SimulatedDevice, len(p.devices))
	copy(devices, p.devices)
	p.mu.Unlock()

	if hook != nil {
		if err := hook(c); err != nil {
			return nil, err
		}
	}

	if c.DeviceID != "" {
		for _, d := range devices {
			if d.Info.ID == c.DeviceID && d.Info.Kind == domain.MediaAudio {
				return d.Open(c)
			}
		}
		if c.Exact {
			return nil, apperrors.NewDeviceError(fmt.Sprintf("no such audio device: %s", c.DeviceID))
		}
	}

	for _, d := range devices {
		if d.Info.Kind == domain.MediaAudio {
			return d.Open(c)
		}
	}
	return nil, apperrors.NewDeviceError("no audio input device available")
}

func (p *SimulatedProvider) OnDeviceChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SetDevices replaces the device list and fires the change listeners.
func (p *SimulatedProvider) SetDevices(devices ...SimulatedDevice) {
	p.mu.Lock()
	p.devices = devices
	listeners := make([]func(), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// FailOpens installs a hook consulted before every Open; a non-nil return
// rejects the acquisition. Pass nil to clear.
func (p *SimulatedProvider) FailOpens(hook func(c ports.AudioConstraints) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openHook = hook
}
