package ports

import (
	"github.com/hi-zp/recording/internal/core/domain"
)

// DeviceInfo describes one enumerable capture device.
type DeviceInfo struct {
	ID    string
	Label string
	Kind  domain.MediaKind
}

// AudioConstraints is the acquisition request for an audio capture source.
// Exact=false permits the provider to relax DeviceID, SampleRate and
// ChannelCount when the exact request cannot be satisfied.
type AudioConstraints struct {
	DeviceID         string
	Exact            bool
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
}

// SourceEventKind is a capture source lifecycle notification.
type SourceEventKind int

const (
	SourceMuted SourceEventKind = iota
	SourceUnmuted
	SourceEnded
)

// SourceEvent is delivered on a CaptureSource's event channel.
type SourceEvent struct {
	Kind SourceEventKind
}

// CaptureSource is one live capture device producing interleaved PCM.
// Read blocks until a full frame is available or the source ends.
type CaptureSource interface {
	DeviceID() string
	Kind() domain.MediaKind
	SampleRate() int
	Channels() int
	// Read fills dst with interleaved samples, returning the count written.
	// io.EOF signals a terminally ended source.
	Read(dst []int16) (int, error)
	// Events delivers mute/unmute/ended notifications. The channel is closed
	// when the source is closed.
	Events() <-chan SourceEvent
	Close() error
}

// DeviceProvider abstracts the platform capture layer: enumerate devices,
// open capture sources, observe device-list changes.
type DeviceProvider interface {
	Enumerate() ([]DeviceInfo, error)
	Open(constraints AudioConstraints) (CaptureSource, error)
	// OnDeviceChange registers a callback fired whenever the platform
	// device list changes.
	OnDeviceChange(fn func())
}
