package ports

import "github.com/hi-zp/recording/internal/core/domain"

// PCMStream is a live audio stream whose frames can be observed by several
// independent consumers (mixer, level meter). The stream identity is stable
// across track replacement.
type PCMStream interface {
	ID() string
	SampleRate() int
	Channels() int
	// Subscribe returns a frame channel and an unsubscribe func. Slow
	// consumers lose frames rather than stalling the producer.
	Subscribe(buffer int) (<-chan []int16, func())
	// Done is closed when the stream ends.
	Done() <-chan struct{}
}

// FrameEncoder converts fixed-size interleaved PCM frames into encoded
// byte frames. Ready information is announced exactly once, before the
// first Encode call is accepted.
type FrameEncoder interface {
	// Ready reports the effective sample rate the encoder settled on, which
	// may differ from the requested one.
	Ready() (sampleRate int, channels int)
	Encode(pcm []int16) ([]byte, error)
	Close() error
}

// Packager accumulates encoded frames in arrival order and produces the
// final downloadable artifact.
type Packager interface {
	Append(frame []byte)
	// Finalize returns the complete artifact. Frames appended after the
	// first Finalize are discarded.
	Finalize() (*domain.Recording, error)
}
