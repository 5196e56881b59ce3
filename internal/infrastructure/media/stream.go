package media

import (
	"sync"

	"github.com/hi-zp/recording/internal/core/ports"

	"go.uber.org/zap"
)

// Stream is a live PCM stream with fan-out to independent consumers (mixer,
// level meter, outbound encoder). Its identity is stable for the whole call:
// device switches swap the producer behind it, never the stream itself.
type Stream struct {
	id         string
	sampleRate int
	channels   int

	mu     sync.Mutex
	subs   map[int]chan []int16
	nextID int
	done   chan struct{}
	closed bool
}

func NewStream(id string, sampleRate, channels int) *Stream {
	return &Stream{
		id:         id,
		sampleRate: sampleRate,
		channels:   channels,
		subs:       make(map[int]chan []int16),
		done:       make(chan struct{}),
	}
}

func (s *Stream) ID() string      { return s.id }
func (s *Stream) SampleRate() int { return s.sampleRate }
func (s *Stream) Channels() int   { return s.channels }

// Subscribe registers a consumer. The returned channel closes on unsubscribe
// or stream close. Subscribing to a closed stream yields a closed channel.
func (s *Stream) Subscribe(buffer int) (<-chan []int16, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []int16, buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, unsub
}

// Push fans one frame out to every subscriber. The frame is copied once, so
// the producer may reuse its buffer. Slow consumers lose frames rather than
// stalling the producer.
func (s *Stream) Push(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.subs) == 0 {
		return
	}

	out := make([]int16, len(frame))
	copy(out, frame)

	for _, sub := range s.subs {
		select {
		case sub <- out:
		default:
		}
	}
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream: Done is closed and every subscriber channel is
// closed. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
}

// Pump drives a Stream from a capture source. The source is swappable in
// place, which is how a device switch preserves stream identity downstream.
type Pump struct {
	stream       *Stream
	frameSamples int

	mu      sync.Mutex
	src     ports.CaptureSource
	stopped bool
	changed chan struct{}

	logger *zap.SugaredLogger
}

// NewPump starts the read loop immediately. frameSamples is per channel.
func NewPump(stream *Stream, src ports.CaptureSource, frameSamples int, logger *zap.SugaredLogger) *Pump {
	p := &Pump{
		stream:       stream,
		frameSamples: frameSamples,
		src:          src,
		changed:      make(chan struct{}, 1),
		logger:       logger,
	}
	go p.run()
	return p
}

func (p *Pump) run() {
	buf := make([]int16, p.frameSamples*p.stream.Channels())
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		src := p.src
		p.mu.Unlock()

		n, err := src.Read(buf)
		if n > 0 {
			p.stream.Push(buf[:n])
		}
		if err != nil {
			// Source ended. Hold until it is swapped out or the pump stops;
			// the stream stays open so consumers keep their subscriptions.
			p.logger.Debugw("capture source ended, waiting for replacement", "device_id", src.DeviceID())
			<-p.changed
		}
	}
}

// Swap installs a new source and returns the previous one; the caller owns
// closing it.
func (p *Pump) Swap(src ports.CaptureSource) ports.CaptureSource {
	p.mu.Lock()
	old := p.src
	p.src = src
	p.mu.Unlock()
	p.notify()
	return old
}

// Source returns the currently active capture source.
func (p *Pump) Source() ports.CaptureSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

// Stop closes the active source and the stream. Idempotent.
func (p *Pump) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	src := p.src
	p.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	p.notify()
	p.stream.Close()
}

func (p *Pump) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}
