package audio

import (
	"math"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/ports"

	"go.uber.org/zap"
)

const (
	// meterWindow is the RMS analysis window in samples.
	meterWindow = 512
	// meterSensitivity scales the normalized RMS before clamping to [0,1].
	meterSensitivity = 2.0
)

// Meter computes per-stream RMS volume for UI feedback. It subscribes
// independently of the mix pipeline, publishes at a fixed cadence, and fully
// releases its resources when the stream ends or it is stopped. It never
// participates in the negotiation critical path.
type Meter struct {
	stream  ports.PCMStream
	unsub   func()
	onLevel func(float64)

	mu       sync.Mutex
	level    float64
	released bool

	stopOnce sync.Once
	logger   *zap.SugaredLogger
}

// NewMeter starts analysis immediately. onLevel may be nil; cadence is the
// publish interval.
func NewMeter(stream ports.PCMStream, cadence time.Duration, onLevel func(float64), logger *zap.SugaredLogger) *Meter {
	m := &Meter{
		stream:  stream,
		onLevel: onLevel,
		logger:  logger,
	}
	frames, unsub := stream.Subscribe(8)
	m.unsub = unsub
	go m.run(frames, cadence)
	return m
}

func (m *Meter) run(frames <-chan []int16, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	window := make([]int16, 0, meterWindow)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				m.Stop()
				return
			}
			for len(frame) > 0 {
				n := meterWindow - len(window)
				if n > len(frame) {
					n = len(frame)
				}
				window = append(window, frame[:n]...)
				frame = frame[n:]
				if len(window) == meterWindow {
					m.setLevel(rms(window))
					window = window[:0]
				}
			}
		case <-ticker.C:
			m.mu.Lock()
			level := m.level
			released := m.released
			m.mu.Unlock()
			if released {
				return
			}
			if m.onLevel != nil {
				m.onLevel(level)
			}
		case <-m.stream.Done():
			m.Stop()
			return
		}
	}
}

func rms(window []int16) float64 {
	var sum float64
	for _, s := range window {
		v := float64(s) / 32768
		sum += v * v
	}
	level := math.Sqrt(sum/float64(len(window))) * meterSensitivity
	if level > 1 {
		level = 1
	}
	return level
}

func (m *Meter) setLevel(level float64) {
	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
}

// Level returns the latest published value in [0, 1].
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Released reports whether analysis resources have been dropped.
func (m *Meter) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Stop unsubscribes and marks the meter released. Idempotent; also invoked
// internally when the source stream ends.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.released = true
		m.level = 0
		m.mu.Unlock()
		m.unsub()
	})
}
