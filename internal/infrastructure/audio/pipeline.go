package audio

import (
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	apperrors "github.com/hi-zp/recording/pkg/errors"

	"go.uber.org/zap"
)

// PipelineConfig fixes the mix format at creation time. FrameSamples is per
// channel; Format selects the artifact container ("wav" or "opus").
type PipelineConfig struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	Format       string
}

// Pipeline is one mix+encode+package session. It activates once exactly two
// PCM sources are registered, runs the mix+encode loop on its own goroutine
// per audio quantum, hands encoded frames to the packaging goroutine over a
// one-way channel, and produces a single artifact at finalization.
//
// A pipeline is never re-wired: any source-set change means finalizing this
// instance and creating a fresh one.
type Pipeline struct {
	cfg PipelineConfig
	enc ports.FrameEncoder
	pkg ports.Packager

	mu      sync.Mutex
	sources []ports.PCMStream
	active  bool
	stopped chan struct{}

	stopOnce sync.Once
	mixWg    sync.WaitGroup
	pkgWg    sync.WaitGroup
	frames   chan []byte

	logger *zap.SugaredLogger
}

func NewPipeline(cfg PipelineConfig, logger *zap.SugaredLogger) (*Pipeline, error) {
	var enc ports.FrameEncoder
	var err error
	switch cfg.Format {
	case "opus":
		enc, err = NewOpusFrameEncoder(cfg.SampleRate, cfg.Channels, logger)
	case "wav":
		enc = NewPCMFrameEncoder(cfg.SampleRate, cfg.Channels)
	default:
		err = apperrors.NewInvalidInputError("unknown artifact format: " + cfg.Format)
	}
	if err != nil {
		return nil, err
	}

	rate, channels := enc.Ready()
	logger.Infow("encoder ready", "sample_rate", rate, "channels", channels, "format", cfg.Format)

	var pkg ports.Packager
	if cfg.Format == "opus" {
		pkg = NewOpusPackager(rate, channels)
	} else {
		pkg = NewWAVPackager(rate, channels)
	}

	return &Pipeline{
		cfg:     cfg,
		enc:     enc,
		pkg:     pkg,
		stopped: make(chan struct{}),
		frames:  make(chan []byte, 64),
		logger:  logger,
	}, nil
}

// Register adds a PCM source. Mixing starts at exactly two registrations; a
// third source is rejected.
func (p *Pipeline) Register(stream ports.PCMStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sources) >= 2 {
		return apperrors.NewInvalidInputError("pipeline already has two sources")
	}
	p.sources = append(p.sources, stream)
	if len(p.sources) < 2 {
		return nil
	}

	p.active = true
	p.mixWg.Add(1)
	p.pkgWg.Add(1)
	go p.mixLoop(p.sources[0], p.sources[1])
	go p.packageLoop()
	p.logger.Infow("pipeline active", "local", p.sources[0].ID(), "remote", p.sources[1].ID())
	return nil
}

// Active reports whether both sources are registered and mixing runs.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pipeline) mixLoop(a, b ports.PCMStream) {
	defer p.mixWg.Done()
	defer close(p.frames)

	chA, unsubA := a.Subscribe(16)
	chB, unsubB := b.Subscribe(16)
	defer unsubA()
	defer unsubB()

	frameLen := p.cfg.FrameSamples * p.cfg.Channels
	mixed := make([]int16, frameLen)
	quantum := time.Duration(p.cfg.FrameSamples) * time.Second / time.Duration(p.cfg.SampleRate)
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			// Absent sources contribute silence for this quantum.
			fa := pull(chA)
			fb := pull(chB)
			if fa == nil && fb == nil {
				continue
			}
			mixInto(mixed, fa, fb)
			data, err := p.enc.Encode(mixed)
			if err != nil {
				p.logger.Warnw("frame encode failed", "error", err)
				continue
			}
			p.frames <- data
		}
	}
}

func pull(ch <-chan []int16) []int16 {
	select {
	case f := <-ch:
		return f
	default:
		return nil
	}
}

func (p *Pipeline) packageLoop() {
	defer p.pkgWg.Done()
	for frame := range p.frames {
		p.pkg.Append(frame)
	}
}

// Finalize stops both stages and returns the artifact. Idempotent: repeated
// calls return the first finalized recording.
func (p *Pipeline) Finalize() (*domain.Recording, error) {
	p.stopOnce.Do(func() {
		close(p.stopped)
		p.mu.Lock()
		started := p.active
		p.active = false
		p.mu.Unlock()
		if started {
			p.mixWg.Wait()
			p.pkgWg.Wait()
		}
		_ = p.enc.Close()
	})
	return p.pkg.Finalize()
}
