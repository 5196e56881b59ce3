package audio

import (
	"bytes"
	"sync"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
)

// WAVPackager accumulates PCM frames in production order and wraps them in
// the RIFF/WAVE container at finalization. Only the first Finalize produces
// the artifact; frames appended afterwards are discarded.
type WAVPackager struct {
	rate     int
	channels int

	mu        sync.Mutex
	data      bytes.Buffer
	recording *domain.Recording
}

func NewWAVPackager(rate, channels int) *WAVPackager {
	return &WAVPackager{rate: rate, channels: channels}
}

func (p *WAVPackager) Append(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording != nil {
		return
	}
	p.data.Write(frame)
}

func (p *WAVPackager) Finalize() (*domain.Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording != nil {
		return p.recording, nil
	}
	p.recording = &domain.Recording{
		Data:       BuildWAV(p.data.Bytes(), p.rate, p.channels),
		Format:     "wav",
		SampleRate: p.rate,
		Channels:   p.channels,
		CreatedAt:  time.Now(),
	}
	return p.recording, nil
}

// OpusPackager accumulates raw Opus frames with no container.
type OpusPackager struct {
	rate     int
	channels int

	mu        sync.Mutex
	data      bytes.Buffer
	recording *domain.Recording
}

func NewOpusPackager(rate, channels int) *OpusPackager {
	return &OpusPackager{rate: rate, channels: channels}
}

func (p *OpusPackager) Append(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording != nil {
		return
	}
	p.data.Write(frame)
}

func (p *OpusPackager) Finalize() (*domain.Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording != nil {
		return p.recording, nil
	}
	p.recording = &domain.Recording{
		Data:       p.data.Bytes(),
		Format:     "opus",
		SampleRate: p.rate,
		Channels:   p.channels,
		CreatedAt:  time.Now(),
	}
	return p.recording, nil
}
