package media

import (
	"sync"
	"time"

	apperrors "github.com/hi-zp/recording/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// Sender encodes a local PCM stream to Opus and writes it into a sample
// track. One Sender exists per capture source; a device switch builds a new
// Sender and swaps its track into the existing RTP sender.
type Sender struct {
	track        *webrtc.TrackLocalStaticSample
	enc          *opus.Encoder
	frameSamples int
	unsub        func()

	stopOnce sync.Once
	logger   *zap.SugaredLogger
}

// NewSender subscribes to the stream and starts the encode loop.
// frameSamples is per channel and must be an Opus-legal frame size for the
// stream's sample rate.
func NewSender(stream *Stream, frameSamples int, logger *zap.SugaredLogger) (*Sender, error) {
	enc, err := opus.NewEncoder(stream.SampleRate(), stream.Channels(), opus.AppVoIP)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeEncoder, "failed to create opus encoder")
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: uint32(stream.SampleRate()),
		Channels:  uint16(stream.Channels()),
	}, "audio", stream.ID())
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeEncoder, "failed to create outbound track")
	}

	frames, unsub := stream.Subscribe(8)
	s := &Sender{
		track:        track,
		enc:          enc,
		frameSamples: frameSamples,
		unsub:        unsub,
		logger:       logger,
	}
	go s.run(frames, time.Duration(frameSamples)*time.Second/time.Duration(stream.SampleRate()))
	return s, nil
}

// Track returns the sample track to attach (or swap) on the transport.
func (s *Sender) Track() *webrtc.TrackLocalStaticSample {
	return s.track
}

func (s *Sender) run(frames <-chan []int16, frameDuration time.Duration) {
	buf := make([]byte, 1500)
	for pcm := range frames {
		n, err := s.enc.Encode(pcm, buf)
		if err != nil {
			s.logger.Warnw("opus encode failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if err := s.track.WriteSample(media.Sample{Data: data, Duration: frameDuration}); err != nil {
			s.logger.Debugw("write sample failed", "error", err)
		}
	}
}

// Stop detaches from the stream; the encode loop drains and exits.
func (s *Sender) Stop() {
	s.stopOnce.Do(s.unsub)
}
