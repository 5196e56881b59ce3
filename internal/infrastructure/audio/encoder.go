package audio

import (
	apperrors "github.com/hi-zp/recording/pkg/errors"

	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// opusRates are the sample rates Opus accepts; a requested rendering rate
// outside this set snaps to the nearest legal one.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// NearestOpusRate snaps rate to the closest Opus-legal sample rate.
func NearestOpusRate(rate int) int {
	best := opusRates[0]
	for _, r := range opusRates[1:] {
		if abs(r-rate) < abs(best-rate) {
			best = r
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// OpusFrameEncoder compresses fixed-size PCM frames to raw Opus. The
// effective rate is fixed at creation and announced through Ready before any
// frame is accepted.
type OpusFrameEncoder struct {
	enc      *opus.Encoder
	rate     int
	channels int
	buf      []byte
}

func NewOpusFrameEncoder(requestedRate, channels int, logger *zap.SugaredLogger) (*OpusFrameEncoder, error) {
	rate := NearestOpusRate(requestedRate)
	if rate != requestedRate {
		logger.Infow("snapping encoder sample rate", "requested", requestedRate, "effective", rate)
	}
	enc, err := opus.NewEncoder(rate, channels, opus.AppAudio)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeEncoder, "failed to create opus encoder")
	}
	return &OpusFrameEncoder{
		enc:      enc,
		rate:     rate,
		channels: channels,
		buf:      make([]byte, 4000),
	}, nil
}

func (e *OpusFrameEncoder) Ready() (int, int) {
	return e.rate, e.channels
}

func (e *OpusFrameEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeEncoder, "opus encode failed")
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

func (e *OpusFrameEncoder) Close() error { return nil }

// PCMFrameEncoder is the passthrough stage for the WAV artifact: frames go
// out as 16-bit little-endian bytes and the container is applied at
// packaging time.
type PCMFrameEncoder struct {
	rate     int
	channels int
}

func NewPCMFrameEncoder(rate, channels int) *PCMFrameEncoder {
	return &PCMFrameEncoder{rate: rate, channels: channels}
}

func (e *PCMFrameEncoder) Ready() (int, int) {
	return e.rate, e.channels
}

func (e *PCMFrameEncoder) Encode(pcm []int16) ([]byte, error) {
	return PCM16Bytes(pcm), nil
}

func (e *PCMFrameEncoder) Close() error { return nil }
