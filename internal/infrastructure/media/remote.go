package media

import (
	"sync"

	apperrors "github.com/hi-zp/recording/pkg/errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// Remote decodes an inbound Opus track into a PCM stream consumable by the
// mixer and meter. The stream closes when the track ends or Remote is
// closed.
type Remote struct {
	stream   *Stream
	dec      *opus.Decoder
	receiver *webrtc.RTPReceiver

	mu     sync.Mutex
	closed bool

	logger *zap.SugaredLogger
}

// NewRemote starts the decode loop for the given remote track. sampleRate
// and channels are the local pipeline format; the decoder resamples Opus
// output to match. receiver may be nil; when set, Close stops it so the
// read loop releases without waiting for the peer connection to go away.
func NewRemote(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, sampleRate, channels int, logger *zap.SugaredLogger) (*Remote, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeEncoder, "failed to create opus decoder")
	}

	r := &Remote{
		stream:   NewStream("remote-"+track.ID(), sampleRate, channels),
		dec:      dec,
		receiver: receiver,
		logger:   logger,
	}
	go r.run(track)
	return r, nil
}

// Stream returns the decoded PCM stream. Identity is stable for the track's
// lifetime.
func (r *Remote) Stream() *Stream {
	return r.stream
}

func (r *Remote) run(track *webrtc.TrackRemote) {
	// 120ms at the pipeline rate bounds any legal Opus frame.
	pcm := make([]int16, r.stream.SampleRate()*120/1000*r.stream.Channels())
	var last *rtp.Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debugw("remote track ended", "error", err)
			r.stream.Close()
			return
		}
		if r.isClosed() {
			return
		}
		if last != nil && pkt.SequenceNumber != last.SequenceNumber+1 {
			r.logger.Debugw("rtp sequence gap",
				"expected", last.SequenceNumber+1, "got", pkt.SequenceNumber)
		}
		last = pkt
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := r.dec.Decode(pkt.Payload, pcm)
		if err != nil {
			r.logger.Warnw("opus decode failed", "error", err)
			continue
		}
		r.stream.Push(pcm[:n*r.stream.Channels()])
	}
}

func (r *Remote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops decoding and closes the stream. Idempotent.
func (r *Remote) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	if r.receiver != nil {
		// Unblocks a decode loop parked in ReadRTP.
		if err := r.receiver.Stop(); err != nil {
			r.logger.Debugw("rtp receiver stop failed", "error", err)
		}
	}
	r.stream.Close()
}
