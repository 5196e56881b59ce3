package rtc

import (
	"testing"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/pkg/logger"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMixTrack(t *testing.T) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "mix")
	require.NoError(t, err)
	return track
}

// forward pumps one direction of the signaling exchange into the receiving
// session, preserving arrival order.
func forward(ch <-chan *domain.SignalPayload, to *Session) {
	for p := range ch {
		if p.SDP != nil {
			_ = to.HandleRemoteDescription(p.SDP)
		}
		if p.Candidate != nil {
			to.HandleRemoteCandidate(*p.Candidate)
		}
	}
}

func newTestSession(t *testing.T, role domain.Role, out chan *domain.SignalPayload, states chan domain.CallState) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{Role: role}, SessionCallbacks{
		Publish: func(p *domain.SignalPayload) error {
			out <- p
			return nil
		},
		OnStateChange: func(state domain.CallState) {
			states <- state
		},
	}, logger.New("error").Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForState(t *testing.T, states <-chan domain.CallState, want domain.CallState) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
			if got == domain.CallStateFailed {
				t.Fatalf("session failed while waiting for %s", want)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func TestOffererAnswererConnect(t *testing.T) {
	aOut := make(chan *domain.SignalPayload, 64)
	bOut := make(chan *domain.SignalPayload, 64)
	aStates := make(chan domain.CallState, 16)
	bStates := make(chan domain.CallState, 16)

	a := newTestSession(t, domain.RoleOfferer, aOut, aStates)
	b := newTestSession(t, domain.RoleAnswerer, bOut, bStates)

	go forward(aOut, b)
	go forward(bOut, a)

	// Adding the outbound track fires negotiation-needed on the offerer.
	sender, err := a.AddOutboundTrack(newMixTrack(t))
	require.NoError(t, err)
	require.NotNil(t, sender)

	waitForState(t, aStates, domain.CallStateConnected)
	waitForState(t, bStates, domain.CallStateConnected)
	assert.Equal(t, domain.CallStateConnected, a.State())
	assert.Equal(t, domain.CallStateConnected, b.State())
}

func TestTransportIdentityStableAcrossTrackReplace(t *testing.T) {
	aOut := make(chan *domain.SignalPayload, 64)
	bOut := make(chan *domain.SignalPayload, 64)
	aStates := make(chan domain.CallState, 16)
	bStates := make(chan domain.CallState, 16)

	a := newTestSession(t, domain.RoleOfferer, aOut, aStates)
	b := newTestSession(t, domain.RoleAnswerer, bOut, bStates)

	go forward(aOut, b)
	go forward(bOut, a)

	sender, err := a.AddOutboundTrack(newMixTrack(t))
	require.NoError(t, err)

	waitForState(t, aStates, domain.CallStateConnected)

	before := a.Transport()
	require.NoError(t, sender.ReplaceTrack(newMixTrack(t)))
	assert.Same(t, before, a.Transport())
	assert.Equal(t, domain.CallStateConnected, a.State())
}

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	out := make(chan *domain.SignalPayload, 64)
	states := make(chan domain.CallState, 16)
	s := newTestSession(t, domain.RoleAnswerer, out, states)

	mid := "0"
	idx := uint16(0)
	s.HandleRemoteCandidate(domain.ICECandidate{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})

	assert.Equal(t, 1, s.queue.Len())
	assert.False(t, s.queue.Drained())
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	out := make(chan *domain.SignalPayload, 64)
	states := make(chan domain.CallState, 16)
	s := newTestSession(t, domain.RoleAnswerer, out, states)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, domain.CallStateClosed, s.State())

	// Signals arriving after teardown are dropped, not errors.
	assert.NoError(t, s.HandleRemoteDescription(&domain.SessionDescription{Type: "offer", SDP: "v=0"}))
	s.HandleRemoteCandidate(domain.ICECandidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 1 typ host"})
	assert.Equal(t, domain.CallStateClosed, s.State())
}

func TestTerminalStateIsNeverLeft(t *testing.T) {
	out := make(chan *domain.SignalPayload, 64)
	states := make(chan domain.CallState, 16)
	s := newTestSession(t, domain.RoleAnswerer, out, states)

	require.NoError(t, s.Close())
	s.setState(domain.CallStateConnected)
	assert.Equal(t, domain.CallStateClosed, s.State())
}
