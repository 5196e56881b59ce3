package media

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	"github.com/hi-zp/recording/internal/core/ports"
	apperrors "github.com/hi-zp/recording/pkg/errors"
	"github.com/hi-zp/recording/pkg/logger"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toneDevice(id string) SimulatedDevice {
	return SimulatedDevice{
		Info: ports.DeviceInfo{ID: id, Label: id, Kind: domain.MediaAudio},
		Open: func(c ports.AudioConstraints) (ports.CaptureSource, error) {
			rate, ch := c.SampleRate, c.ChannelCount
			if rate == 0 {
				rate = 48000
			}
			if ch == 0 {
				ch = 1
			}
			return NewToneSource(id, 440, rate, ch, 960, true), nil
		},
	}
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		SampleRate:        48000,
		Channels:          1,
		FrameSamples:      960,
		MuteRecoveryDelay: 50 * time.Millisecond,
	}
}

func TestAcquireInitialFallbackChain(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	var attempts int32
	provider.FailOpens(func(c ports.AudioConstraints) error {
		atomic.AddInt32(&attempts, 1)
		if c.EchoCancellation {
			return apperrors.NewDeviceError("constrained acquisition rejected")
		}
		return nil
	})

	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	stream, err := m.AcquireInitial()
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 48000, stream.SampleRate())
}

func TestAcquireInitialAllTiersExhausted(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	provider.FailOpens(func(ports.AudioConstraints) error {
		return apperrors.NewDeviceError("permission denied")
	})

	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	_, err := m.AcquireInitial()
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDevice, apperrors.CodeOf(err))
}

func TestSwitchDeviceKeepsStreamIdentityAndSwapsTrack(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"), toneDevice("mic-2"))
	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	stream, err := m.AcquireInitial()
	require.NoError(t, err)
	oldTrack := m.OutboundTrack()
	require.NotNil(t, oldTrack)

	var replacedWith webrtc.TrackLocal
	m.SetTrackReplacer(func(track webrtc.TrackLocal) error {
		replacedWith = track
		return nil
	})

	require.NoError(t, m.SwitchDevice("mic-2"))

	assert.Same(t, stream, m.Stream())
	require.NotNil(t, replacedWith)
	assert.NotSame(t, oldTrack, replacedWith)
	assert.Same(t, m.OutboundTrack(), replacedWith)

	m.mu.Lock()
	assert.Equal(t, "mic-2", m.source.DeviceID())
	m.mu.Unlock()
}

func TestSwitchDeviceRelaxesWhenExactFails(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	_, err := m.AcquireInitial()
	require.NoError(t, err)
	m.SetTrackReplacer(func(webrtc.TrackLocal) error { return nil })

	require.NoError(t, m.SwitchDevice("unplugged-mic"))

	m.mu.Lock()
	assert.Equal(t, "mic-1", m.source.DeviceID())
	m.mu.Unlock()
}

func TestMuteSelfHealsAfterDelay(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	var opens int32
	provider.FailOpens(func(ports.AudioConstraints) error {
		atomic.AddInt32(&opens, 1)
		return nil
	})

	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	_, err := m.AcquireInitial()
	require.NoError(t, err)
	m.SetTrackReplacer(func(webrtc.TrackLocal) error { return nil })
	before := atomic.LoadInt32(&opens)

	m.mu.Lock()
	tone := m.source.(*ToneSource)
	m.mu.Unlock()
	tone.Mute()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&opens) > before
	}, 2*time.Second, 10*time.Millisecond, "expected automatic reacquisition after persistent mute")
}

func TestMuteBlipDoesNotReacquire(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	var opens int32
	provider.FailOpens(func(ports.AudioConstraints) error {
		atomic.AddInt32(&opens, 1)
		return nil
	})

	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	_, err := m.AcquireInitial()
	require.NoError(t, err)
	before := atomic.LoadInt32(&opens)

	m.mu.Lock()
	tone := m.source.(*ToneSource)
	m.mu.Unlock()
	tone.Mute()
	time.Sleep(10 * time.Millisecond)
	tone.Unmute()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&opens))
}

func TestNoMicrophoneIsFatal(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())
	defer m.Release()

	fatal := make(chan error, 1)
	m.OnFatal(func(err error) { fatal <- err })

	_, err := m.AcquireInitial()
	require.NoError(t, err)

	provider.SetDevices() // everything unplugged

	select {
	case err := <-fatal:
		assert.Equal(t, apperrors.ErrCodeDevice, apperrors.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal notification for empty device list")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	provider := NewSimulatedProvider(toneDevice("mic-1"))
	m := NewManager(provider, testManagerConfig(), logger.New("error").Sugar())

	stream, err := m.AcquireInitial()
	require.NoError(t, err)

	m.Release()
	m.Release()

	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not closed by release")
	}
	require.Error(t, m.SwitchDevice("mic-1"))
}
