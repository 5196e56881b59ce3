package media

import (
	"io"
	"testing"
	"time"

	"github.com/hi-zp/recording/internal/core/ports"
	"github.com/hi-zp/recording/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFanOutCopiesFrames(t *testing.T) {
	s := NewStream("local", 48000, 1)
	a, unsubA := s.Subscribe(4)
	b, unsubB := s.Subscribe(4)
	defer unsubA()
	defer unsubB()

	buf := []int16{1, 2, 3, 4}
	s.Push(buf)
	buf[0] = 99 // producer reuses its buffer

	assert.Equal(t, []int16{1, 2, 3, 4}, <-a)
	assert.Equal(t, []int16{1, 2, 3, 4}, <-b)
}

func TestStreamSlowConsumerLosesFrames(t *testing.T) {
	s := NewStream("local", 48000, 1)
	ch, unsub := s.Subscribe(1)
	defer unsub()

	s.Push([]int16{1})
	s.Push([]int16{2}) // dropped, consumer buffer full

	assert.Equal(t, []int16{1}, <-ch)
	select {
	case f := <-ch:
		t.Fatalf("expected second frame dropped, got %v", f)
	default:
	}
}

func TestStreamUnsubscribeClosesChannel(t *testing.T) {
	s := NewStream("local", 48000, 1)
	ch, unsub := s.Subscribe(1)
	unsub()
	unsub() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
	s.Push([]int16{1}) // no panic, no delivery
}

func TestStreamCloseClosesEverything(t *testing.T) {
	s := NewStream("local", 48000, 1)
	ch, _ := s.Subscribe(1)

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := s.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestPumpDeliversFramesInOrder(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5, 6, 7, 8}
	src := NewBufferSource("buf", samples, 48000, 1, false, false)

	s := NewStream("local", 48000, 1)
	ch, unsub := s.Subscribe(64)
	defer unsub()

	p := NewPump(s, src, 4, logger.New("error").Sugar())
	defer p.Stop()

	var got []int16
	deadline := time.After(3 * time.Second)
	for len(got) < len(samples) {
		select {
		case frame := <-ch:
			got = append(got, frame...)
		case <-deadline:
			t.Fatalf("timeout, got %v", got)
		}
	}
	assert.Equal(t, samples, got)
}

func TestPumpSwapKeepsStreamOpen(t *testing.T) {
	src := NewBufferSource("buf", []int16{1, 2, 3, 4}, 48000, 1, false, false)
	s := NewStream("local", 48000, 1)
	ch, unsub := s.Subscribe(64)
	defer unsub()

	p := NewPump(s, src, 4, logger.New("error").Sugar())

	// Drain the finite source, then swap in a tone and expect fresh frames.
	waitFrame(t, ch)
	old := p.Swap(NewToneSource("tone", 440, 48000, 1, 4, false))
	require.NoError(t, old.Close())

	deadline := time.After(3 * time.Second)
	for {
		frame := waitFrameDeadline(t, ch, deadline)
		if frame[0] != 0 && frame[0] != 1 && frame[0] != 2 && frame[0] != 3 && frame[0] != 4 {
			break // tone sample observed
		}
	}

	select {
	case <-s.Done():
		t.Fatal("stream closed by swap")
	default:
	}

	p.Stop()
	p.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not closed by Stop")
	}
}

func waitFrame(t *testing.T, ch <-chan []int16) []int16 {
	t.Helper()
	return waitFrameDeadline(t, ch, time.After(3*time.Second))
}

func waitFrameDeadline(t *testing.T, ch <-chan []int16, deadline <-chan time.Time) []int16 {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("frame channel closed")
		}
		return f
	case <-deadline:
		t.Fatal("timeout waiting for frame")
		panic("unreachable")
	}
}

func TestBufferSourceEndsWithEOF(t *testing.T) {
	src := NewBufferSource("buf", []int16{1, 2}, 48000, 1, false, false)
	dst := make([]int16, 4)

	n, err := src.Read(dst)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	ev := <-src.Events()
	assert.Equal(t, ports.SourceEnded, ev.Kind)

	_, err = src.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
}

func TestToneSourceMuteProducesSilence(t *testing.T) {
	src := NewToneSource("tone", 440, 48000, 1, 16, false)
	defer src.Close()

	dst := make([]int16, 16)
	_, err := src.Read(dst)
	require.NoError(t, err)
	nonZero := false
	for _, v := range dst {
		if v != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero, "unmuted tone should be non-silent")

	src.Mute()
	_, err = src.Read(dst)
	require.NoError(t, err)
	for _, v := range dst {
		assert.Zero(t, v)
	}
}
