package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVExactLayoutForKnownInput(t *testing.T) {
	samples := FloatsToPCM16([]float32{0.0, 0.5, -1.0, 1.0})
	assert.Equal(t, []int16{0, 16383, -32768, 32767}, samples)

	buf := BuildWAV(PCM16Bytes(samples), 44100, 1)

	require.Len(t, buf, 52)
	assert.Equal(t, "RIFF", string(buf[0:4]))
	assert.Equal(t, uint32(44), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, "WAVE", string(buf[8:12]))
	assert.Equal(t, "fmt ", string(buf[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(buf[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(buf[24:28]))
	assert.Equal(t, uint32(44100*2), binary.LittleEndian.Uint32(buf[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[32:34]))
	assert.Equal(t, "data", string(buf[36:40]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(buf[40:44]))

	assert.Equal(t, uint16(0x0000), binary.LittleEndian.Uint16(buf[44:46]))
	assert.Equal(t, uint16(0x3FFF), binary.LittleEndian.Uint16(buf[46:48]))
	assert.Equal(t, uint16(0x8000), binary.LittleEndian.Uint16(buf[48:50]))
	assert.Equal(t, uint16(0x7FFF), binary.LittleEndian.Uint16(buf[50:52]))
}

func TestWAVStereoHeaderFields(t *testing.T) {
	buf := BuildWAV(make([]byte, 16), 48000, 2)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[22:24]))
	// byte rate stays sampleRate*2 even for two channels; block align is 4
	assert.Equal(t, uint32(48000*2), binary.LittleEndian.Uint32(buf[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(buf[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(buf[34:36]))
	assert.Equal(t, uint32(36+16), binary.LittleEndian.Uint32(buf[4:8]))
}

func TestParseWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 16383, -32768, 32767}
	buf := BuildWAV(PCM16Bytes(samples), 44100, 1)

	got, rate, channels, err := ParseWAV(buf)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
	assert.Equal(t, 44100, rate)
	assert.Equal(t, 1, channels)

	_, _, _, err = ParseWAV([]byte("nope"))
	assert.Error(t, err)
}

func TestFloatClampOutsideUnitRange(t *testing.T) {
	assert.Equal(t, int16(-32768), FloatToPCM16(-2.5))
	assert.Equal(t, int16(32767), FloatToPCM16(7.0))
}
