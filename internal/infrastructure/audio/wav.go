package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// BuildWAV wraps 16-bit little-endian PCM data in a RIFF/WAVE header: PCM
// format tag 1, fmt sub-chunk length 16, block align channels*2. The byte
// rate field is written as sampleRate*2 regardless of channels, matching
// the layout existing consumers of these artifacts expect.
func BuildWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * 2
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// FloatToPCM16 clamps s to [-1, 1] and scales asymmetrically: negative
// values by 0x8000, positive by 0x7FFF.
func FloatToPCM16(s float32) int16 {
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// FloatsToPCM16 converts a float sample buffer with the FloatToPCM16
// formula.
func FloatsToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// ParseWAV reads a 16-bit PCM RIFF/WAVE buffer produced by BuildWAV or any
// canonical writer, returning the interleaved samples.
func ParseWAV(data []byte) (samples []int16, sampleRate, channels int, err error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE buffer")
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 || binary.LittleEndian.Uint16(data[34:36]) != 16 {
		return nil, 0, 0, errors.New("only 16-bit PCM is supported")
	}
	channels = int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	n := int(binary.LittleEndian.Uint32(data[40:44]))
	if wavHeaderSize+n > len(data) {
		n = len(data) - wavHeaderSize
	}
	pcm := data[wavHeaderSize : wavHeaderSize+n]
	samples = make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples, sampleRate, channels, nil
}

// PCM16Bytes serializes samples as 16-bit little-endian.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
