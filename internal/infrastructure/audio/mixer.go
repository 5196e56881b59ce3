package audio

// mixInto sums two interleaved PCM frames at unity gain into dst, clipping
// to the int16 range. Short inputs are treated as silence beyond their
// length.
func mixInto(dst, a, b []int16) {
	for i := range dst {
		var sum int32
		if i < len(a) {
			sum += int32(a[i])
		}
		if i < len(b) {
			sum += int32(b[i])
		}
		if sum > 32767 {
			sum = 32767
		}
		if sum < -32768 {
			sum = -32768
		}
		dst[i] = int16(sum)
	}
}
