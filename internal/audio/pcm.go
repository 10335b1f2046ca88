package audio

import (
	"encoding/binary"
	"math"
)

// Samples decodes little-endian PCM16. A trailing odd byte is ignored.
func Samples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Mono averages interleaved frames across channels. An incomplete trailing frame is
// dropped.
func Mono(s []int16, channels int) []int16 {
	if channels <= 1 {
		return s
	}
	frames := len(s) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(s[f*channels+c])
		}
		out[f] = int16(sum / int32(channels))
	}
	return out
}

// RMS is the root mean square level of a PCM16 buffer.
func RMS(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	var sum float64
	n := len(b) / 2
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(b[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
