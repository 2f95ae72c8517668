package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16LE converts signed 16-bit little-endian PCM into samples in [-1,1).
// A trailing odd byte is ignored.
func DecodePCM16LE(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
	}
	return out
}

// EncodePCM16LE converts samples in [-1,1] into signed 16-bit little-endian PCM.
func EncodePCM16LE(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*32767))))
	}
	return out
}

// RMS returns the root mean square of the samples, clamped to [0,1].
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples))))
}
