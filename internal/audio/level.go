package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square level of s16 little-endian PCM in sample
// units (0 to 32767).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ChunkDuration returns the playing time of pcm in milliseconds.
func ChunkDuration(pcm []byte, sampleRate int, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return len(pcm) / 2 / channels * 1000 / sampleRate
}
