// ABOUTME: PCM sample conversion helpers
// ABOUTME: Converts between float32 capture frames, int16 samples and little-endian bytes
package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 converts a normalized float sample to int16, clipping out-of-range input
func Float32ToInt16(sample float32) int16 {
	if sample >= 1 {
		return math.MaxInt16
	}
	if sample <= -1 {
		return math.MinInt16
	}
	if sample < 0 {
		return int16(sample * 0x8000)
	}
	return int16(sample * 0x7FFF)
}

// Int16ToFloat32 converts an int16 sample to the [-1, 1] range
func Int16ToFloat32(sample int16) float32 {
	if sample < 0 {
		return float32(sample) / 0x8000
	}
	return float32(sample) / 0x7FFF
}

// Int16ToBytes packs samples as 16-bit little-endian PCM
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks 16-bit little-endian PCM. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// DownmixToMono averages interleaved channels into one
func DownmixToMono(frames []float32, channels int) []float32 {
	if channels <= 1 {
		return frames
	}
	out := make([]float32, len(frames)/channels)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += frames[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// DownmixInt16ToMono averages interleaved int16 channels into one
func DownmixInt16ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
