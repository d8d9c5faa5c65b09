package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FullScale is the reference amplitude for dBFS conversions.
const FullScale = 32768.0

// PeakAmplitude returns the largest absolute sample value in samples.
// The most negative sample (-32768) yields 32768.
func PeakAmplitude(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// DBFS converts a peak amplitude to decibels relative to full scale.
// A peak of zero returns negative infinity, which compares below every
// threshold.
func DBFS(peak int) float64 {
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(peak)/FullScale)
}

// PeakDBFS is shorthand for DBFS(PeakAmplitude(samples)).
func PeakDBFS(samples []int16) float64 {
	return DBFS(PeakAmplitude(samples))
}

// ClampAdd returns a+b limited to [-limit, limit].
func ClampAdd(a, b int16, limit int32) int16 {
	return Clamp(int32(a)+int32(b), limit)
}

// Clamp limits v to [-limit, limit].
func Clamp(v, limit int32) int16 {
	switch {
	case v > limit:
		return int16(limit)
	case v < -limit:
		return int16(-limit)
	default:
		return int16(v)
	}
}

// Silence returns n zero samples.
func Silence(n int) []int16 {
	if n <= 0 {
		return nil
	}
	return make([]int16, n)
}

// BytesToSamples decodes little-endian signed 16-bit PCM. An odd byte count is
// rejected because it cannot be a whole number of samples.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out, nil
}

// SamplesToBytes encodes samples as little-endian signed 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
