package audio

import "math"

// Peak returns the largest absolute sample value in the PCM data, normalized
// to [0, 1].
func Peak(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(pcm[i]) | int16(pcm[i+1])<<8)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768.0
}

// RMS returns the root-mean-square level of the PCM data, normalized to
// [0, 1]. Silence returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// DynamicRangeDB returns the peak-to-RMS ratio in decibels, a cheap proxy
// for dynamic range. Returns 0 for silent or empty input.
func DynamicRangeDB(pcm []byte) float64 {
	peak := Peak(pcm)
	rms := RMS(pcm)
	if peak <= 0 || rms <= 0 {
		return 0
	}
	return 20 * math.Log10(peak/rms)
}
