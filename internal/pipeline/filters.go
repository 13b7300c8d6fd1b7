package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// filterRate is the intermediate sample rate the pitch chain normalizes to
// before the asetrate trick. 48 kHz keeps the ogg path resample-free.
const filterRate = 48000

// buildFilterChain assembles the -af argument for the requested tempo and
// pitch adjustments. Empty when neither applies.
func buildFilterChain(rate, pitch float64) string {
	var filters []string
	if pitch != 0 {
		filters = append(filters, pitchFilters(pitch)...)
	}
	if rate > 0 && rate != 1.0 {
		filters = append(filters, tempoChain(rate)...)
	}
	return strings.Join(filters, ",")
}

// tempoChain realizes an arbitrary tempo multiplier as a chain of atempo
// instances. A single atempo accepts [0.5, 2.0], so multipliers outside
// that window are factored: 3.0 becomes atempo=2.0,atempo=1.5 and 0.1
// becomes atempo=0.5,atempo=0.5,atempo=0.4.
func tempoChain(rate float64) []string {
	var parts []string
	for rate > 2.0 {
		parts = append(parts, "atempo=2.0")
		rate /= 2.0
	}
	for rate < 0.5 {
		parts = append(parts, "atempo=0.5")
		rate /= 0.5
	}
	if math.Abs(rate-1.0) > 1e-9 {
		parts = append(parts, fmt.Sprintf("atempo=%s", trimFloat(rate)))
	}
	return parts
}

// pitchFilters shifts pitch by semitones without changing tempo. The input
// is resampled to a known rate, re-stamped faster or slower (which shifts
// pitch and tempo together), resampled back, and the tempo component is
// cancelled with an inverse atempo. ±12 semitones keeps the inverse inside
// a single atempo's [0.5, 2.0] window.
func pitchFilters(semitones float64) []string {
	factor := math.Pow(2, semitones/12)
	shifted := int(math.Round(filterRate * factor))
	return []string{
		fmt.Sprintf("aresample=%d", filterRate),
		fmt.Sprintf("asetrate=%d", shifted),
		fmt.Sprintf("aresample=%d", filterRate),
		fmt.Sprintf("atempo=%s", trimFloat(1 / factor)),
	}
}

// trimFloat formats a filter parameter without trailing zero noise.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
