package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ttskit/ttskit/pkg/audio"
)

// Drivers label their output with a short format token. Encoded containers
// use their plain name ("mp3", "wav", "ogg"); raw PCM carries its geometry
// inline so the pipeline knows how to encode it without probing.

// PCMFormat builds the format token for little-endian 16-bit PCM, e.g.
// "pcm:s16le:22050:1".
func PCMFormat(sampleRate, channels int) string {
	return fmt.Sprintf("pcm:s16le:%d:%d", sampleRate, channels)
}

// ParsePCMFormat extracts the sample geometry from a PCM format token.
// Returns ok=false for encoded container tokens.
func ParsePCMFormat(format string) (audio.Format, bool) {
	parts := strings.Split(format, ":")
	if len(parts) != 4 || parts[0] != "pcm" || parts[1] != "s16le" {
		return audio.Format{}, false
	}
	rate, err := strconv.Atoi(parts[2])
	if err != nil || rate <= 0 {
		return audio.Format{}, false
	}
	ch, err := strconv.Atoi(parts[3])
	if err != nil || ch <= 0 {
		return audio.Format{}, false
	}
	return audio.Format{SampleRate: rate, Channels: ch}, true
}
