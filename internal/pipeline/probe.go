package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult is the stream metadata extracted from encoded audio.
type ProbeResult struct {
	// DurationSeconds of decoded playback.
	DurationSeconds float64

	// SampleRate in Hz.
	SampleRate int

	// Channels (1 mono, 2 stereo).
	Channels int

	// BitsPerSample of the decoded samples. Derived from the sample
	// format for codecs that do not store a width.
	BitsPerSample int

	// SizeBytes of the encoded input.
	SizeBytes int64

	// Format is the container name as reported by ffprobe ("ogg", "mp3").
	Format string

	// Codec is the audio codec name ("opus", "mp3", "pcm_s16le").
	Codec string
}

// ffprobe's JSON output. Numeric fields arrive as strings.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	SampleRate    string `json:"sample_rate"`
	SampleFmt     string `json:"sample_fmt"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	Duration      string `json:"duration"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// parseProbeOutput extracts the first audio stream from ffprobe JSON.
func parseProbeOutput(data []byte) (ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var stream *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "audio" {
			stream = &out.Streams[i]
			break
		}
	}
	if stream == nil {
		return ProbeResult{}, errors.New("no audio stream found")
	}

	result := ProbeResult{
		Channels: stream.Channels,
		Codec:    stream.CodecName,
		Format:   firstToken(out.Format.FormatName),
	}
	result.SampleRate, _ = strconv.Atoi(stream.SampleRate)
	result.BitsPerSample = sampleWidth(stream)

	if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil && d > 0 {
		result.DurationSeconds = d
	} else if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		result.DurationSeconds = d
	}
	return result, nil
}

// sampleWidth resolves the decoded bit depth. Lossy codecs report
// bits_per_sample 0, so the sample format is the fallback.
func sampleWidth(s *probeStream) int {
	if s.BitsPerSample > 0 {
		return s.BitsPerSample
	}
	switch strings.TrimSuffix(s.SampleFmt, "p") {
	case "u8":
		return 8
	case "s16":
		return 16
	case "s32", "flt":
		return 32
	case "s64", "dbl":
		return 64
	}
	return 0
}

// parseVolumeDetect pulls max_volume and mean_volume out of volumedetect's
// stderr report and returns their gap in dB.
func parseVolumeDetect(stderr string) (float64, error) {
	var (
		mean, max   float64
		gotMean, ok bool
	)
	for _, line := range strings.Split(stderr, "\n") {
		if i := strings.Index(line, "mean_volume:"); i >= 0 {
			if v, err := parseDB(line[i+len("mean_volume:"):]); err == nil {
				mean, gotMean = v, true
			}
		}
		if i := strings.Index(line, "max_volume:"); i >= 0 {
			if v, err := parseDB(line[i+len("max_volume:"):]); err == nil {
				max, ok = v, true
			}
		}
	}
	if !gotMean || !ok {
		return 0, errors.New("volumedetect stats not found")
	}
	return max - mean, nil
}

func parseDB(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "dB"))
	return strconv.ParseFloat(s, 64)
}
