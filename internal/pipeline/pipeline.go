// Package pipeline implements the audio post-processing stage: transcoding
// engine output into the requested container, probing stream metadata and
// scoring perceptual quality.
//
// Transcoding shells out to ffmpeg with stdin/stdout pipes so no temp files
// are written for byte input. Engines that emit raw PCM take a native
// OGG/Opus path through pkg/audio/oggopus and skip the subprocess entirely.
// CPU-bound encodes pass through a weighted semaphore sized to GOMAXPROCS
// so a burst of requests cannot fork an unbounded number of encoders.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ttskit/ttskit/pkg/audio"
	"github.com/ttskit/ttskit/pkg/audio/oggopus"
	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

// Sentinel errors. Callers usually match on the error kind instead; these
// exist for tests and for errors.Is chains.
var (
	ErrFFmpegMissing = errors.New("pipeline: ffmpeg not found in PATH")
	ErrEmptySource   = errors.New("pipeline: empty source audio")
)

const (
	defaultOggBitrate = 64  // kbps, voice-tuned opus
	defaultMP3Bitrate = 128 // kbps

	// opusRate is the only sample rate the opus encoder accepts for our
	// frame size; everything is resampled to it on the ogg path.
	opusRate = 48000
)

// TranscodeOptions tune a single conversion. The zero value repackages the
// source into the target container without filtering.
type TranscodeOptions struct {
	// Rate is the tempo multiplier applied in post for engines without
	// native rate control. 0 and 1 leave tempo unchanged.
	Rate float64

	// Pitch is the shift in semitones applied in post. 0 leaves pitch
	// unchanged.
	Pitch float64

	// SampleRate overrides the output sample rate. 0 keeps the container
	// default.
	SampleRate int

	// Channels overrides the output channel count. 0 keeps the source
	// layout.
	Channels int

	// BitrateKbps overrides the lossy encoder bitrate. 0 selects the
	// per-container default.
	BitrateKbps int
}

// Option is a functional option for the Pipeline.
type Option func(*Pipeline)

// WithFFmpeg overrides the ffmpeg binary name or path.
func WithFFmpeg(path string) Option {
	return func(p *Pipeline) {
		p.ffmpegName = path
	}
}

// WithFFprobe overrides the ffprobe binary name or path.
func WithFFprobe(path string) Option {
	return func(p *Pipeline) {
		p.ffprobeName = path
	}
}

// WithWorkers caps concurrent ffmpeg encodes. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// Pipeline converts, probes and scores audio. Safe for concurrent use.
type Pipeline struct {
	ffmpegName  string
	ffprobeName string
	sem         *semaphore.Weighted

	ffmpegOnce  sync.Once
	ffmpegPath  string
	ffmpegErr   error
	ffprobeOnce sync.Once
	ffprobePath string
	ffprobeErr  error

	codecOnce  sync.Once
	hasLibopus bool
}

// New constructs a Pipeline. Binary resolution is deferred to first use so
// construction never fails; a missing ffmpeg surfaces per call as
// FFMPEG_MISSING.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		ffmpegName:  "ffmpeg",
		ffprobeName: "ffprobe",
		sem:         semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Transcode converts src (encoded in srcFormat, either a container name or
// a pcm token) into the target container and returns the finished artifact.
// Duration and stream geometry are probed best-effort; a zero duration
// means the probe failed, not that the conversion did.
func (p *Pipeline) Transcode(ctx context.Context, src []byte, srcFormat string, target types.AudioFormat, opts TranscodeOptions) (types.AudioArtifact, error) {
	if len(src) == 0 {
		return types.AudioArtifact{}, types.WrapKind(types.KindConversionFailed, ErrEmptySource)
	}
	if !target.IsValid() {
		return types.AudioArtifact{}, types.Kindf(types.KindConversionFailed, "pipeline: unknown target format %q", target)
	}

	// Native paths for raw PCM input: no subprocess, no filter graph.
	if pcm, ok := engine.ParsePCMFormat(srcFormat); ok && !opts.filtered() {
		if art, ok := p.transcodeNative(src, pcm, target, opts); ok {
			return art, nil
		}
	}

	out, err := p.runFFmpeg(ctx, src, srcFormat, target, opts)
	if err != nil {
		return types.AudioArtifact{}, err
	}

	art := types.AudioArtifact{
		Bytes:     out,
		Format:    target,
		SizeBytes: len(out),
	}
	if probe, err := p.Probe(ctx, out); err == nil {
		art.DurationSeconds = probe.DurationSeconds
		art.SampleRate = probe.SampleRate
		art.Channels = probe.Channels
	} else {
		slog.Debug("pipeline: probe of transcoded output failed", "target", target, "err", err)
	}
	return art, nil
}

// TranscodeFile converts the audio file at srcPath into target, writing the
// result to dstPath. The destination directory is created if needed.
func (p *Pipeline) TranscodeFile(ctx context.Context, srcPath, dstPath string, target types.AudioFormat, opts TranscodeOptions) error {
	if _, err := os.Stat(srcPath); err != nil {
		return types.WrapKind(types.KindSourceNotFound, fmt.Errorf("pipeline: source: %w", err))
	}
	if !target.IsValid() {
		return types.Kindf(types.KindConversionFailed, "pipeline: unknown target format %q", target)
	}
	if dir := filepath.Dir(dstPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: create output dir: %w", err))
		}
	}

	bin, err := p.ffmpeg()
	if err != nil {
		return err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", srcPath}
	args = append(args, p.encodeArgs(ctx, target, opts)...)
	args = append(args, dstPath)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: %w", err))
	}
	defer p.sem.Release(1)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dstPath)
		return p.classifyRun(err, stderr.String())
	}
	return nil
}

// Probe extracts stream metadata from encoded audio via ffprobe.
func (p *Pipeline) Probe(ctx context.Context, src []byte) (ProbeResult, error) {
	if len(src) == 0 {
		return ProbeResult{}, types.WrapKind(types.KindConversionFailed, ErrEmptySource)
	}
	bin, err := p.ffprobe()
	if err != nil {
		return ProbeResult{}, err
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		"pipe:0",
	)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, p.classifyRun(fmt.Errorf("probe: %w", err), stderr.String())
	}

	result, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return ProbeResult{}, types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: %w", err))
	}
	result.SizeBytes = int64(len(src))
	return result, nil
}

// Score rates encoded audio 0..100 from its stream geometry and dynamic
// range. Higher sample rates, wider samples, more channels and a larger
// peak-to-mean gap all score higher.
func (p *Pipeline) Score(ctx context.Context, src []byte) (int, error) {
	probe, err := p.Probe(ctx, src)
	if err != nil {
		return 0, err
	}

	score := 0
	switch {
	case probe.SampleRate >= 44100:
		score += 30
	case probe.SampleRate >= 22050:
		score += 20
	default:
		score += 10
	}
	switch {
	case probe.BitsPerSample >= 16:
		score += 30
	case probe.BitsPerSample >= 8:
		score += 20
	default:
		score += 10
	}
	if probe.Channels >= 2 {
		score += 20
	} else {
		score += 15
	}

	dr, err := p.dynamicRange(ctx, src)
	switch {
	case err != nil:
		// Measurement failure costs the lowest band, not the request.
		slog.Debug("pipeline: volumedetect failed", "err", err)
		score += 10
	case dr > 20:
		score += 20
	case dr > 10:
		score += 15
	default:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score, nil
}

// dynamicRange measures the peak-to-mean volume gap in dB using ffmpeg's
// volumedetect filter; the stats land on stderr.
func (p *Pipeline) dynamicRange(ctx context.Context, src []byte) (float64, error) {
	bin, err := p.ffmpeg()
	if err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner",
		"-i", "pipe:0",
		"-af", "volumedetect",
		"-f", "null", "-",
	)
	cmd.Stdin = bytes.NewReader(src)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, p.classifyRun(fmt.Errorf("volumedetect: %w", err), stderr.String())
	}
	return parseVolumeDetect(stderr.String())
}

// transcodeNative serves PCM input without ffmpeg where the target allows
// it. Returns ok=false to fall back to the subprocess path.
func (p *Pipeline) transcodeNative(src []byte, pcm audio.Format, target types.AudioFormat, opts TranscodeOptions) (types.AudioArtifact, bool) {
	switch target {
	case types.FormatOGG:
		bitrate := opts.BitrateKbps
		if bitrate <= 0 {
			bitrate = defaultOggBitrate
		}
		data, err := oggopus.Encode(src, pcm, bitrate*1000)
		if err != nil {
			slog.Warn("pipeline: native opus encode failed, falling back to ffmpeg", "err", err)
			return types.AudioArtifact{}, false
		}
		return types.AudioArtifact{
			Bytes:           data,
			Format:          types.FormatOGG,
			DurationSeconds: pcmDuration(src, pcm),
			SampleRate:      opusRate,
			Channels:        pcm.Channels,
			SizeBytes:       len(data),
		}, true

	case types.FormatWAV:
		out := src
		outFmt := pcm
		if opts.SampleRate > 0 || opts.Channels > 0 {
			outFmt = audio.Format{
				SampleRate: nonZero(opts.SampleRate, pcm.SampleRate),
				Channels:   nonZero(opts.Channels, pcm.Channels),
			}
			out = audio.Normalize(src, pcm, outFmt)
		}
		data := audio.WrapWAV(out, outFmt.SampleRate, outFmt.Channels)
		return types.AudioArtifact{
			Bytes:           data,
			Format:          types.FormatWAV,
			DurationSeconds: pcmDuration(out, outFmt),
			SampleRate:      outFmt.SampleRate,
			Channels:        outFmt.Channels,
			SizeBytes:       len(data),
		}, true
	}
	return types.AudioArtifact{}, false
}

// runFFmpeg performs a pipe-to-pipe conversion.
func (p *Pipeline) runFFmpeg(ctx context.Context, src []byte, srcFormat string, target types.AudioFormat, opts TranscodeOptions) ([]byte, error) {
	bin, err := p.ffmpeg()
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(srcFormat)...)
	args = append(args, "-i", "pipe:0")
	args = append(args, p.encodeArgs(ctx, target, opts)...)
	args = append(args, "pipe:1")

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: %w", err))
	}
	defer p.sem.Release(1)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, p.classifyRun(err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, types.Kindf(types.KindConversionFailed, "pipeline: ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}

// encodeArgs builds the filter and codec arguments for the target container.
func (p *Pipeline) encodeArgs(ctx context.Context, target types.AudioFormat, opts TranscodeOptions) []string {
	var args []string
	if chain := buildFilterChain(opts.Rate, opts.Pitch); chain != "" {
		args = append(args, "-af", chain)
	}
	if opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.Channels))
	}

	switch target {
	case types.FormatOGG:
		bitrate := nonZero(opts.BitrateKbps, defaultOggBitrate)
		if p.opusAvailable(ctx) {
			args = append(args,
				"-c:a", "libopus",
				"-b:a", fmt.Sprintf("%dk", bitrate),
				"-vbr", "on",
				"-application", "voip",
				"-ar", strconv.Itoa(opusRate),
			)
		} else {
			slog.Warn("pipeline: libopus unavailable, encoding ogg with libvorbis")
			args = append(args, "-c:a", "libvorbis", "-q:a", "4")
			if opts.SampleRate > 0 {
				args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
			}
		}
		args = append(args, "-f", "ogg")

	case types.FormatMP3:
		bitrate := nonZero(opts.BitrateKbps, defaultMP3Bitrate)
		args = append(args, "-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", bitrate))
		if opts.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
		}
		args = append(args, "-f", "mp3")

	case types.FormatWAV:
		args = append(args, "-c:a", "pcm_s16le")
		if opts.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
		}
		args = append(args, "-f", "wav")
	}
	return args
}

// opusAvailable reports whether this ffmpeg build carries libopus. Checked
// once per process from `ffmpeg -codecs`.
func (p *Pipeline) opusAvailable(ctx context.Context) bool {
	p.codecOnce.Do(func() {
		bin, err := p.ffmpeg()
		if err != nil {
			return
		}
		out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-codecs").Output()
		if err != nil {
			slog.Warn("pipeline: codec detection failed", "err", err)
			return
		}
		p.hasLibopus = bytes.Contains(out, []byte("libopus"))
		if !p.hasLibopus {
			slog.Warn("pipeline: ffmpeg build has no libopus encoder")
		}
	})
	return p.hasLibopus
}

func (p *Pipeline) ffmpeg() (string, error) {
	p.ffmpegOnce.Do(func() {
		p.ffmpegPath, p.ffmpegErr = exec.LookPath(p.ffmpegName)
	})
	if p.ffmpegErr != nil {
		return "", types.WrapKind(types.KindFFmpegMissing, ErrFFmpegMissing)
	}
	return p.ffmpegPath, nil
}

func (p *Pipeline) ffprobe() (string, error) {
	p.ffprobeOnce.Do(func() {
		p.ffprobePath, p.ffprobeErr = exec.LookPath(p.ffprobeName)
	})
	if p.ffprobeErr != nil {
		return "", types.WrapKind(types.KindFFmpegMissing, ErrFFmpegMissing)
	}
	return p.ffprobePath, nil
}

// classifyRun maps a subprocess failure onto the error taxonomy, keeping
// the first stderr line for context.
func (p *Pipeline) classifyRun(err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return types.WrapKind(types.KindFFmpegMissing, ErrFFmpegMissing)
	}
	msg := strings.TrimSpace(stderr)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg != "" {
		return types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: ffmpeg: %s: %w", msg, err))
	}
	return types.WrapKind(types.KindConversionFailed, fmt.Errorf("pipeline: ffmpeg: %w", err))
}

// inputArgs tells ffmpeg how to read the source when the container cannot
// be sniffed (raw PCM) or is known up front.
func inputArgs(srcFormat string) []string {
	if pcm, ok := engine.ParsePCMFormat(srcFormat); ok {
		return []string{
			"-f", "s16le",
			"-ar", strconv.Itoa(pcm.SampleRate),
			"-ac", strconv.Itoa(pcm.Channels),
		}
	}
	switch srcFormat {
	case "mp3", "ogg", "wav":
		return []string{"-f", srcFormat}
	}
	// Unknown token: let ffmpeg sniff the stream.
	return nil
}

func (o TranscodeOptions) filtered() bool {
	return (o.Rate > 0 && o.Rate != 1.0) || o.Pitch != 0
}

func pcmDuration(pcm []byte, f audio.Format) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return float64(len(pcm)) / float64(f.SampleRate*f.Channels*2)
}

func nonZero(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
