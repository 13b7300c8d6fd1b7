// Package piper provides an engine driver backed by a local Piper
// installation. It implements the engine.Engine interface.
//
// Piper is invoked as a fresh subprocess per synthesis with the text
// pre-configured on stdin, which avoids pipe races with long-running
// daemon modes. Output is raw signed 16-bit little-endian mono PCM at the
// model's sample rate; the driver reports that as a pcm format token so
// the pipeline can wrap or transcode it without re-probing.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultBinary     = "piper"
	defaultSampleRate = 22050

	// maxTextLength caps stdin size per invocation. Piper itself has no
	// hard limit but very long input holds the subprocess for minutes.
	maxTextLength = 5000
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithBinary overrides the piper executable name or path.
func WithBinary(path string) Option {
	return func(e *Engine) {
		e.binary = path
	}
}

// WithConfigPath overrides the model config path. The default is the model
// path with ".json" appended, matching piper's own convention.
func WithConfigPath(path string) Option {
	return func(e *Engine) {
		e.configPath = path
	}
}

// WithSampleRate overrides the output sample rate when the model config
// cannot be read.
func WithSampleRate(hz int) Option {
	return func(e *Engine) {
		e.sampleRate = hz
	}
}

// WithLanguage overrides the language advertised for the model.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = strings.ToLower(lang)
	}
}

// WithSpeakers sets the voice catalogue for multi-speaker models, mapping
// voice names to piper speaker ids.
func WithSpeakers(speakers map[string]int) Option {
	return func(e *Engine) {
		e.speakers = speakers
	}
}

// Engine implements engine.Engine by shelling out to piper.
type Engine struct {
	binary     string
	modelPath  string
	configPath string
	sampleRate int
	language   string
	speakers   map[string]int
}

// modelConfig is the slice of piper's model JSON the driver cares about.
type modelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	NumSpeakers int            `json:"num_speakers"`
	SpeakerIDs  map[string]int `json:"speaker_id_map"`
}

// New constructs the driver for one voice model. modelPath must point at an
// existing .onnx model; the sibling .onnx.json config is read for the sample
// rate, language and speaker table when present.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("piper: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("piper: model: %w", err)
	}

	e := &Engine{
		binary:     defaultBinary,
		modelPath:  modelPath,
		configPath: modelPath + ".json",
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(e)
	}

	if mc, err := readModelConfig(e.configPath); err == nil {
		if e.sampleRate == defaultSampleRate && mc.Audio.SampleRate > 0 {
			e.sampleRate = mc.Audio.SampleRate
		}
		if e.language == "" && mc.Language.Code != "" {
			e.language = normalizeLangCode(mc.Language.Code)
		}
		if e.speakers == nil && len(mc.SpeakerIDs) > 0 {
			e.speakers = mc.SpeakerIDs
		}
	}
	if e.language == "" {
		e.language = "en"
	}
	return e, nil
}

// ID implements engine.Engine.
func (e *Engine) ID() string { return "piper" }

// Capabilities implements engine.Engine.
func (e *Engine) Capabilities() types.EngineCapabilities {
	return types.EngineCapabilities{
		Languages:     []string{e.language},
		Voices:        map[string][]string{e.language: e.voiceNames()},
		SupportsRate:  true,
		SupportsPitch: false,
		SupportsSSML:  false,
		Offline:       true,
		MaxTextLength: maxTextLength,
	}
}

// IsAvailable implements engine.Engine. Both the binary and the model must
// be present; neither check touches the network.
func (e *Engine) IsAvailable(_ context.Context) bool {
	if _, err := exec.LookPath(e.binary); err != nil {
		return false
	}
	_, err := os.Stat(e.modelPath)
	return err == nil
}

// ListVoices implements engine.Engine.
func (e *Engine) ListVoices(language string) []string {
	if language != "" && !strings.EqualFold(language, e.language) {
		return nil
	}
	return e.voiceNames()
}

// Synthesize implements engine.Engine.
func (e *Engine) Synthesize(ctx context.Context, in engine.SynthInput) ([]byte, string, error) {
	if !strings.EqualFold(in.Language, e.language) {
		return nil, "", engine.UnsupportedLanguage(e.ID(), in.Language)
	}
	if len([]rune(in.Text)) > maxTextLength {
		return nil, "", engine.TextTooLong(e.ID(), len([]rune(in.Text)), maxTextLength)
	}

	args := []string{
		"--model", e.modelPath,
		"--output-raw",
	}
	if _, err := os.Stat(e.configPath); err == nil {
		args = append(args, "--config", e.configPath)
	}
	// Piper speaks faster as length-scale shrinks, so the speaking-rate
	// multiplier maps to its inverse.
	if in.Rate > 0 && in.Rate != 1.0 {
		args = append(args, "--length-scale", fmt.Sprintf("%.2f", 1.0/in.Rate))
	}
	if in.Voice != "" {
		id, ok := e.speakers[in.Voice]
		if !ok {
			return nil, "", engine.UnsupportedVoice(e.ID(), in.Voice)
		}
		args = append(args, "--speaker", strconv.Itoa(id))
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = strings.NewReader(in.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, "", engine.Unavailable(e.ID(), err)
		}
		if ctx.Err() != nil {
			return nil, "", engine.Transient(e.ID(), ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, "", engine.Transient(e.ID(), fmt.Errorf("piper run: %s", firstLine(msg)))
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, "", engine.Transient(e.ID(), errors.New("empty output"))
	}
	return pcm, engine.PCMFormat(e.sampleRate, 1), nil
}

// Close implements engine.Engine. Each synthesis is a standalone
// subprocess, so there is nothing to release.
func (e *Engine) Close() error { return nil }

func (e *Engine) voiceNames() []string {
	if len(e.speakers) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.speakers))
	for name := range e.speakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func readModelConfig(path string) (*modelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mc modelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("piper: parse model config: %w", err)
	}
	return &mc, nil
}

// normalizeLangCode reduces piper's locale codes ("en_US", "fa_IR") to the
// bare language tag used across the registry.
func normalizeLangCode(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "_-"); i > 0 {
		return code[:i]
	}
	return code
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Ensure Engine satisfies the interface at compile time.
var _ engine.Engine = (*Engine)(nil)
