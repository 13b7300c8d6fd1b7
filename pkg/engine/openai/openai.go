// Package openai provides an engine driver backed by the OpenAI speech API.
// It implements the engine.Engine interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultModel = oai.SpeechModelTTS1

	// maxTextLength matches the documented input cap of the speech
	// endpoint.
	maxTextLength = 4096

	// failureCooldown is how long the driver reports unavailable after a
	// transport failure or a 429.
	failureCooldown = 30 * time.Second

	// The endpoint accepts speed in [0.25, 4.0].
	minSpeed = 0.25
	maxSpeed = 4.0
)

// The speech models speak whatever language the input is written in; this
// is the catalogue advertised to the router.
var defaultLanguages = []string{
	"ar", "cs", "da", "de", "el", "en", "es", "fa", "fi", "fr", "hi", "hu",
	"id", "it", "ja", "ko", "ms", "nl", "no", "pl", "pt", "ro", "ru", "sv",
	"th", "tr", "uk", "ur", "vi", "zh",
}

// Voice ids accepted by the endpoint.
var defaultVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx",
	"sage", "shimmer",
}

const defaultVoice = "alloy"

// config holds optional configuration for the Engine.
type config struct {
	baseURL        string
	model          oai.SpeechModel
	responseFormat oai.AudioSpeechNewParamsResponseFormat
	timeout        time.Duration
}

// Option is a functional option for the Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for an
// OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the speech model ("tts-1", "tts-1-hd",
// "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.SpeechModel(model)
	}
}

// WithResponseFormat selects the container requested from the endpoint,
// "mp3" (default) or "opus".
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.responseFormat = oai.AudioSpeechNewParamsResponseFormat(format)
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Engine implements engine.Engine using the OpenAI speech API.
type Engine struct {
	client         oai.Client
	model          oai.SpeechModel
	responseFormat oai.AudioSpeechNewParamsResponseFormat

	// lastFailure holds the unix nano time of the last transport failure.
	lastFailure atomic.Int64
}

// New constructs the driver. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:          defaultModel,
		responseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
		timeout:        30 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Engine{
		client:         oai.NewClient(reqOpts...),
		model:          cfg.model,
		responseFormat: cfg.responseFormat,
	}, nil
}

// ID implements engine.Engine.
func (e *Engine) ID() string { return "openai" }

// Capabilities implements engine.Engine.
func (e *Engine) Capabilities() types.EngineCapabilities {
	voices := make(map[string][]string, len(defaultLanguages))
	for _, lang := range defaultLanguages {
		voices[lang] = defaultVoices
	}
	return types.EngineCapabilities{
		Languages:     defaultLanguages,
		Voices:        voices,
		SupportsRate:  true,
		SupportsPitch: false,
		SupportsSSML:  false,
		Offline:       false,
		MaxTextLength: maxTextLength,
	}
}

// IsAvailable implements engine.Engine.
func (e *Engine) IsAvailable(_ context.Context) bool {
	last := e.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > failureCooldown
}

// ListVoices implements engine.Engine. Every language shares the same voice
// catalogue.
func (e *Engine) ListVoices(language string) []string {
	if language != "" && !e.Capabilities().SupportsLanguage(language) {
		return nil
	}
	out := make([]string, len(defaultVoices))
	copy(out, defaultVoices)
	return out
}

// Synthesize implements engine.Engine.
func (e *Engine) Synthesize(ctx context.Context, in engine.SynthInput) ([]byte, string, error) {
	if !e.Capabilities().SupportsLanguage(in.Language) {
		return nil, "", engine.UnsupportedLanguage(e.ID(), in.Language)
	}
	voice := in.Voice
	if voice == "" {
		voice = defaultVoice
	} else if !isKnownVoice(voice) {
		return nil, "", engine.UnsupportedVoice(e.ID(), in.Voice)
	}
	if len([]rune(in.Text)) > maxTextLength {
		return nil, "", engine.TextTooLong(e.ID(), len([]rune(in.Text)), maxTextLength)
	}

	params := oai.AudioSpeechNewParams{
		Model:          e.model,
		Input:          in.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(strings.ToLower(voice)),
		ResponseFormat: e.responseFormat,
	}
	if in.Rate > 0 && in.Rate != 1.0 {
		params.Speed = oai.Float(clampSpeed(in.Rate))
	}

	resp, err := e.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, "", e.classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.markFailure()
		return nil, "", engine.Transient(e.ID(), fmt.Errorf("read body: %w", err))
	}
	if len(data) == 0 {
		return nil, "", engine.Transient(e.ID(), errors.New("empty response"))
	}
	return data, e.format(), nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error { return nil }

// format maps the requested response format to the registry's container
// token. The endpoint serves opus inside an Ogg container.
func (e *Engine) format() string {
	if e.responseFormat == oai.AudioSpeechNewParamsResponseFormatOpus {
		return "ogg"
	}
	return "mp3"
}

// classify maps API failures onto the driver error taxonomy.
func (e *Engine) classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return engine.Fatal(e.ID(), err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			e.markFailure()
			return engine.Transient(e.ID(), err)
		case apierr.StatusCode >= 500:
			e.markFailure()
			return engine.Transient(e.ID(), err)
		default:
			return engine.Fatal(e.ID(), err)
		}
	}
	e.markFailure()
	return engine.Transient(e.ID(), err)
}

func (e *Engine) markFailure() {
	e.lastFailure.Store(time.Now().UnixNano())
}

func isKnownVoice(voice string) bool {
	for _, v := range defaultVoices {
		if strings.EqualFold(v, voice) {
			return true
		}
	}
	return false
}

func clampSpeed(rate float64) float64 {
	if rate < minSpeed {
		return minSpeed
	}
	if rate > maxSpeed {
		return maxSpeed
	}
	return rate
}

// Ensure Engine satisfies the interface at compile time.
var _ engine.Engine = (*Engine)(nil)
