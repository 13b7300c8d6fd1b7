// Package synth coordinates a synthesis request end to end.
//
// The orchestrator owns the request lifecycle: normalize and validate,
// consult the content cache, charge the rate limiter, route to an engine
// with fallback, post-process audio into the requested container and store
// the artifact back. Cache and metrics failures never fail a request; the
// caller's context deadline flows through every stage.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ttskit/ttskit/internal/cache"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/pipeline"
	"github.com/ttskit/ttskit/internal/ratelimit"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

// Defaults applied when the corresponding option is not set.
const (
	defaultLanguage      = "fa"
	defaultMaxTextLength = 5000
)

// EngineInfo is the boundary-facing description of one registered driver.
type EngineInfo struct {
	ID           string                   `json:"id"`
	Available    bool                     `json:"available"`
	Capabilities types.EngineCapabilities `json:"capabilities"`
}

// Transcoder converts engine output into the requested container.
// Satisfied by [pipeline.Pipeline].
type Transcoder interface {
	Transcode(ctx context.Context, src []byte, srcFormat string, target types.AudioFormat, opts pipeline.TranscodeOptions) (types.AudioArtifact, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache wires the content cache. Without it every request synthesizes.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLimiter wires the per-principal rate limiter. Without it requests are
// never throttled.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithMetrics wires the collector receiving cache events. Engine attempt
// outcomes are recorded by the router, not here.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDefaultLanguage sets the language used when a request names none and
// its text carries no language prefix.
func WithDefaultLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if lang != "" {
			o.defaultLanguage = strings.ToLower(lang)
		}
	}
}

// WithMaxTextLength sets the validation hard cap, in runes.
func WithMaxTextLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTextLength = n
		}
	}
}

// WithCacheEnabled toggles caching globally. When false, per-request Cache
// flags are ignored.
func WithCacheEnabled(enabled bool) Option {
	return func(o *Orchestrator) { o.cacheEnabled.Store(enabled) }
}

// WithAudioProcessing toggles pipeline post-processing. When false, engine
// output is returned as produced and a container mismatch fails the
// request.
func WithAudioProcessing(enabled bool) Option {
	return func(o *Orchestrator) { o.audioProcessing.Store(enabled) }
}

// WithAudioDefaults sets the transcode profile: lossy bitrate in kbit/s,
// output sample rate and channel count. Zero keeps the pipeline default for
// that knob.
func WithAudioDefaults(bitrateKbps, sampleRate, channels int) Option {
	return func(o *Orchestrator) {
		o.bitrateKbps = bitrateKbps
		o.sampleRate = sampleRate
		o.channels = channels
	}
}

// Orchestrator executes synthesis requests for both the bot and REST
// boundaries. Safe for concurrent use.
type Orchestrator struct {
	registry *engine.Registry
	router   *router.Router
	pipeline Transcoder
	cache    cache.Cache
	limiter  ratelimit.Limiter
	metrics  *metrics.Collector

	defaultLanguage string
	maxTextLength   int
	bitrateKbps     int
	sampleRate      int
	channels        int

	// Toggled at runtime by the settings callbacks.
	cacheEnabled    atomic.Bool
	audioProcessing atomic.Bool
}

// New builds an Orchestrator over the registry, router and pipeline. Cache,
// limiter and metrics are optional and wired through options.
func New(reg *engine.Registry, rt *router.Router, pl Transcoder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:        reg,
		router:          rt,
		pipeline:        pl,
		defaultLanguage: defaultLanguage,
		maxTextLength:   defaultMaxTextLength,
	}
	o.cacheEnabled.Store(true)
	o.audioProcessing.Store(true)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxTextLength returns the validation hard cap, in runes.
func (o *Orchestrator) MaxTextLength() int { return o.maxTextLength }

// DefaultLanguage returns the language assumed when a request names none.
func (o *Orchestrator) DefaultLanguage() string { return o.defaultLanguage }

// CacheEnabled reports whether fingerprint caching is globally enabled.
func (o *Orchestrator) CacheEnabled() bool { return o.cacheEnabled.Load() }

// SetCacheEnabled toggles fingerprint caching globally. Takes effect on the
// next request.
func (o *Orchestrator) SetCacheEnabled(enabled bool) { o.cacheEnabled.Store(enabled) }

// AudioProcessing reports whether pipeline post-processing is enabled.
func (o *Orchestrator) AudioProcessing() bool { return o.audioProcessing.Load() }

// SetAudioProcessing toggles pipeline post-processing globally.
func (o *Orchestrator) SetAudioProcessing(enabled bool) { o.audioProcessing.Store(enabled) }

// Synth runs one request through the full flow and returns the finished
// artifact. principal identifies the caller for rate limiting.
func (o *Orchestrator) Synth(ctx context.Context, principal string, req types.SynthRequest) (types.AudioArtifact, error) {
	start := time.Now()

	req, err := o.prepare(req)
	if err != nil {
		return types.AudioArtifact{}, err
	}

	useCache := o.cacheEnabled.Load() && o.cache != nil && req.Cache
	var fp string
	if useCache {
		fp = Fingerprint(req, o.profile())
		if art, ok := o.cache.Get(ctx, fp); ok {
			art.Cached = true
			if o.metrics != nil {
				o.metrics.RecordCacheHit(art.SizeBytes)
			}
			slog.Debug("synth: cache hit",
				"fingerprint", shortFP(fp), "language", req.Language, "principal", principal)
			return art, nil
		}
		if o.metrics != nil {
			o.metrics.RecordCacheMiss()
		}
	}

	if o.limiter != nil {
		if ok, retryAfter := o.limiter.Allow(ctx, principal); !ok {
			return types.AudioArtifact{}, &types.KindError{
				Kind:       types.KindRateLimited,
				Err:        fmt.Errorf("synth: principal %q over rate limit", principal),
				RetryAfter: retryAfter,
			}
		}
	}

	var art types.AudioArtifact
	if useCache {
		// The single flight guarantees one synthesis per fingerprint;
		// concurrent identical requests wait and share the artifact.
		art, err = o.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (types.AudioArtifact, error) {
			return o.synthesize(ctx, req)
		})
	} else {
		art, err = o.synthesize(ctx, req)
	}
	if err != nil {
		return types.AudioArtifact{}, o.mapDeadline(ctx, err)
	}

	slog.Info("synth: served",
		"engine", art.EngineUsed,
		"language", req.Language,
		"format", art.Format,
		"bytes", art.SizeBytes,
		"cached", art.Cached,
		"duration", time.Since(start))
	return art, nil
}

// synthesize routes the request to an engine and post-processes the output
// into the requested container.
func (o *Orchestrator) synthesize(ctx context.Context, req types.SynthRequest) (types.AudioArtifact, error) {
	res, err := o.router.Synthesize(ctx, engine.SynthInput{
		Text:     req.Text,
		Language: req.Language,
		Voice:    req.Voice,
		Rate:     req.Rate,
		Pitch:    req.Pitch,
	}, req.Engine)
	if err != nil {
		return types.AudioArtifact{}, err
	}

	if !o.audioProcessing.Load() {
		if res.Format != string(req.OutputFormat) {
			return types.AudioArtifact{}, types.Kindf(types.KindConversionFailed,
				"synth: engine %s produced %q but %q was requested and audio processing is disabled",
				res.EngineUsed, res.Format, req.OutputFormat)
		}
		return types.AudioArtifact{
			Bytes:      res.Audio,
			Format:     req.OutputFormat,
			SizeBytes:  len(res.Audio),
			EngineUsed: res.EngineUsed,
		}, nil
	}

	opts := pipeline.TranscodeOptions{
		SampleRate:  o.sampleRate,
		Channels:    o.channels,
		BitrateKbps: o.bitrateKbps,
	}
	// Engines with native rate or pitch control already applied them; the
	// pipeline covers the rest in post.
	if eng, err := o.registry.Get(res.EngineUsed); err == nil {
		caps := eng.Capabilities()
		if req.Rate != 0 && req.Rate != 1 && !caps.SupportsRate {
			opts.Rate = req.Rate
		}
		if req.Pitch != 0 && !caps.SupportsPitch {
			opts.Pitch = req.Pitch
		}
	}

	art, err := o.pipeline.Transcode(ctx, res.Audio, res.Format, req.OutputFormat, opts)
	if err != nil {
		return types.AudioArtifact{}, err
	}
	art.EngineUsed = res.EngineUsed
	return art, nil
}

// prepare normalizes and validates the request, resolving language from the
// text prefix or the configured default when absent.
func (o *Orchestrator) prepare(req types.SynthRequest) (types.SynthRequest, error) {
	req.Text = NormalizeText(req.Text)
	if req.Text == "" {
		return req, types.Kindf(types.KindTextValidation, "synth: empty text")
	}

	if req.Language == "" {
		if lang, rest := ParseLangAndText(req.Text); lang != "" {
			req.Language, req.Text = lang, rest
		} else {
			req.Language = o.defaultLanguage
		}
	}
	req.Language = strings.ToLower(req.Language)

	if n := utf8.RuneCountInString(req.Text); n > o.maxTextLength {
		return req, types.Kindf(types.KindTextValidation,
			"synth: text length %d exceeds limit %d", n, o.maxTextLength)
	}
	if req.Rate != 0 && (req.Rate < types.MinRate || req.Rate > types.MaxRate) {
		return req, types.Kindf(types.KindTextValidation,
			"synth: rate %.2f outside [%.1f, %.1f]", req.Rate, types.MinRate, types.MaxRate)
	}
	if req.Pitch < types.MinPitch || req.Pitch > types.MaxPitch {
		return req, types.Kindf(types.KindTextValidation,
			"synth: pitch %.1f outside [%.0f, %.0f]", req.Pitch, types.MinPitch, types.MaxPitch)
	}

	if req.OutputFormat == "" {
		req.OutputFormat = types.FormatOGG
	}
	if !req.OutputFormat.IsValid() {
		return req, types.Kindf(types.KindTextValidation,
			"synth: unknown output format %q", req.OutputFormat)
	}
	return req, nil
}

// mapDeadline converts errors caused by the caller's expired deadline to
// the TIMEOUT kind. Errors with the deadline sentinel in their chain keep
// their own kind while the caller is still alive (a per-engine timeout the
// router already advanced past).
func (o *Orchestrator) mapDeadline(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) && !types.IsKind(err, types.KindTimeout) {
		return types.WrapKind(types.KindTimeout, err)
	}
	return err
}

// ListVoices returns the voice catalogue for one engine, or the merged
// catalogue of every registered engine when engineID is empty. language
// narrows the catalogue; empty means all languages.
func (o *Orchestrator) ListVoices(ctx context.Context, language, engineID string) ([]string, error) {
	language = strings.ToLower(strings.TrimSpace(language))

	if engineID != "" {
		eng, err := o.registry.Get(engineID)
		if err != nil {
			return nil, types.WrapKind(types.KindEngineNotFound, err)
		}
		return eng.ListVoices(language), nil
	}

	var all []string
	for _, eng := range o.registry.Engines() {
		all = append(all, eng.ListVoices(language)...)
	}
	slices.Sort(all)
	return slices.Compact(all), nil
}

// ListEngines reports every registered driver with its live availability.
func (o *Orchestrator) ListEngines(ctx context.Context) []EngineInfo {
	engines := o.registry.Engines()
	out := make([]EngineInfo, 0, len(engines))
	for _, eng := range engines {
		out = append(out, EngineInfo{
			ID:           eng.ID(),
			Available:    eng.IsAvailable(ctx),
			Capabilities: eng.Capabilities(),
		})
	}
	return out
}

// SupportedLanguages returns the union of languages across all registered
// engines, sorted.
func (o *Orchestrator) SupportedLanguages() []string {
	return o.registry.Languages()
}

// profile tags the pipeline configuration that shapes output bytes, for
// fingerprinting.
func (o *Orchestrator) profile() string {
	if !o.audioProcessing.Load() {
		return "raw"
	}
	return fmt.Sprintf("br%d.sr%d.ch%d", o.bitrateKbps, o.sampleRate, o.channels)
}

// shortFP trims a fingerprint for log lines.
func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
