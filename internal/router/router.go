// Package router selects engines per language and executes synthesis with
// ordered fallback.
//
// A policy is an ordered list of engine ids for one language. The default
// policy is every registered engine advertising the language, in
// registration order; admins may override a policy wholesale or push a
// preferred engine to its head. Policy reads and writes are copy-on-write
// under an RWMutex, so a reader sees either the prior list or the new one,
// never an interleaving.
//
// Every engine is guarded by a consecutive-failure circuit breaker. A
// flapping backend drops out of rotation for a cooldown instead of slowing
// each request; an open breaker counts as unavailable during selection.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

// defaultPolicyLanguages are the languages a head mutation touches when the
// caller does not name one.
var defaultPolicyLanguages = []string{"fa", "en", "ar"}

// defaultCallTimeout bounds a single engine synthesis call.
const defaultCallTimeout = 30 * time.Second

// Skip reasons recorded on attempts.
const (
	reasonNotRegistered = "not registered"
	reasonLanguage      = "language not supported"
	reasonVoice         = "voice not in catalogue"
	reasonUnavailable   = "unavailable"
	reasonCircuitOpen   = "circuit open"
)

// MetricsSink receives per-attempt outcomes from the fallback loop. An
// empty kind marks success. Implemented by the metrics collector; declared
// here so the router stays decoupled from it.
type MetricsSink interface {
	RecordRequest(engine, language string, latency time.Duration, errKind types.Kind)
}

// Attempt records one engine considered during a fallback run, whether it
// was skipped, failed or succeeded.
type Attempt struct {
	// Engine is the driver id.
	Engine string `json:"engine"`

	// Kind is the classified error kind for a failed call; empty on
	// success or skip.
	Kind types.Kind `json:"kind,omitempty"`

	// Skipped marks engines never called, with Reason explaining why.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Latency is the call duration for engines actually invoked.
	Latency time.Duration `json:"latency,omitempty"`
}

// Result is a successful synthesis outcome, tagged with the engine that
// produced it and the full attempt trail.
type Result struct {
	Audio      []byte
	Format     string
	EngineUsed string
	Attempts   []Attempt
}

// ExhaustedError reports that every engine in the policy failed or was
// skipped. It carries the structured attempts list; Unwrap exposes the
// joined per-engine causes in policy order.
type ExhaustedError struct {
	Language string
	Attempts []Attempt
	causes   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("router: all engines failed for language %q after %d attempts",
		e.Language, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return e.causes }

// Option configures a Router.
type Option func(*Router)

// WithMetrics wires a sink that receives every attempt outcome.
func WithMetrics(sink MetricsSink) Option {
	return func(r *Router) { r.metrics = sink }
}

// WithBreakerConfig overrides the circuit breaker tuning shared by all
// engines.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(r *Router) { r.breakerCfg = cfg }
}

// WithCallTimeout bounds each engine call. Zero disables the per-call
// deadline, leaving only the caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Router) { r.callTimeout = d }
}

// Router executes synthesis against an ordered per-language engine policy
// with fallback. Safe for concurrent use.
type Router struct {
	registry    *engine.Registry
	metrics     MetricsSink
	breakerCfg  BreakerConfig
	callTimeout time.Duration

	mu       sync.RWMutex
	policies map[string][]string
	breakers map[string]*breaker
}

// New builds a Router over the given registry.
func New(reg *engine.Registry, opts ...Option) *Router {
	r := &Router{
		registry:    reg,
		breakerCfg:  BreakerConfig{}.withDefaults(),
		callTimeout: defaultCallTimeout,
		policies:    make(map[string][]string),
		breakers:    make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectPolicy returns the effective engine order for language: the admin
// override when one exists, else the capability-derived default. The result
// is a copy; callers may not mutate router state through it.
func (r *Router) SelectPolicy(language string) []string {
	lang := normalizeLang(language)

	r.mu.RLock()
	override := r.policies[lang]
	r.mu.RUnlock()

	if override != nil {
		out := make([]string, len(override))
		copy(out, override)
		return out
	}
	return r.registry.EnginesForLanguage(lang)
}

// SetPolicy replaces the policy for language with the given engine order.
// Every id must be registered and advertise the language.
func (r *Router) SetPolicy(language string, ids []string) error {
	lang := normalizeLang(language)
	if lang == "" {
		return types.Kindf(types.KindTextValidation, "router: empty language")
	}
	if len(ids) == 0 {
		return types.Kindf(types.KindTextValidation, "router: empty policy for %q", lang)
	}

	next := make([]string, 0, len(ids))
	for _, id := range ids {
		eng, err := r.registry.Get(id)
		if err != nil {
			return types.WrapKind(types.KindEngineNotFound, err)
		}
		if !eng.Capabilities().SupportsLanguage(lang) {
			return types.Kindf(types.KindUnsupportedLanguage,
				"router: engine %s does not support language %q", id, lang)
		}
		next = append(next, id)
	}

	r.mu.Lock()
	r.policies[lang] = next
	r.mu.Unlock()

	slog.Info("router: policy set", "language", lang, "policy", next)
	return nil
}

// SetPolicyHead pushes engineID to the head of the policy for language. An
// empty language applies the mutation to every default-mutable language the
// engine advertises. It returns the languages actually updated.
func (r *Router) SetPolicyHead(language, engineID string) ([]string, error) {
	eng, err := r.registry.Get(engineID)
	if err != nil {
		return nil, types.WrapKind(types.KindEngineNotFound, err)
	}
	caps := eng.Capabilities()

	langs := defaultPolicyLanguages
	if lang := normalizeLang(language); lang != "" {
		if !caps.SupportsLanguage(lang) {
			return nil, types.Kindf(types.KindUnsupportedLanguage,
				"router: engine %s does not support language %q", engineID, lang)
		}
		langs = []string{lang}
	}

	var updated []string
	for _, lang := range langs {
		if !caps.SupportsLanguage(lang) {
			continue
		}
		r.promote(lang, engineID)
		updated = append(updated, lang)
	}
	if len(updated) == 0 {
		return nil, types.Kindf(types.KindUnsupportedLanguage,
			"router: engine %s supports none of %v", engineID, defaultPolicyLanguages)
	}
	return updated, nil
}

// promote builds a fresh policy for lang with id at the head, preserving
// the relative order of the remaining engines.
func (r *Router) promote(lang, id string) {
	r.mu.Lock()
	base := r.policies[lang]
	if base == nil {
		base = r.registry.EnginesForLanguage(lang)
	}
	next := make([]string, 0, len(base)+1)
	next = append(next, id)
	for _, e := range base {
		if e != id {
			next = append(next, e)
		}
	}
	r.policies[lang] = next
	r.mu.Unlock()

	slog.Info("router: policy head set", "language", lang, "engine", id)
}

// ResetPolicy drops the override for language, restoring the
// capability-derived default. An empty language drops all overrides.
func (r *Router) ResetPolicy(language string) {
	r.mu.Lock()
	if lang := normalizeLang(language); lang != "" {
		delete(r.policies, lang)
	} else {
		r.policies = make(map[string][]string)
	}
	r.mu.Unlock()
}

// Overrides returns a snapshot of the admin-set policies, keyed by
// language.
func (r *Router) Overrides() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.policies))
	for lang, ids := range r.policies {
		cp := make([]string, len(ids))
		copy(cp, ids)
		out[lang] = cp
	}
	return out
}

// BreakerStates reports the current circuit state per engine, keyed by
// engine id. Engines never dialed are absent.
func (r *Router) BreakerStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.currentState().String()
	}
	return out
}

// ResetBreakers forces every breaker closed. Used by admin resets.
func (r *Router) ResetBreakers() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.reset()
	}
}

// Synthesize walks the policy for the request's language and returns the
// first successful engine output. forceEngine pins the request to a single
// engine and skips fallback.
//
// Failure handling per engine: transient and fatal errors feed the breaker,
// are recorded in metrics and advance the loop; unsupported-voice,
// unsupported-language and text-too-long errors surface immediately since
// no other engine can fix the input. A fully exhausted policy returns
// ALL_ENGINES_FAILED wrapping an *ExhaustedError.
func (r *Router) Synthesize(ctx context.Context, in engine.SynthInput, forceEngine string) (*Result, error) {
	lang := normalizeLang(in.Language)
	in.Language = lang

	var policy []string
	if forceEngine != "" {
		if _, err := r.registry.Get(forceEngine); err != nil {
			return nil, types.WrapKind(types.KindEngineNotFound, err)
		}
		policy = []string{forceEngine}
	} else {
		policy = r.SelectPolicy(lang)
	}
	if len(policy) == 0 {
		return nil, types.Kindf(types.KindUnsupportedLanguage,
			"router: no engine supports language %q", lang)
	}

	forced := forceEngine != ""

	var (
		attempts    []Attempt
		causes      []error
		voiceMissed []string
	)
	for _, id := range policy {
		// The caller is gone; trying more engines helps nobody.
		if err := ctx.Err(); err != nil {
			return nil, types.WrapKind(types.KindTimeout, err)
		}

		eng, err := r.registry.Get(id)
		if err != nil {
			attempts = append(attempts, Attempt{Engine: id, Skipped: true, Reason: reasonNotRegistered})
			continue
		}

		caps := eng.Capabilities()
		if !caps.SupportsLanguage(lang) {
			if forced {
				return nil, types.Kindf(types.KindUnsupportedLanguage,
					"router: engine %s does not support language %q", id, lang)
			}
			attempts = append(attempts, Attempt{Engine: id, Skipped: true, Reason: reasonLanguage})
			continue
		}

		if in.Voice != "" && !forced {
			vs := caps.VoicesFor(lang)
			if !containsFold(vs, in.Voice) {
				voiceMissed = append(voiceMissed, vs...)
				attempts = append(attempts, Attempt{Engine: id, Skipped: true, Reason: reasonVoice})
				continue
			}
		}

		if !eng.IsAvailable(ctx) {
			attempts = append(attempts, Attempt{Engine: id, Skipped: true, Reason: reasonUnavailable})
			continue
		}

		b := r.breakerFor(id)
		if !b.allow() {
			attempts = append(attempts, Attempt{Engine: id, Skipped: true, Reason: reasonCircuitOpen})
			continue
		}

		start := time.Now()
		callCtx, cancel := ctx, func() {}
		if r.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		}
		raw, format, synthErr := eng.Synthesize(callCtx, in)
		cancel()
		latency := time.Since(start)

		if synthErr == nil {
			b.success()
			r.record(id, lang, latency, "")
			attempts = append(attempts, Attempt{Engine: id, Latency: latency})
			slog.Debug("router: synthesized",
				"engine", id, "language", lang, "bytes", len(raw), "latency", latency)
			return &Result{Audio: raw, Format: format, EngineUsed: id, Attempts: attempts}, nil
		}

		kind := Classify(synthErr)
		switch kind {
		case types.KindUnsupportedVoice:
			// Another engine cannot fix the caller's voice name.
			return nil, withVoiceSuggestion(synthErr, in.Voice, eng.ListVoices(lang))
		case types.KindUnsupportedLanguage, types.KindTextTooLong:
			return nil, synthErr
		}

		if kind == types.KindEngineTransient || kind == types.KindEngineFatal {
			b.failure()
		}
		r.record(id, lang, latency, kind)
		attempts = append(attempts, Attempt{Engine: id, Kind: kind, Latency: latency})
		causes = append(causes, fmt.Errorf("%s: %w", id, synthErr))
		slog.Warn("router: engine failed, advancing",
			"engine", id, "language", lang, "kind", kind, "error", synthErr)
	}

	// Nothing was even dialed.
	if len(causes) == 0 {
		if forced {
			return nil, types.Kindf(types.KindEngineUnavailable,
				"router: engine %s is unavailable", forceEngine)
		}
		// When every engine advertising the language lacked the requested
		// voice, the input is the problem, not the fleet.
		voiceSkips := countSkips(attempts, reasonVoice)
		inertSkips := countSkips(attempts, reasonLanguage) + countSkips(attempts, reasonNotRegistered)
		if voiceSkips > 0 && voiceSkips+inertSkips == len(attempts) {
			err := types.Kindf(types.KindUnsupportedVoice,
				"router: voice %q not offered by any engine for language %q", in.Voice, lang)
			return nil, withVoiceSuggestion(err, in.Voice, dedupe(voiceMissed))
		}
	}

	slog.Error("router: policy exhausted",
		"language", lang, "attempts", len(attempts), "failures", len(causes))
	return nil, types.WrapKind(types.KindAllEnginesFailed, &ExhaustedError{
		Language: lang,
		Attempts: attempts,
		causes:   errors.Join(causes...),
	})
}

// record forwards one attempt outcome to the metrics sink, if any.
func (r *Router) record(engineID, lang string, latency time.Duration, kind types.Kind) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordRequest(engineID, lang, latency, kind)
}

// breakerFor returns the breaker guarding id, creating it on first use.
func (r *Router) breakerFor(id string) *breaker {
	r.mu.RLock()
	b := r.breakers[id]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.breakers[id]; b == nil {
		b = newBreaker(id, r.breakerCfg)
		r.breakers[id] = b
	}
	return b
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func countSkips(attempts []Attempt, reason string) int {
	n := 0
	for _, a := range attempts {
		if a.Skipped && a.Reason == reason {
			n++
		}
	}
	return n
}

func dedupe(list []string) []string {
	slices.Sort(list)
	return slices.Compact(list)
}
