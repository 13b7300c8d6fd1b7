// Package engine defines the Engine interface for text-to-speech drivers and
// the registry that holds them.
//
// An engine wraps a synthesis backend (e.g. the Google Translate endpoint,
// Microsoft Edge's neural voices, or a local Piper instance) and presents a
// uniform request/response interface. Drivers report their capabilities once;
// the router consults those capabilities to build per-language policies and
// to skip engines that cannot serve a request.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ttskit/ttskit/pkg/types"
)

// SynthInput is the request a driver receives after the orchestrator has
// normalized and validated it. Drivers may assume Text is non-blank, Rate
// and Pitch are inside the global bounds, and Language is lowercased.
type SynthInput struct {
	Text     string
	Language string

	// Voice is an engine-specific voice id. Empty selects the driver default.
	Voice string

	// Rate is the speaking-rate multiplier (1.0 = normal). Drivers without
	// native rate control ignore it; the pipeline applies it afterwards.
	Rate float64

	// Pitch is the shift in semitones (0 = normal).
	Pitch float64
}

// Engine is the abstraction over any TTS backend.
type Engine interface {
	// ID returns the registry identifier, e.g. "gtts". Stable for the
	// process lifetime.
	ID() string

	// Capabilities reports what the engine supports. The result must be
	// constant for the driver's lifetime; voice catalogues that change
	// between calls should report their startup snapshot.
	Capabilities() types.EngineCapabilities

	// IsAvailable reports whether the driver believes a synthesis call
	// would currently succeed. Implementations should answer from cached
	// state and must not block longer than a quick local check; remote
	// probing belongs in health checks.
	IsAvailable(ctx context.Context) bool

	// Synthesize turns text into encoded audio. It returns the raw bytes
	// and the container format they are in ("mp3", "wav", "pcm"). Errors
	// must be classified: [Unavailable], [UnsupportedLanguage],
	// [UnsupportedVoice], [TextTooLong], [Transient] or [Fatal].
	Synthesize(ctx context.Context, in SynthInput) ([]byte, string, error)

	// ListVoices returns the voice ids available for language. An empty
	// language returns all voices. Never errors; engines without a voice
	// catalogue return nil.
	ListVoices(language string) []string

	// Close releases driver resources. Safe to call more than once.
	Close() error
}

// ErrNotRegistered is returned by registry lookups for unknown engine ids.
var ErrNotRegistered = errors.New("engine: not registered")

// The helpers below build classified driver errors so that every
// implementation reports failures the same way.

// Unavailable marks the driver as down for this call.
func Unavailable(id string, err error) error {
	return types.WrapKind(types.KindEngineUnavailable, fmt.Errorf("engine %s: unavailable: %w", id, err))
}

// UnsupportedLanguage reports that the driver does not speak lang.
func UnsupportedLanguage(id, lang string) error {
	return types.Kindf(types.KindUnsupportedLanguage, "engine %s: language %q not supported", id, lang)
}

// UnsupportedVoice reports that voice is not in the driver's catalogue.
func UnsupportedVoice(id, voice string) error {
	return types.Kindf(types.KindUnsupportedVoice, "engine %s: voice %q not found", id, voice)
}

// TextTooLong reports input exceeding the driver's own limit.
func TextTooLong(id string, n, max int) error {
	return types.Kindf(types.KindTextTooLong, "engine %s: text length %d exceeds limit %d", id, n, max)
}

// Transient classifies err as retryable (timeout, 5xx, connection reset).
func Transient(id string, err error) error {
	return types.WrapKind(types.KindEngineTransient, fmt.Errorf("engine %s: %w", id, err))
}

// Fatal classifies err as non-retryable for this driver (auth, quota).
func Fatal(id string, err error) error {
	return types.WrapKind(types.KindEngineFatal, fmt.Errorf("engine %s: %w", id, err))
}
