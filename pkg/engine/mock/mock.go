// Package mock provides an in-memory test double for the engine interface.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex], which makes it suitable for the
// single-flight and fallback tests that hammer one engine from many
// goroutines.
//
// Typical usage:
//
//	eng := &mock.Engine{EngineID: "fake", Langs: []string{"en"}}
//	eng.SynthesizeErr = engine.Transient("fake", errors.New("boom"))
//
//	// inject eng into the system under test …
//
//	if got := eng.CallCount("Synthesize"); got != 1 {
//	    t.Errorf("expected 1 Synthesize call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Engine is a configurable test double for [engine.Engine].
// The zero value is an available engine named "mock" speaking English.
type Engine struct {
	mu    sync.Mutex
	calls []Call

	// EngineID is returned by ID. Defaults to "mock".
	EngineID string

	// Langs populates Capabilities().Languages. Defaults to ["en"].
	Langs []string

	// VoicesByLang populates Capabilities().Voices and ListVoices.
	VoicesByLang map[string][]string

	// Caps, when non-nil, is returned verbatim by Capabilities and
	// overrides Langs/VoicesByLang.
	Caps *types.EngineCapabilities

	// Unavailable inverts IsAvailable so the zero value reports available.
	Unavailable bool

	// SynthesizeResult is returned by Synthesize when non-nil. When nil,
	// Synthesize returns deterministic bytes derived from the input text.
	SynthesizeResult []byte

	// SynthesizeFormat is the format returned by Synthesize.
	// Defaults to "mp3".
	SynthesizeFormat string

	// SynthesizeErr is returned by Synthesize when non-nil.
	SynthesizeErr error

	// SynthesizeFunc, when non-nil, replaces the canned Synthesize behavior
	// entirely (after call recording). Used for per-call sequencing.
	SynthesizeFunc func(ctx context.Context, in engine.SynthInput) ([]byte, string, error)

	// CloseErr is returned by Close when non-nil.
	CloseErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Engine) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Engine) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *Engine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// ID implements [engine.Engine].
func (m *Engine) ID() string {
	if m.EngineID == "" {
		return "mock"
	}
	return m.EngineID
}

// Capabilities implements [engine.Engine].
func (m *Engine) Capabilities() types.EngineCapabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Caps != nil {
		return *m.Caps
	}
	langs := m.Langs
	if langs == nil {
		langs = []string{"en"}
	}
	return types.EngineCapabilities{
		Languages: langs,
		Voices:    m.VoicesByLang,
	}
}

// IsAvailable implements [engine.Engine].
func (m *Engine) IsAvailable(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "IsAvailable"})
	return !m.Unavailable
}

// Synthesize implements [engine.Engine].
func (m *Engine) Synthesize(ctx context.Context, in engine.SynthInput) ([]byte, string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Synthesize", Args: []any{in}})
	fn := m.SynthesizeFunc
	result := m.SynthesizeResult
	format := m.SynthesizeFormat
	errOut := m.SynthesizeErr
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}
	if errOut != nil {
		return nil, "", errOut
	}
	if format == "" {
		format = "mp3"
	}
	if result == nil {
		result = []byte(m.ID() + ":" + in.Text)
	}
	out := make([]byte, len(result))
	copy(out, result)
	return out, format, nil
}

// ListVoices implements [engine.Engine].
func (m *Engine) ListVoices(language string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ListVoices", Args: []any{language}})
	if m.VoicesByLang == nil {
		return nil
	}
	if language == "" {
		var all []string
		for _, vs := range m.VoicesByLang {
			all = append(all, vs...)
		}
		return all
	}
	return m.VoicesByLang[language]
}

// Close implements [engine.Engine].
func (m *Engine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}

// Ensure Engine satisfies the interface at compile time.
var _ engine.Engine = (*Engine)(nil)
