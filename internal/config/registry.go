package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/engine/edge"
	"github.com/ttskit/ttskit/pkg/engine/gtts"
	"github.com/ttskit/ttskit/pkg/engine/openai"
	"github.com/ttskit/ttskit/pkg/engine/piper"
)

// ErrEngineNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested engine kind.
var ErrEngineNotRegistered = errors.New("config: engine kind not registered")

// Factory constructs a synthesis driver from its configuration entry.
type Factory func(EngineEntry) (engine.Engine, error)

// Registry maps engine kinds to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[EngineKind]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[EngineKind]Factory)}
}

// Register registers a driver factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) Register(kind EngineKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create instantiates a driver using the factory registered under entry.Kind.
// Returns [ErrEngineNotRegistered] if no factory has been registered for
// that kind.
func (r *Registry) Create(entry EngineEntry) (engine.Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, entry.Kind)
	}
	return factory(entry)
}

// RegisterBuiltinEngines wires the built-in driver factories into reg. Each
// factory receives a [EngineEntry] and constructs the driver from the real
// implementation packages.
func RegisterBuiltinEngines(reg *Registry) {
	reg.Register(EngineGTTS, func(entry EngineEntry) (engine.Engine, error) {
		var opts []gtts.Option
		if entry.BaseURL != "" {
			opts = append(opts, gtts.WithBaseURL(entry.BaseURL))
		}
		if len(entry.Languages) > 0 {
			opts = append(opts, gtts.WithLanguages(entry.Languages))
		}
		return gtts.New(opts...), nil
	})

	reg.Register(EngineEdge, func(entry EngineEntry) (engine.Engine, error) {
		var opts []edge.Option
		if entry.BaseURL != "" {
			opts = append(opts, edge.WithEndpoint(entry.BaseURL))
		}
		return edge.New(opts...), nil
	})

	reg.Register(EnginePiper, func(entry EngineEntry) (engine.Engine, error) {
		var opts []piper.Option
		if entry.Binary != "" {
			opts = append(opts, piper.WithBinary(entry.Binary))
		}
		if entry.ConfigPath != "" {
			opts = append(opts, piper.WithConfigPath(entry.ConfigPath))
		}
		if entry.SampleRate > 0 {
			opts = append(opts, piper.WithSampleRate(entry.SampleRate))
		}
		if entry.Language != "" {
			opts = append(opts, piper.WithLanguage(entry.Language))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.Register(EngineOpenAI, func(entry EngineEntry) (engine.Engine, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "response_format"); format != "" {
			opts = append(opts, openai.WithResponseFormat(format))
		}
		if timeout := optDuration(entry.Options, "timeout"); timeout > 0 {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		return openai.New(apiKey, opts...)
	})
}

// optString extracts a string value from an entry Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optDuration extracts a Go duration string ("30s", "2m") from an entry
// Options map. Returns 0 when the key is absent or unparsable.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
