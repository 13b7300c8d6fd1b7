package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied after decode and env overrides, before validation.
const (
	defaultListenAddr    = ":8080"
	defaultPollTimeout   = 60
	defaultCacheTTLSecs  = 24 * 60 * 60
	defaultCacheBytes    = 256 << 20
	defaultCacheEntries  = 4096
	defaultRatePerMinute = 30
	defaultSampleRate    = 48000
	defaultChannels      = 1
	defaultLanguage      = "fa"
	defaultMaxTextLen    = 5000
)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config]. A .env file in the working
// directory is loaded into the environment first when present, without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: .env file could not be loaded", "err", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and validates the result. An empty document is allowed so a deployment can
// be configured through the environment alone. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: apply env overrides: %w", err)
	}
	if cfg.Auth.BootstrapJSON != "" {
		if err := json.Unmarshal([]byte(cfg.Auth.BootstrapJSON), &cfg.Auth.BootstrapKeys); err != nil {
			return nil, fmt.Errorf("config: TTSKIT_API_KEYS is not a JSON object of user id to key: %w", err)
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values with service defaults. Engine entries get
// their registry id defaulted to the kind so single-instance configs can
// omit it.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Telegram.PollTimeoutSeconds == 0 {
		cfg.Telegram.PollTimeoutSeconds = defaultPollTimeout
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = defaultCacheTTLSecs
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = defaultCacheBytes
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaultCacheEntries
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRatePerMinute
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = defaultChannels
	}
	if cfg.Synthesis.DefaultLanguage == "" {
		cfg.Synthesis.DefaultLanguage = defaultLanguage
	}
	if cfg.Synthesis.MaxTextLength == 0 {
		cfg.Synthesis.MaxTextLength = defaultMaxTextLen
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Telegram
	if cfg.Telegram.PollTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("telegram.poll_timeout_seconds %d must not be negative", cfg.Telegram.PollTimeoutSeconds))
	}
	if cfg.Telegram.Token == "" && len(cfg.Telegram.SudoUsers) > 0 {
		slog.Warn("telegram.sudo_users is set but telegram.token is empty; the bot boundary is disabled")
	}

	// Engines
	if len(cfg.Engines) == 0 {
		slog.Warn("no synthesis engines configured; every request will fail")
	}
	kindsSeen := make(map[EngineKind]int, len(cfg.Engines))
	for i, e := range cfg.Engines {
		prefix := fmt.Sprintf("engines[%d]", i)
		if !e.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: gtts, edge, piper, openai", prefix, e.Kind))
			continue
		}
		if prev, ok := kindsSeen[e.Kind]; ok {
			errs = append(errs, fmt.Errorf("%s.kind %q is a duplicate of engines[%d]", prefix, e.Kind, prev))
		}
		kindsSeen[e.Kind] = i
		if e.Kind == EnginePiper && e.Model == "" {
			errs = append(errs, fmt.Errorf("%s: piper requires model (path to the .onnx voice model)", prefix))
		}
		if e.Kind == EngineOpenAI && e.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			if e.Required {
				errs = append(errs, fmt.Errorf("%s: openai requires api_key or $OPENAI_API_KEY", prefix))
			} else {
				slog.Warn("openai engine has no API key; it will be skipped")
			}
		}
	}

	// Policy references
	for lang, order := range cfg.Policy {
		if lang == "" {
			errs = append(errs, errors.New("policy contains an empty language key"))
		}
		for _, id := range order {
			if _, ok := kindsSeen[EngineKind(id)]; !ok {
				errs = append(errs, fmt.Errorf("policy[%s] references unconfigured engine %q", lang, id))
			}
		}
	}

	// Cache
	if !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, redis", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Redis.URL == "" {
		slog.Warn("cache.backend is redis but redis.url is empty; falling back to the memory cache")
	}
	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_seconds %d must not be negative", cfg.Cache.TTLSeconds))
	}
	if cfg.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes %d must not be negative", cfg.Cache.MaxBytes))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}

	// Rate limit
	if cfg.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute %d must not be negative", cfg.RateLimit.RequestsPerMinute))
	}

	// Audio
	if cfg.Audio.BitrateKbps < 0 {
		errs = append(errs, fmt.Errorf("audio.bitrate_kbps %d must not be negative", cfg.Audio.BitrateKbps))
	}
	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is below the 8000 Hz floor", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}

	// Synthesis
	if cfg.Synthesis.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_text_length %d must be positive", cfg.Synthesis.MaxTextLength))
	}

	// Auth
	if cfg.Auth.Enabled {
		if cfg.Auth.Salt == "" {
			slog.Warn("auth.salt is empty; API key hashes are unsalted")
		}
		if cfg.Database.URL == "" && len(cfg.Auth.BootstrapKeys) == 0 {
			slog.Warn("auth is enabled with no database and no bootstrap keys; every API request will be rejected")
		}
	}
	for user, key := range cfg.Auth.BootstrapKeys {
		if user == "" || key == "" {
			errs = append(errs, errors.New("auth.bootstrap_keys entries must have a non-empty user id and key"))
			break
		}
	}

	return errors.Join(errs...)
}
