// Package app wires all TTSKit subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the Telegram and REST boundaries until the context
// is cancelled, and Shutdown tears everything down in reverse order.
//
// For testing, inject fakes via functional options (WithCache, WithEngines,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ttskit/ttskit/internal/api"
	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/bot/commands"
	"github.com/ttskit/ttskit/internal/bot/telegram"
	"github.com/ttskit/ttskit/internal/cache"
	"github.com/ttskit/ttskit/internal/config"
	"github.com/ttskit/ttskit/internal/health"
	"github.com/ttskit/ttskit/internal/identity"
	identitypg "github.com/ttskit/ttskit/internal/identity/postgres"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/observe"
	"github.com/ttskit/ttskit/internal/pipeline"
	"github.com/ttskit/ttskit/internal/ratelimit"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/internal/synth"
	"github.com/ttskit/ttskit/pkg/engine"
)

const (
	// latencyWindow is the sample count kept for percentile estimates.
	latencyWindow = 1000

	// redisPingTimeout bounds the startup reachability probe.
	redisPingTimeout = 5 * time.Second

	// systemSampleInterval is how often Run refreshes the process stats
	// feeding the health score.
	systemSampleInterval = 30 * time.Second

	// httpStopTimeout bounds draining in-flight requests when Run returns.
	httpStopTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes and serves the TTSKit boundaries.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	factories *config.Registry

	// Subsystems — initialised in New, torn down in Shutdown.
	registry   *engine.Registry
	router     *router.Router
	transcoder *pipeline.Pipeline
	cache      cache.Cache
	limiter    ratelimit.Limiter
	collector  *metrics.Collector
	orch       *synth.Orchestrator
	identity   identity.Store

	redis *redis.Client
	pg    *identitypg.Store

	health  *health.Handler
	httpSrv *http.Server

	dispatcher *bot.Dispatcher
	cancels    *bot.CancelSet
	tg         *telegram.Bot

	version  string
	injected []engine.Engine

	// stopCh makes Run return; closed by RequestStop (the admin
	// /shutdown command).
	stopCh  chan struct{}
	stopReq sync.Once

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCache injects a content cache instead of creating one from config.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithLimiter injects a rate limiter instead of creating one from config.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithIdentityStore injects an identity store instead of creating one from
// config.
func WithIdentityStore(s identity.Store) Option {
	return func(a *App) { a.identity = s }
}

// WithEngines injects already-constructed drivers, bypassing the factory
// registry. Engine changes from config reloads are ignored while injected
// engines are in place.
func WithEngines(engines ...engine.Engine) Option {
	return func(a *App) { a.injected = engines }
}

// WithVersion sets the version string reported by /info and the startup
// log. Defaults to "dev".
func WithVersion(v string) Option {
	return func(a *App) {
		if v != "" {
			a.version = v
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Engine drivers are
// built from cfg.Engines via the factory registry so the admin
// /reload_engines command can rebuild them later. Use Option functions to
// inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: Redis probe, cache and
// limiter construction, driver construction, orchestrator assembly, identity
// store connection and bot/API wiring. It does not bind the listen address;
// Run does.
func New(ctx context.Context, cfg *config.Config, factories *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		factories: factories,
		version:   "dev",
		stopCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	a.collector = metrics.New(latencyWindow)

	// ── 1. Redis (optional, shared by cache and limiter) ─────────────────
	a.initRedis(ctx)

	// ── 2. Cache + rate limiter ──────────────────────────────────────────
	a.initCache()
	a.initLimiter()

	// ── 3. Audio pipeline ────────────────────────────────────────────────
	a.initPipeline()

	// ── 4. Engines + router ──────────────────────────────────────────────
	if err := a.initEngines(); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	a.initOrchestrator()

	// ── 6. Identity store ────────────────────────────────────────────────
	if err := a.initIdentity(ctx); err != nil {
		return nil, fmt.Errorf("app: init identity: %w", err)
	}

	// ── 7. Bot boundary ──────────────────────────────────────────────────
	if err := a.initBot(); err != nil {
		return nil, fmt.Errorf("app: init bot: %w", err)
	}

	// ── 8. REST boundary ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initRedis connects the shared Redis client when a URL is configured. Any
// failure degrades to the in-memory backends instead of failing startup.
func (a *App) initRedis(ctx context.Context) {
	if a.cfg.Redis.URL == "" {
		return
	}
	opt, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		slog.Warn("invalid redis url, using in-memory backends", "err", err)
		return
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-memory backends", "addr", opt.Addr, "err", err)
		_ = client.Close()
		return
	}

	a.redis = client
	a.closers = append(a.closers, client.Close)
	slog.Info("redis connected", "addr", opt.Addr)
}

// initCache creates the content cache if one wasn't injected.
func (a *App) initCache() {
	if a.cache != nil {
		return
	}
	if a.cfg.Cache.Backend == config.CacheRedis {
		if a.redis != nil {
			a.cache = cache.NewRedis(a.redis, cache.WithRedisTTL(a.cfg.Cache.TTL()))
			return
		}
		slog.Warn("redis cache configured but unavailable, using memory cache")
	}
	a.cache = cache.NewMemory(
		cache.WithTTL(a.cfg.Cache.TTL()),
		cache.WithMaxBytes(a.cfg.Cache.MaxBytes),
		cache.WithMaxEntries(a.cfg.Cache.MaxEntries),
		cache.WithEvictionFunc(func(entries int, _ int64) {
			a.collector.RecordEvictions(entries)
		}),
	)
}

// initLimiter creates the rate limiter if one wasn't injected. A
// non-positive budget disables throttling entirely.
func (a *App) initLimiter() {
	if a.limiter != nil {
		return
	}
	rpm := a.cfg.RateLimit.RequestsPerMinute
	if rpm <= 0 {
		slog.Warn("rate limiting disabled", "requests_per_minute", rpm)
		return
	}
	if a.redis != nil {
		a.limiter = ratelimit.NewRedis(a.redis, rpm, time.Minute)
		return
	}
	a.limiter = ratelimit.NewMemory(ratelimit.PerMinute(rpm))
}

// initPipeline creates the transcode pipeline with any configured binary
// path overrides.
func (a *App) initPipeline() {
	var opts []pipeline.Option
	if p := a.cfg.Audio.FFmpegPath; p != "" {
		opts = append(opts, pipeline.WithFFmpeg(p))
	}
	if p := a.cfg.Audio.FFprobePath; p != "" {
		opts = append(opts, pipeline.WithFFprobe(p))
	}
	a.transcoder = pipeline.New(opts...)
}

// initEngines builds the drivers, registers them and constructs the router
// with the configured language policies.
func (a *App) initEngines() error {
	a.registry = engine.NewRegistry()

	engines := a.injected
	if engines == nil {
		var err error
		engines, err = a.buildEngines(a.cfg)
		if err != nil {
			return err
		}
	}
	for _, e := range engines {
		if err := a.registry.Register(e); err != nil {
			return err
		}
	}
	if len(a.registry.IDs()) == 0 {
		slog.Warn("no engines registered, synthesis will fail until a reload succeeds")
	}
	a.closers = append(a.closers, a.registry.Close)

	a.router = router.New(a.registry, router.WithMetrics(a.collector))
	a.applyPolicy(a.cfg)
	return nil
}

// buildEngines constructs one driver per configured entry. A required entry
// that fails to build aborts; optional failures are skipped with a warning.
func (a *App) buildEngines(cfg *config.Config) ([]engine.Engine, error) {
	var engines []engine.Engine
	for _, entry := range cfg.Engines {
		eng, err := a.factories.Create(entry)
		if err != nil {
			if entry.Required {
				for _, e := range engines {
					_ = e.Close()
				}
				return nil, fmt.Errorf("required engine %q: %w", entry.Kind, err)
			}
			slog.Warn("skipping optional engine", "engine", string(entry.Kind), "err", err)
			continue
		}
		engines = append(engines, eng)
		slog.Info("engine ready", "engine", eng.ID())
	}
	return engines, nil
}

// initOrchestrator assembles the synthesis orchestrator over the registry,
// router and pipeline.
func (a *App) initOrchestrator() {
	opts := []synth.Option{
		synth.WithMetrics(a.collector),
		synth.WithDefaultLanguage(a.cfg.Synthesis.DefaultLanguage),
		synth.WithMaxTextLength(a.cfg.Synthesis.MaxTextLength),
		synth.WithCacheEnabled(a.cfg.Synthesis.CacheOn()),
		synth.WithAudioProcessing(a.cfg.Synthesis.ProcessingOn()),
		synth.WithAudioDefaults(a.cfg.Audio.BitrateKbps, a.cfg.Audio.SampleRate, a.cfg.Audio.Channels),
	}
	if a.cache != nil {
		opts = append(opts, synth.WithCache(a.cache))
	}
	if a.limiter != nil {
		opts = append(opts, synth.WithLimiter(a.limiter))
	}
	a.orch = synth.New(a.registry, a.router, a.transcoder, opts...)
}

// initIdentity connects the PostgreSQL store when DATABASE_URL is set, or
// falls back to the in-memory store seeded with the bootstrap keys.
func (a *App) initIdentity(ctx context.Context) error {
	if a.identity != nil {
		return nil
	}
	if a.cfg.Database.URL != "" {
		store, err := identitypg.New(ctx, a.cfg.Database.URL, a.cfg.Auth.Salt)
		if err != nil {
			return fmt.Errorf("identity database: %w", err)
		}
		a.pg = store
		a.identity = store
		a.closers = append(a.closers, store.Close)
		slog.Info("identity store connected", "backend", "postgres")
		return nil
	}

	mem := identity.NewMemory(a.cfg.Auth.Salt)
	for userID, plain := range a.cfg.Auth.BootstrapKeys {
		if err := mem.Seed(ctx, userID, plain, nil); err != nil {
			return fmt.Errorf("seed bootstrap key for %q: %w", userID, err)
		}
	}
	// A bootstrap user named "admin" gets the admin flag so its key can
	// reach the admin endpoints without a database.
	if _, ok := a.cfg.Auth.BootstrapKeys["admin"]; ok {
		u, err := mem.GetUser(ctx, "admin")
		if err == nil {
			u.IsAdmin = true
			if err := mem.UpdateUser(ctx, u); err != nil {
				slog.Warn("could not mark bootstrap admin", "err", err)
			}
		}
	}
	a.identity = mem
	if n := len(a.cfg.Auth.BootstrapKeys); n > 0 {
		slog.Info("identity store seeded", "backend", "memory", "bootstrap_keys", n)
	}
	return nil
}

// initBot wires the dispatcher and command sets, then connects the Telegram
// boundary when a token is configured.
func (a *App) initBot() error {
	a.dispatcher = bot.NewDispatcher("")
	a.cancels = bot.NewCancelSet()

	commands.NewCore(a.dispatcher, a.collector, a.cancels)
	commands.NewAdmin(a.dispatcher, commands.AdminConfig{
		Cache:    a.cache,
		Metrics:  a.collector,
		Registry: a.registry,
		Router:   a.router,
		Identity: a.identity,
		Cancels:  a.cancels,
		Hooks: commands.Hooks{
			ReloadEngines: a.reloadEngines,
			Restart:       a.restart,
			Shutdown:      a.RequestStop,
		},
	})

	if a.cfg.Telegram.Token == "" {
		slog.Info("telegram token absent, bot boundary disabled")
		return nil
	}
	tg, err := telegram.New(telegram.Config{
		Token:              a.cfg.Telegram.Token,
		SudoUsers:          a.cfg.Telegram.SudoUsers,
		PollTimeoutSeconds: a.cfg.Telegram.PollTimeoutSeconds,
		Debug:              a.cfg.Telegram.Debug,
	}, a.dispatcher, a.orch)
	if err != nil {
		return err
	}
	a.tg = tg
	a.closers = append(a.closers, tg.Close)
	return nil
}

// initHTTP assembles the REST handler and the server around it. The listen
// socket is opened by Run, not here.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.Engines(a.registry)}
	if a.pg != nil {
		checkers = append(checkers, health.Database(a.pg.Pool()))
	}
	if a.redis != nil {
		checkers = append(checkers, health.Redis(a.redis))
	}
	a.health = health.New(checkers...)

	srv := api.New(api.Config{
		Orchestrator: a.orch,
		Router:       a.router,
		Cache:        a.cache,
		Metrics:      a.collector,
		Identity:     a.identity,
		Health:       a.health,
		Observe:      observe.DefaultMetrics(),
		AuthEnabled:  a.cfg.Auth.Enabled,
		Version:      a.version,
	})
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the REST listener, starts the Telegram long poll and blocks
// until ctx is cancelled, RequestStop is called or the HTTP server fails.
// It returns context.Canceled on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The admin /shutdown command stops the service like a signal would.
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http api listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("app: http server: %w", err):
			default:
			}
		}
	}()

	if a.tg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.tg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("telegram bot stopped", "err", err)
			}
		}()
	}

	// Feed the health score with process stats.
	a.collector.SampleSystem()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(systemSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.collector.SampleSystem()
			}
		}
	}()

	slog.Info("app running",
		"engines", a.registry.IDs(),
		"telegram", a.tg != nil,
		"auth", a.cfg.Auth.Enabled,
	)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
		cancel()
	}

	// Drain in-flight requests and unblock ListenAndServe.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), httpStopTimeout)
	defer stopCancel()
	if err := a.httpSrv.Shutdown(stopCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}

	wg.Wait()
	return runErr
}

// RequestStop makes Run return, as if the process had received a signal.
// Safe to call more than once and before Run.
func (a *App) RequestStop() {
	a.stopReq.Do(func() { close(a.stopCh) })
}

// ─── Reload hooks ────────────────────────────────────────────────────────────

// reloadEngines rebuilds the drivers from the current configuration and
// swaps them into the registry. The old drivers are closed after the swap.
// On build failure the running set is kept.
func (a *App) reloadEngines(ctx context.Context) error {
	cfg := a.currentConfig()
	engines, err := a.buildEngines(cfg)
	if err != nil {
		return err
	}
	if err := a.registry.Replace(engines); err != nil {
		for _, e := range engines {
			_ = e.Close()
		}
		return fmt.Errorf("app: swap engines: %w", err)
	}
	a.applyPolicy(cfg)
	a.router.ResetBreakers()
	slog.Info("engines reloaded", "engines", a.registry.IDs())
	return nil
}

// restart re-runs the supervised reload: engines, routing policies, breaker
// state and the runtime toggles, all from the current configuration.
func (a *App) restart(ctx context.Context) error {
	if err := a.reloadEngines(ctx); err != nil {
		return err
	}
	cfg := a.currentConfig()
	a.orch.SetCacheEnabled(cfg.Synthesis.CacheOn())
	a.orch.SetAudioProcessing(cfg.Synthesis.ProcessingOn())
	return nil
}

// applyPolicy installs the configured per-language engine orders. Invalid
// entries are logged and skipped; the router keeps its default order for
// those languages.
func (a *App) applyPolicy(cfg *config.Config) {
	for lang, ids := range cfg.Policy {
		if err := a.router.SetPolicy(lang, ids); err != nil {
			slog.Warn("policy rejected", "language", lang, "order", ids, "err", err)
		}
	}
}

// ApplyConfig applies a hot-reloaded configuration. Engine changes trigger a
// supervised reload; policy and toggle changes apply in place. Fields the
// diff does not track (listen address, backends) require a process restart
// and are ignored here.
func (a *App) ApplyConfig(ctx context.Context, d config.ConfigDiff, cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if d.EnginesChanged {
		if err := a.reloadEngines(ctx); err != nil {
			slog.Error("config reload: keeping previous engines", "err", err)
		}
	} else if d.PolicyChanged {
		a.applyPolicy(cfg)
	}
	if d.CacheEnabledChanged {
		a.orch.SetCacheEnabled(d.NewCacheEnabled)
		slog.Info("config reload: cache toggle", "enabled", d.NewCacheEnabled)
	}
	if d.AudioProcessingChanged {
		a.orch.SetAudioProcessing(d.NewAudioProcessing)
		slog.Info("config reload: audio processing toggle", "enabled", d.NewAudioProcessing)
	}
}

func (a *App) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator exposes the synthesis orchestrator, mainly for tests that
// drive requests through the fully wired stack.
func (a *App) Orchestrator() *synth.Orchestrator { return a.orch }

// EngineIDs returns the ids of the registered drivers in registration
// order.
func (a *App) EngineIDs() []string { return a.registry.IDs() }

// Identity exposes the identity store backing both boundaries.
func (a *App) Identity() identity.Store { return a.identity }

// TelegramEnabled reports whether the bot boundary is connected.
func (a *App) TelegramEnabled() bool { return a.tg != nil }

// ListenAddr returns the configured REST listen address.
func (a *App) ListenAddr() string { return a.httpSrv.Addr }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
