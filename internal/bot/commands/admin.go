package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/cache"
	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	// testEngineTimeout bounds each probe of /test_engines.
	testEngineTimeout = 10 * time.Second

	// testEngineConcurrency bounds how many probes run at once.
	testEngineConcurrency = 4

	// monitorInterval is the refresh period of the /monitor loop.
	monitorInterval = 5 * time.Second

	// exportTextCap keeps exported JSON under the chat message limit.
	exportTextCap = 3500
)

// Hooks connect admin commands to process-level actions owned by the
// application container.
type Hooks struct {
	// ReloadEngines rebuilds the drivers from the current configuration
	// and swaps them into the registry.
	ReloadEngines func(ctx context.Context) error

	// Restart re-runs the full supervised reload: engines, routing
	// policies and cache wiring.
	Restart func(ctx context.Context) error

	// Shutdown cancels the application root context.
	Shutdown func()
}

// AdminConfig carries the dependencies of the admin command set.
type AdminConfig struct {
	Cache    cache.Cache
	Metrics  *metrics.Collector
	Registry *engine.Registry
	Router   *router.Router
	Identity identity.Store
	Cancels  *bot.CancelSet
	Hooks    Hooks
}

// Admin holds the sudo-gated command set. The dispatcher enforces the
// gate; handlers here assume the caller is already authorized.
type Admin struct {
	cache    cache.Cache
	metrics  *metrics.Collector
	registry *engine.Registry
	router   *router.Router
	identity identity.Store
	cancels  *bot.CancelSet
	hooks    Hooks
}

// NewAdmin creates the admin command set and registers it with the
// dispatcher.
func NewAdmin(d *bot.Dispatcher, cfg AdminConfig) *Admin {
	a := &Admin{
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		registry: cfg.Registry,
		router:   cfg.Router,
		identity: cfg.Identity,
		cancels:  cfg.Cancels,
		hooks:    cfg.Hooks,
	}
	a.Register(d)
	return a
}

// Register registers the admin commands and callbacks with the
// dispatcher.
func (a *Admin) Register(d *bot.Dispatcher) {
	d.RegisterAdminCommand("clear_cache", a.handleClearCache)
	d.RegisterAdminCommand("cache_stats", a.handleCacheStats)
	d.RegisterAdminCommand("cache_cleanup", a.handleCacheCleanup)
	d.RegisterAdminCommand("cache_export", a.handleCacheExport)
	d.RegisterAdminCommand("reload_engines", a.handleReloadEngines)
	d.RegisterAdminCommand("reset_stats", a.handleResetStats)
	d.RegisterAdminCommand("restart", a.handleRestart)
	d.RegisterAdminCommand("shutdown", a.handleShutdown)
	d.RegisterAdminCommand("create_user", a.handleCreateUser)
	d.RegisterAdminCommand("delete_user", a.handleDeleteUser)
	d.RegisterAdminCommand("list_users", a.handleListUsers)
	d.RegisterAdminCommand("create_key", a.handleCreateKey)
	d.RegisterAdminCommand("list_keys", a.handleListKeys)
	d.RegisterAdminCommand("delete_key", a.handleDeleteKey)
	d.RegisterAdminCommand("system_stats", a.handleSystemStats)
	d.RegisterAdminCommand("health_check", a.handleHealthCheck)
	d.RegisterAdminCommand("performance", a.handlePerformance)
	d.RegisterAdminCommand("monitor", a.handleMonitor)
	d.RegisterAdminCommand("export_metrics", a.handleExportMetrics)
	d.RegisterAdminCommand("debug", a.handleDebug)
	d.RegisterAdminCommand("test_engines", a.handleTestEngines)
	d.RegisterAdminCommand("settings", a.handleSettings)

	d.RegisterAdminCallback("engine_", a.callbackEngine)
	d.RegisterAdminCallback("settings_cache_on", a.callbackCacheOn)
	d.RegisterAdminCallback("settings_cache_off", a.callbackCacheOff)
	d.RegisterAdminCallback("settings_audio_on", a.callbackAudioOn)
	d.RegisterAdminCallback("settings_audio_off", a.callbackAudioOff)
}

func (a *Admin) reply(ctx context.Context, b bot.Boundary, msg *bot.Message, text string) error {
	_, err := b.SendMessage(ctx, msg.ChatID, text)
	return err
}

func (a *Admin) handleClearCache(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.cache == nil {
		return a.reply(ctx, b, msg, "No cache configured.")
	}
	before := a.cache.Stats()
	if err := a.cache.Clear(ctx); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Clear failed: %v", err))
	}
	return a.reply(ctx, b, msg, fmt.Sprintf("Cache cleared (%d entries, %s).",
		before.Entries, formatBytes(before.SizeBytes)))
}

func (a *Admin) handleCacheStats(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.cache == nil {
		return a.reply(ctx, b, msg, "No cache configured.")
	}
	s := a.cache.Stats()
	return a.reply(ctx, b, msg, fmt.Sprintf(
		"Cache statistics\nEntries: %d (%s)\nHits: %d\nMisses: %d\nHit rate: %.1f%%\nEvictions: %d",
		s.Entries, formatBytes(s.SizeBytes), s.Hits, s.Misses, s.HitRate*100, s.Evictions))
}

func (a *Admin) handleCacheCleanup(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.cache == nil {
		return a.reply(ctx, b, msg, "No cache configured.")
	}
	sweeper, ok := a.cache.(interface {
		CleanupExpired(ctx context.Context) int
	})
	if !ok {
		return a.reply(ctx, b, msg, "This cache backend expires entries on its own.")
	}
	n := sweeper.CleanupExpired(ctx)
	return a.reply(ctx, b, msg, fmt.Sprintf("Removed %d expired entries.", n))
}

func (a *Admin) handleCacheExport(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.cache == nil {
		return a.reply(ctx, b, msg, "No cache configured.")
	}
	doc, err := json.MarshalIndent(a.cache.Stats(), "", "  ")
	if err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Export failed: %v", err))
	}
	return a.reply(ctx, b, msg, string(doc))
}

func (a *Admin) handleReloadEngines(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.hooks.ReloadEngines == nil {
		return a.reply(ctx, b, msg, "Engine reload is not wired up.")
	}
	if err := a.hooks.ReloadEngines(ctx); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Reload failed: %v", err))
	}
	ids := a.registry.IDs()
	return a.reply(ctx, b, msg, fmt.Sprintf("Engines reloaded: %s.", strings.Join(ids, ", ")))
}

func (a *Admin) handleResetStats(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	a.metrics.Reset()
	return a.reply(ctx, b, msg, "Statistics reset.")
}

func (a *Admin) handleRestart(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	if a.hooks.Restart == nil {
		return a.reply(ctx, b, msg, "Restart is not wired up.")
	}
	if err := a.hooks.Restart(ctx); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Restart failed: %v", err))
	}
	return a.reply(ctx, b, msg, fmt.Sprintf("Restarted. %d engines ready.", len(a.registry.IDs())))
}

func (a *Admin) handleShutdown(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	if a.hooks.Shutdown == nil {
		return a.reply(ctx, b, msg, "Shutdown is not wired up.")
	}
	if args != "confirm" {
		return a.reply(ctx, b, msg, "Send /shutdown confirm to stop the service.")
	}
	if err := a.reply(ctx, b, msg, "Shutting down."); err != nil {
		return err
	}
	a.hooks.Shutdown()
	return nil
}

func (a *Admin) handleCreateUser(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	userID := kv["user_id"]
	if userID == "" && len(pos) > 0 {
		userID = pos[0]
	}
	if userID == "" {
		return a.reply(ctx, b, msg, "Usage: /create_user user_id:<id> [username:<name>] [email:<addr>] [admin:true]")
	}

	u := identity.User{
		UserID:   userID,
		Username: kv["username"],
		Email:    kv["email"],
		IsActive: true,
		IsAdmin:  kv["admin"] == "true",
	}
	if err := a.identity.CreateUser(ctx, u); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Create failed: %v", err))
	}
	return a.reply(ctx, b, msg, fmt.Sprintf("User %s created.", userID))
}

func (a *Admin) handleDeleteUser(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	userID := kv["user_id"]
	if userID == "" && len(pos) > 0 {
		userID = pos[0]
	}
	if userID == "" {
		return a.reply(ctx, b, msg, "Usage: /delete_user user_id:<id>")
	}
	if err := a.identity.DeleteUser(ctx, userID); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Delete failed: %v", err))
	}
	return a.reply(ctx, b, msg, fmt.Sprintf("User %s deleted, including all API keys.", userID))
}

func (a *Admin) handleListUsers(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	users, err := a.identity.ListUsers(ctx)
	if err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("List failed: %v", err))
	}
	if len(users) == 0 {
		return a.reply(ctx, b, msg, "No users registered.")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Users (%d):\n", len(users))
	for _, u := range users {
		flags := make([]string, 0, 2)
		if u.IsAdmin {
			flags = append(flags, "admin")
		}
		if !u.IsActive {
			flags = append(flags, "inactive")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}
		name := u.Username
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&sb, "• %s (%s)%s\n", u.UserID, name, suffix)
	}
	return a.reply(ctx, b, msg, strings.TrimRight(sb.String(), "\n"))
}

func (a *Admin) handleCreateKey(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	userID := kv["user_id"]
	if userID == "" && len(pos) > 0 {
		userID = pos[0]
	}
	if userID == "" {
		return a.reply(ctx, b, msg, "Usage: /create_key user_id:<id> [permissions:read,write] [expires:720h]")
	}

	perms := types.NewPermissionSet()
	for _, p := range strings.Split(kv["permissions"], ",") {
		if perm := types.Permission(strings.TrimSpace(p)); perm.IsValid() {
			perms.Add(perm)
		}
	}

	var expiresAt *time.Time
	if ttl := kv["expires"]; ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return a.reply(ctx, b, msg, fmt.Sprintf("Bad expires duration %q: %v", ttl, err))
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	plain, meta, err := a.identity.CreateAPIKey(ctx, userID, perms, expiresAt)
	if err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Create failed: %v", err))
	}

	permNames := meta.Permissions.Strings()
	return a.reply(ctx, b, msg, fmt.Sprintf(
		"API key for %s created.\nKey: %s\nID: %s\nPermissions: %s\n\nThe key is shown once; store it now.",
		userID, plain, meta.ID, strings.Join(permNames, ", ")))
}

func (a *Admin) handleListKeys(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	userID := kv["user_id"]
	if userID == "" && len(pos) > 0 {
		userID = pos[0]
	}

	keys, err := a.identity.ListAPIKeys(ctx, userID)
	if err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("List failed: %v", err))
	}
	if len(keys) == 0 {
		return a.reply(ctx, b, msg, "No API keys found.")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "API keys (%d):\n", len(keys))
	for _, k := range keys {
		state := "active"
		if !k.IsActive {
			state = "revoked"
		} else if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
			state = "expired"
		}
		fmt.Fprintf(&sb, "• %s — %s, %s, used %d×\n",
			k.ID, k.UserID, state, k.UsageCount)
	}
	return a.reply(ctx, b, msg, strings.TrimRight(sb.String(), "\n"))
}

func (a *Admin) handleDeleteKey(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	keyID := kv["id"]
	if keyID == "" && len(pos) > 0 {
		keyID = pos[0]
	}
	if keyID == "" {
		return a.reply(ctx, b, msg, "Usage: /delete_key id:<key id>")
	}
	if err := a.identity.DeleteAPIKey(ctx, keyID); err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Delete failed: %v", err))
	}
	return a.reply(ctx, b, msg, fmt.Sprintf("API key %s deleted.", keyID))
}

func (a *Admin) handleSystemStats(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	a.metrics.SampleSystem()
	snap := a.metrics.Snapshot()
	sys := snap.System
	if sys == nil {
		return a.reply(ctx, b, msg, "No system sample available.")
	}
	return a.reply(ctx, b, msg, fmt.Sprintf(
		"System\nGoroutines: %d\nHeap: %s in use, %s reserved\nGC runs: %d\nCPUs: %d\nUptime: %s",
		sys.Goroutines,
		formatBytes(int64(sys.HeapAlloc)), formatBytes(int64(sys.HeapSys)),
		sys.NumGC, runtime.NumCPU(), formatSeconds(snap.UptimeSeconds)))
}

func (a *Admin) handleHealthCheck(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	snap := a.metrics.Snapshot()
	verdict := "healthy"
	switch {
	case snap.HealthScore < 50:
		verdict = "unhealthy"
	case snap.HealthScore < 80:
		verdict = "degraded"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Health: %.0f/100 (%s)\n", snap.HealthScore, verdict)

	available := a.registry.Available(ctx)
	fmt.Fprintf(&sb, "Engines available: %s\n", joinOrDash(available))

	states := a.router.BreakerStates()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if states[id] != "closed" {
			fmt.Fprintf(&sb, "Breaker %s: %s\n", id, states[id])
		}
	}

	return a.reply(ctx, b, msg, strings.TrimRight(sb.String(), "\n"))
}

func (a *Admin) handlePerformance(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	snap := a.metrics.Snapshot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Latency over the last %d requests\n", snap.Latency.Samples)
	fmt.Fprintf(&sb, "avg %.0fms, p50 %.0fms, p95 %.0fms, p99 %.0fms\n",
		snap.Latency.AvgMS, snap.Latency.P50MS, snap.Latency.P95MS, snap.Latency.P99MS)

	if len(snap.Engines) > 0 {
		sb.WriteString("Per engine (min/avg/max ms):\n")
		ids := make([]string, 0, len(snap.Engines))
		for id := range snap.Engines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			es := snap.Engines[id]
			fmt.Fprintf(&sb, "• %s: %.0f / %.0f / %.0f\n", id, es.MinMS, es.AvgMS, es.MaxMS)
		}
	}

	return a.reply(ctx, b, msg, strings.TrimRight(sb.String(), "\n"))
}

// handleMonitor live-updates a single message with system stats until
// the duration elapses or /cancel stops it.
func (a *Admin) handleMonitor(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	duration := 30 * time.Second
	if args != "" {
		secs, err := strconv.Atoi(args)
		if err != nil || secs <= 0 {
			return a.reply(ctx, b, msg, "Usage: /monitor [seconds]")
		}
		duration = time.Duration(secs) * time.Second
	}
	if duration > 5*time.Minute {
		duration = 5 * time.Minute
	}

	mctx, done := a.cancels.Register(ctx, msg.ChatID)
	defer done()

	messageID, err := b.SendMessage(ctx, msg.ChatID, a.monitorText())
	if err != nil {
		return err
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	deadline := time.After(duration)

	for {
		select {
		case <-mctx.Done():
			return b.EditMessageText(ctx, msg.ChatID, messageID, "Monitor stopped.")
		case <-deadline:
			return b.EditMessageText(ctx, msg.ChatID, messageID, a.monitorText()+"\n\nMonitor finished.")
		case <-ticker.C:
			if err := b.EditMessageText(mctx, msg.ChatID, messageID, a.monitorText()); err != nil {
				return err
			}
		}
	}
}

func (a *Admin) monitorText() string {
	a.metrics.SampleSystem()
	snap := a.metrics.Snapshot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Live monitor — %s\n", time.Now().Format("15:04:05"))
	fmt.Fprintf(&sb, "Health: %.0f/100\n", snap.HealthScore)
	fmt.Fprintf(&sb, "Requests: %d (%.1f%% ok)\n", snap.TotalRequests, snap.SuccessRate*100)
	fmt.Fprintf(&sb, "p95: %.0fms\n", snap.Latency.P95MS)
	if sys := snap.System; sys != nil {
		fmt.Fprintf(&sb, "Goroutines: %d, heap %s", sys.Goroutines, formatBytes(int64(sys.HeapAlloc)))
	}
	return sb.String()
}

func (a *Admin) handleExportMetrics(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	doc, err := a.metrics.ExportJSON()
	if err != nil {
		return a.reply(ctx, b, msg, fmt.Sprintf("Export failed: %v", err))
	}
	text := string(doc)
	if len(text) > exportTextCap {
		text = text[:exportTextCap] + "\n… (truncated)"
	}
	return a.reply(ctx, b, msg, text)
}

func (a *Admin) handleDebug(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Debug\n")
	fmt.Fprintf(&sb, "Engines: %s\n", joinOrDash(a.registry.IDs()))
	fmt.Fprintf(&sb, "Available: %s\n", joinOrDash(a.registry.Available(ctx)))

	overrides := a.router.Overrides()
	if len(overrides) > 0 {
		langs := make([]string, 0, len(overrides))
		for lang := range overrides {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		sb.WriteString("Policy overrides:\n")
		for _, lang := range langs {
			fmt.Fprintf(&sb, "• %s → %s\n", lang, strings.Join(overrides[lang], " > "))
		}
	}

	states := a.router.BreakerStates()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&sb, "Breaker %s: %s\n", id, states[id])
	}

	if a.cache != nil {
		s := a.cache.Stats()
		fmt.Fprintf(&sb, "Cache: %d entries, %.1f%% hit rate\n", s.Entries, s.HitRate*100)
	}
	fmt.Fprintf(&sb, "Goroutines: %d", runtime.NumGoroutine())

	return a.reply(ctx, b, msg, sb.String())
}

// handleTestEngines probes every registered engine with a short real
// synthesis call, bounded per engine.
func (a *Admin) handleTestEngines(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	engines := a.registry.Engines()
	if len(engines) == 0 {
		return a.reply(ctx, b, msg, "No engines registered.")
	}

	type probe struct {
		id      string
		err     error
		latency time.Duration
		bytes   int
	}
	results := make([]probe, len(engines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(testEngineConcurrency)
	for i, eng := range engines {
		g.Go(func() error {
			lang := "en"
			if langs := eng.Capabilities().Languages; len(langs) > 0 {
				lang = langs[0]
			}
			pctx, cancel := context.WithTimeout(gctx, testEngineTimeout)
			defer cancel()

			start := time.Now()
			audio, _, err := eng.Synthesize(pctx, engine.SynthInput{Text: "test", Language: lang})
			results[i] = probe{id: eng.ID(), err: err, latency: time.Since(start), bytes: len(audio)}
			return nil
		})
	}
	// Probes never return errors through the group; failures land in
	// results.
	_ = g.Wait()

	var sb strings.Builder
	sb.WriteString("Engine probes:\n")
	for _, p := range results {
		if p.err != nil {
			fmt.Fprintf(&sb, "✗ %s — %v\n", p.id, p.err)
			continue
		}
		fmt.Fprintf(&sb, "✓ %s — %s, %s\n", p.id, p.latency.Truncate(time.Millisecond), formatBytes(int64(p.bytes)))
	}
	return a.reply(ctx, b, msg, strings.TrimRight(sb.String(), "\n"))
}

// handleSettings shows the runtime toggles with inline buttons.
func (a *Admin) handleSettings(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	text := fmt.Sprintf("Runtime settings\nCache: %s\nAudio processing: %s",
		onOff(b.CacheEnabled()), onOff(b.AudioProcessing()))
	kb := bot.Keyboard{
		{
			{Text: "Cache on", Data: "settings_cache_on"},
			{Text: "Cache off", Data: "settings_cache_off"},
		},
		{
			{Text: "Audio on", Data: "settings_audio_on"},
			{Text: "Audio off", Data: "settings_audio_off"},
		},
	}
	_, err := b.SendMessage(ctx, msg.ChatID, text, bot.WithKeyboard(kb))
	return err
}

// callbackEngine promotes an engine to the head of the routing policy.
// Data is "engine_<id>" or "engine_<id>:<lang>"; without a language the
// promotion covers every default language the engine advertises.
func (a *Admin) callbackEngine(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	id, lang, _ := strings.Cut(args, ":")
	if id == "" {
		return b.AnswerCallback(ctx, msg.CallbackID,
			b.T(msg.Language, "errors.engine_not_found", i18n.Vars{"engine": args}))
	}

	updated, err := a.router.SetPolicyHead(lang, id)
	if err != nil {
		return b.AnswerCallback(ctx, msg.CallbackID,
			bot.ErrorText(b, msg.Language, err, i18n.Vars{"engine": id, "lang": lang}))
	}

	if err := b.AnswerCallback(ctx, msg.CallbackID,
		b.T(msg.Language, "settings.engine", i18n.Vars{"engine": id})); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("Routing policy\n")
	for _, l := range updated {
		fmt.Fprintf(&sb, "%s: %s\n", l, strings.Join(a.router.SelectPolicy(l), " > "))
	}
	return b.EditMessageText(ctx, msg.ChatID, msg.MessageID, strings.TrimRight(sb.String(), "\n"))
}

func (a *Admin) callbackCacheOn(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	b.SetCacheEnabled(true)
	return b.AnswerCallback(ctx, msg.CallbackID, b.T(msg.Language, "settings.cache_on", nil))
}

func (a *Admin) callbackCacheOff(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	b.SetCacheEnabled(false)
	return b.AnswerCallback(ctx, msg.CallbackID, b.T(msg.Language, "settings.cache_off", nil))
}

func (a *Admin) callbackAudioOn(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	b.SetAudioProcessing(true)
	return b.AnswerCallback(ctx, msg.CallbackID, b.T(msg.Language, "settings.audio_on", nil))
}

func (a *Admin) callbackAudioOff(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	b.SetAudioProcessing(false)
	return b.AnswerCallback(ctx, msg.CallbackID, b.T(msg.Language, "settings.audio_off", nil))
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
