package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ttskit/ttskit/internal/api"
	"github.com/ttskit/ttskit/internal/cache"
	"github.com/ttskit/ttskit/internal/health"
	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/pipeline"
	"github.com/ttskit/ttskit/internal/ratelimit"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/internal/synth"
	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/engine/mock"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	adminKey = "tk_test_admin"
	writeKey = "tk_test_write"
	readKey  = "tk_test_read"
)

type serverOptions struct {
	engines     []engine.Engine
	limiter     ratelimit.Limiter
	authEnabled bool
}

// newTestServer builds a full stack (registry, router, orchestrator, identity
// store) behind an httptest server. Audio processing is off so mock output
// passes through without ffmpeg.
func newTestServer(t *testing.T, opt serverOptions) *httptest.Server {
	t.Helper()

	reg := engine.NewRegistry()
	engines := opt.engines
	if engines == nil {
		engines = []engine.Engine{&mock.Engine{
			EngineID:         "fake",
			SynthesizeFormat: "ogg",
			VoicesByLang:     map[string][]string{"en": {"fake-en-1", "fake-en-2"}},
		}}
	}
	for _, e := range engines {
		reg.Register(e)
	}
	rt := router.New(reg)

	store := cache.NewMemory()
	collector := metrics.New(100)
	opts := []synth.Option{
		synth.WithCache(store),
		synth.WithMetrics(collector),
		synth.WithDefaultLanguage("en"),
		synth.WithAudioProcessing(false),
	}
	if opt.limiter != nil {
		opts = append(opts, synth.WithLimiter(opt.limiter))
	}
	orch := synth.New(reg, rt, pipeline.New(), opts...)

	ids := identity.NewMemory("test-salt")
	seedKey(t, ids, "root", adminKey, types.NewPermissionSet(types.PermissionRead, types.PermissionWrite), true)
	seedKey(t, ids, "writer", writeKey, types.NewPermissionSet(types.PermissionRead, types.PermissionWrite), false)
	seedKey(t, ids, "reader", readKey, types.NewPermissionSet(types.PermissionRead), false)

	srv := api.New(api.Config{
		Orchestrator: orch,
		Router:       rt,
		Cache:        store,
		Metrics:      collector,
		Identity:     ids,
		Health:       health.New(health.Engines(reg)),
		AuthEnabled:  opt.authEnabled,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// seedKey installs a known plain key, promoting the owner to admin when
// asked.
func seedKey(t *testing.T, store *identity.Memory, userID, plain string, perms types.PermissionSet, admin bool) {
	t.Helper()
	ctx := context.Background()
	if err := store.Seed(ctx, userID, plain, perms); err != nil {
		t.Fatalf("Seed(%q) error: %v", userID, err)
	}
	if admin {
		u, err := store.GetUser(ctx, userID)
		if err != nil {
			t.Fatalf("GetUser(%q) error: %v", userID, err)
		}
		u.IsAdmin = true
		if err := store.UpdateUser(ctx, u); err != nil {
			t.Fatalf("UpdateUser(%q) error: %v", userID, err)
		}
	}
}

func doJSON(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, url, err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

// errKind drains an error response and returns the kind string.
func errKind(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	return body.Error.Kind
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", map[string]any{
		"text": "hello world", "lang": "en",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/ogg" {
		t.Errorf("Content-Type = %q, want audio/ogg", got)
	}
	if got := resp.Header.Get("X-Engine-Used"); got != "fake" {
		t.Errorf("X-Engine-Used = %q, want fake", got)
	}
	if got := resp.Header.Get("X-Cache-Status"); got != "miss" {
		t.Errorf("X-Cache-Status = %q, want miss", got)
	}
	if resp.Header.Get("X-Audio-Duration") == "" {
		t.Error("X-Audio-Duration header missing")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "fake:hello world" {
		t.Errorf("body = %q, want %q", body, "fake:hello world")
	}
	if got := resp.Header.Get("X-Audio-Size"); got != fmt.Sprint(len(body)) {
		t.Errorf("X-Audio-Size = %q, want %d", got, len(body))
	}
}

func TestSynthesizeServedFromCacheOnRepeat(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	req := map[string]any{"text": "cached phrase", "lang": "en"}

	first := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", req)
	firstBody, _ := io.ReadAll(first.Body)
	first.Body.Close()
	if got := first.Header.Get("X-Cache-Status"); got != "miss" {
		t.Fatalf("first X-Cache-Status = %q, want miss", got)
	}

	second := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", req)
	secondBody, _ := io.ReadAll(second.Body)
	second.Body.Close()
	if got := second.Header.Get("X-Cache-Status"); got != "hit" {
		t.Errorf("second X-Cache-Status = %q, want hit", got)
	}
	if !bytes.Equal(firstBody, secondBody) {
		t.Errorf("cached body differs: %q vs %q", firstBody, secondBody)
	}
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty text", map[string]any{"text": "", "lang": "en"}},
		{"unknown format", map[string]any{"text": "hi", "output_format": "flac"}},
		{"rate out of range", map[string]any{"text": "hi", "rate": 99.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				resp.Body.Close()
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if kind := errKind(t, resp); kind != string(types.KindTextValidation) {
				t.Errorf("kind = %q, want %v", kind, types.KindTextValidation)
			}
		})
	}
}

func TestSynthesizeRateLimited(t *testing.T) {
	ts := newTestServer(t, serverOptions{
		limiter: ratelimit.NewMemory(ratelimit.Config{Capacity: 1}),
	})

	first := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", map[string]any{"text": "one"})
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.StatusCode)
	}

	second := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", map[string]any{"text": "two"})
	if second.StatusCode != http.StatusTooManyRequests {
		second.Body.Close()
		t.Fatalf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
	if kind := errKind(t, second); kind != string(types.KindRateLimited) {
		t.Errorf("kind = %q, want %v", kind, types.KindRateLimited)
	}
}

func TestBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/batch", "", map[string]any{
		"requests": []map[string]any{
			{"text": "first", "lang": "en"},
			{"text": ""},
			{"text": "third", "lang": "en", "engine": "fake"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			OK          bool   `json:"ok"`
			AudioBase64 string `json:"audio_base64"`
			Format      string `json:"format"`
			EngineUsed  string `json:"engine_used"`
			Error       *struct {
				Kind string `json:"kind"`
			} `json:"error"`
		} `json:"results"`
	}
	decodeJSON(t, resp, &out)

	if len(out.Results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(out.Results))
	}
	if !out.Results[0].OK || out.Results[2].OK != true {
		t.Errorf("results ok flags = [%v %v %v], want [true false true]",
			out.Results[0].OK, out.Results[1].OK, out.Results[2].OK)
	}
	if out.Results[1].OK || out.Results[1].Error == nil {
		t.Fatalf("results[1] = %+v, want failed item with error", out.Results[1])
	}
	if out.Results[1].Error.Kind != string(types.KindTextValidation) {
		t.Errorf("results[1] kind = %q, want %v", out.Results[1].Error.Kind, types.KindTextValidation)
	}

	audio, err := base64.StdEncoding.DecodeString(out.Results[0].AudioBase64)
	if err != nil {
		t.Fatalf("decode results[0] audio: %v", err)
	}
	if string(audio) != "fake:first" {
		t.Errorf("results[0] audio = %q, want %q", audio, "fake:first")
	}
	if out.Results[2].EngineUsed != "fake" || out.Results[2].Format != "ogg" {
		t.Errorf("results[2] engine/format = %q/%q, want fake/ogg",
			out.Results[2].EngineUsed, out.Results[2].Format)
	}
}

func TestBatchRejectsEmptyAndOversized(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/batch", "", map[string]any{
		"requests": []map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	over := make([]map[string]any, 101)
	for i := range over {
		over[i] = map[string]any{"text": fmt.Sprintf("item %d", i)}
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/batch", "", map[string]any{"requests": over})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized batch status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVoicesEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/voices?lang=en&engine=fake", "", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Language string   `json:"language"`
		Engine   string   `json:"engine"`
		Voices   []string `json:"voices"`
	}
	decodeJSON(t, resp, &out)
	if out.Language != "en" || out.Engine != "fake" {
		t.Errorf("echo = %q/%q, want en/fake", out.Language, out.Engine)
	}
	if len(out.Voices) != 2 || out.Voices[0] != "fake-en-1" {
		t.Errorf("voices = %v, want [fake-en-1 fake-en-2]", out.Voices)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/voices?engine=ghost", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		resp.Body.Close()
		t.Fatalf("unknown engine status = %d, want 404", resp.StatusCode)
	}
	if kind := errKind(t, resp); kind != string(types.KindEngineNotFound) {
		t.Errorf("kind = %q, want %v", kind, types.KindEngineNotFound)
	}
}

func TestEnginesEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/engines", "", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Engines []struct {
			ID        string `json:"id"`
			Available bool   `json:"available"`
		} `json:"engines"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Engines) != 1 || out.Engines[0].ID != "fake" || !out.Engines[0].Available {
		t.Errorf("engines = %+v, want one available engine fake", out.Engines)
	}
}

func TestHealthAndInfo(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("/health status = %d, want 200", resp.StatusCode)
	}
	var h struct {
		Status           string `json:"status"`
		EnginesAvailable int    `json:"engines_available"`
		EnginesTotal     int    `json:"engines_total"`
	}
	decodeJSON(t, resp, &h)
	if h.Status != "ok" || h.EnginesAvailable != 1 || h.EnginesTotal != 1 {
		t.Errorf("health = %+v, want ok with 1/1 engines", h)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/info", "", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("/info status = %d, want 200", resp.StatusCode)
	}
	var info struct {
		Service      string   `json:"service"`
		Version      string   `json:"version"`
		Engines      []string `json:"engines"`
		AuthRequired bool     `json:"auth_required"`
	}
	decodeJSON(t, resp, &info)
	if info.Service != "ttskit" || info.Version != "test" {
		t.Errorf("info identity = %q/%q, want ttskit/test", info.Service, info.Version)
	}
	if len(info.Engines) != 1 || info.Engines[0] != "fake" {
		t.Errorf("info engines = %v, want [fake]", info.Engines)
	}
	if info.AuthRequired {
		t.Error("auth_required = true, want false")
	}
}

func TestHealthDegradedWhenNoEngineAvailable(t *testing.T) {
	ts := newTestServer(t, serverOptions{
		engines: []engine.Engine{&mock.Engine{EngineID: "down", Unavailable: true}},
	})

	resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	var h struct {
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &h)
	if h.Status != "degraded" {
		t.Errorf("status = %q, want degraded", h.Status)
	}
}

func TestAuthGates(t *testing.T) {
	ts := newTestServer(t, serverOptions{authEnabled: true})
	synthReq := map[string]any{"text": "gated", "lang": "en"}

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   any
		want   int
	}{
		{"no key on voices", http.MethodGet, "/voices", "", nil, http.StatusUnauthorized},
		{"bad key on voices", http.MethodGet, "/voices", "tk_wrong", nil, http.StatusUnauthorized},
		{"read key on voices", http.MethodGet, "/voices", readKey, nil, http.StatusOK},
		{"read key on engines", http.MethodGet, "/engines", readKey, nil, http.StatusOK},
		{"read key on synthesize", http.MethodPost, "/synthesize", readKey, synthReq, http.StatusForbidden},
		{"write key on synthesize", http.MethodPost, "/synthesize", writeKey, synthReq, http.StatusOK},
		{"read key on stats", http.MethodGet, "/stats", readKey, nil, http.StatusForbidden},
		{"write key on policy", http.MethodPost, "/admin/policy", writeKey, map[string]any{"language": "en", "engines": []string{"fake"}}, http.StatusForbidden},
		{"admin key on stats", http.MethodGet, "/stats", adminKey, nil, http.StatusOK},
		{"no key on health", http.MethodGet, "/health", "", nil, http.StatusOK},
		{"no key on info", http.MethodGet, "/info", "", nil, http.StatusOK},
		{"no key on healthz", http.MethodGet, "/healthz", "", nil, http.StatusOK},
		{"no key on readyz", http.MethodGet, "/readyz", "", nil, http.StatusOK},
		{"no key on metrics", http.MethodGet, "/metrics", "", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, ts.URL+tt.path, tt.key, tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUnauthorizedKindOnMissingKey(t *testing.T) {
	ts := newTestServer(t, serverOptions{authEnabled: true})

	resp := doJSON(t, http.MethodGet, ts.URL+"/voices", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		resp.Body.Close()
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if kind := errKind(t, resp); kind != string(types.KindUnauthorized) {
		t.Errorf("kind = %q, want %v", kind, types.KindUnauthorized)
	}
}

func TestStatsShape(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	// Generate one request so the snapshot has data.
	resp := doJSON(t, http.MethodPost, ts.URL+"/synthesize", "", map[string]any{"text": "stat me"})
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]json.RawMessage
	decodeJSON(t, resp, &out)
	if _, ok := out["metrics"]; !ok {
		t.Error("stats response missing metrics section")
	}
	if _, ok := out["cache_store"]; !ok {
		t.Error("stats response missing cache_store section")
	}
}

func TestAdminPolicyRoundTrip(t *testing.T) {
	alpha := &mock.Engine{EngineID: "alpha", SynthesizeFormat: "ogg"}
	beta := &mock.Engine{EngineID: "beta", SynthesizeFormat: "ogg"}
	ts := newTestServer(t, serverOptions{
		engines:     []engine.Engine{alpha, beta},
		authEnabled: true,
	})

	resp := doJSON(t, http.MethodPost, ts.URL+"/admin/policy", adminKey, map[string]any{
		"language": "en", "engines": []string{"beta", "alpha"},
	})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("set policy status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Language string   `json:"language"`
		Policy   []string `json:"policy"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Policy) != 2 || out.Policy[0] != "beta" || out.Policy[1] != "alpha" {
		t.Fatalf("policy = %v, want [beta alpha]", out.Policy)
	}

	// The reordered policy steers synthesis to beta.
	resp = doJSON(t, http.MethodPost, ts.URL+"/synthesize", writeKey, map[string]any{
		"text": "routed", "lang": "en",
	})
	if got := resp.Header.Get("X-Engine-Used"); got != "beta" {
		t.Errorf("X-Engine-Used = %q, want beta", got)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/policy", adminKey, map[string]any{
		"language": "en", "reset": true,
	})
	decodeJSON(t, resp, &out)
	if len(out.Policy) != 2 || out.Policy[0] != "alpha" {
		t.Errorf("policy after reset = %v, want registration order [alpha beta]", out.Policy)
	}
}

func TestAdminPolicyRejectsUnknownEngine(t *testing.T) {
	ts := newTestServer(t, serverOptions{authEnabled: true})

	resp := doJSON(t, http.MethodPost, ts.URL+"/admin/policy", adminKey, map[string]any{
		"language": "en", "engines": []string{"ghost"},
	})
	if resp.StatusCode != http.StatusNotFound {
		resp.Body.Close()
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if kind := errKind(t, resp); kind != string(types.KindEngineNotFound) {
		t.Errorf("kind = %q, want %v", kind, types.KindEngineNotFound)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/policy", adminKey, map[string]any{
		"language": "en",
	})
	if resp.StatusCode != http.StatusBadRequest {
		resp.Body.Close()
		t.Fatalf("empty engine list status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUserAndKeyLifecycle(t *testing.T) {
	ts := newTestServer(t, serverOptions{authEnabled: true})

	// Create a user.
	resp := doJSON(t, http.MethodPost, ts.URL+"/admin/users", adminKey, map[string]any{
		"user_id": "svc1", "username": "Service One",
	})
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create user status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		IsActive bool   `json:"is_active"`
	}
	decodeJSON(t, resp, &created)
	if created.UserID != "svc1" || !created.IsActive {
		t.Fatalf("created user = %+v, want active svc1", created)
	}

	// Duplicate create conflicts.
	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/users", adminKey, map[string]any{"user_id": "svc1"})
	if resp.StatusCode != http.StatusConflict {
		resp.Body.Close()
		t.Fatalf("duplicate create status = %d, want 409", resp.StatusCode)
	}
	if kind := errKind(t, resp); kind != "USER_EXISTS" {
		t.Errorf("duplicate kind = %q, want USER_EXISTS", kind)
	}

	// Mint a key and use it.
	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/keys", adminKey, map[string]any{
		"user_id": "svc1", "permissions": []string{"read", "write"},
	})
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("create key status = %d, want 201", resp.StatusCode)
	}
	var minted struct {
		APIKey string `json:"api_key"`
		Key    struct {
			ID     string `json:"id"`
			UserID string `json:"user_id"`
		} `json:"key"`
	}
	decodeJSON(t, resp, &minted)
	if !strings.HasPrefix(minted.APIKey, "tk_") {
		t.Fatalf("api_key = %q, want tk_ prefix", minted.APIKey)
	}
	if minted.Key.UserID != "svc1" || minted.Key.ID == "" {
		t.Fatalf("key metadata = %+v, want svc1 with id", minted.Key)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/synthesize", minted.APIKey, map[string]any{"text": "as svc1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("synthesize with minted key status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// List, delete, and confirm the key stops working.
	resp = doJSON(t, http.MethodGet, ts.URL+"/admin/keys?user_id=svc1", adminKey, nil)
	var listed struct {
		Keys []struct {
			ID string `json:"id"`
		} `json:"keys"`
	}
	decodeJSON(t, resp, &listed)
	if len(listed.Keys) != 1 || listed.Keys[0].ID != minted.Key.ID {
		t.Fatalf("listed keys = %+v, want the minted key", listed.Keys)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/admin/keys/"+minted.Key.ID, adminKey, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/synthesize", minted.APIKey, map[string]any{"text": "after delete"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("synthesize with deleted key status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Patch, then delete the user.
	resp = doJSON(t, http.MethodPatch, ts.URL+"/admin/users/svc1", adminKey, map[string]any{"is_admin": true})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("patch user status = %d, want 200", resp.StatusCode)
	}
	var patched struct {
		IsAdmin bool `json:"is_admin"`
	}
	decodeJSON(t, resp, &patched)
	if !patched.IsAdmin {
		t.Error("patched user is_admin = false, want true")
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/admin/users/svc1", adminKey, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/admin/users/svc1", adminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		resp.Body.Close()
		t.Fatalf("get deleted user status = %d, want 404", resp.StatusCode)
	}
	if kind := errKind(t, resp); kind != "USER_NOT_FOUND" {
		t.Errorf("kind = %q, want USER_NOT_FOUND", kind)
	}
}

func TestCreateKeyRejectsUnknownPermission(t *testing.T) {
	ts := newTestServer(t, serverOptions{authEnabled: true})

	resp := doJSON(t, http.MethodPost, ts.URL+"/admin/keys", adminKey, map[string]any{
		"user_id": "root", "permissions": []string{"launch"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		resp.Body.Close()
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}
