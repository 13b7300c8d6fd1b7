// Package gtts provides an engine driver backed by the Google Translate
// text-to-speech endpoint. It implements the engine.Engine interface.
//
// The endpoint serves MP3 for short text fragments; longer input is split on
// sentence boundaries and the resulting MPEG streams are concatenated, which
// is legal for constant-parameter MP3. There is no voice catalogue and no
// native rate or pitch control; the pipeline applies those afterwards.
package gtts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultBaseURL = "https://translate.google.com/translate_tts"

	// chunkLimit is the largest text fragment sent per request. The
	// endpoint rejects URLs past roughly 200 characters of query text.
	chunkLimit = 200

	// maxTextLength is the driver's own input cap, enforced before
	// chunking.
	maxTextLength = 5000

	// failureCooldown is how long the driver reports unavailable after a
	// transport-level failure.
	failureCooldown = 30 * time.Second
)

// Languages served by the endpoint. A subset of the full catalogue covering
// the locales the bot ships messages for plus the common majors.
var defaultLanguages = []string{
	"af", "ar", "bn", "cs", "da", "de", "el", "en", "es", "fa", "fi", "fr",
	"gu", "hi", "hu", "id", "it", "ja", "km", "kn", "ko", "la", "lv", "ml",
	"mr", "ms", "ne", "nl", "no", "pl", "pt", "ro", "ru", "si", "sk", "sq",
	"sr", "su", "sv", "sw", "ta", "te", "th", "tl", "tr", "uk", "ur", "vi",
	"zh",
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithBaseURL overrides the synthesis endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(e *Engine) {
		e.baseURL = u
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithLanguages overrides the advertised language set.
func WithLanguages(langs []string) Option {
	return func(e *Engine) {
		e.languages = langs
	}
}

// Engine implements engine.Engine against the Google Translate endpoint.
type Engine struct {
	baseURL   string
	client    *http.Client
	languages []string

	// lastFailure holds the unix nano time of the last transport failure;
	// the driver reports unavailable during the cooldown that follows.
	lastFailure atomic.Int64
}

// New constructs the driver.
func New(opts ...Option) *Engine {
	e := &Engine{
		baseURL:   defaultBaseURL,
		languages: defaultLanguages,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ID implements engine.Engine.
func (e *Engine) ID() string { return "gtts" }

// Capabilities implements engine.Engine.
func (e *Engine) Capabilities() types.EngineCapabilities {
	return types.EngineCapabilities{
		Languages:     e.languages,
		SupportsRate:  false,
		SupportsPitch: false,
		SupportsSSML:  false,
		Offline:       false,
		MaxTextLength: maxTextLength,
	}
}

// IsAvailable implements engine.Engine. It answers from the failure
// cooldown; no network probe happens here.
func (e *Engine) IsAvailable(_ context.Context) bool {
	last := e.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > failureCooldown
}

// ListVoices implements engine.Engine. The endpoint has one implicit voice
// per language.
func (e *Engine) ListVoices(string) []string { return nil }

// Synthesize implements engine.Engine.
func (e *Engine) Synthesize(ctx context.Context, in engine.SynthInput) ([]byte, string, error) {
	if !e.Capabilities().SupportsLanguage(in.Language) {
		return nil, "", engine.UnsupportedLanguage(e.ID(), in.Language)
	}
	if in.Voice != "" {
		return nil, "", engine.UnsupportedVoice(e.ID(), in.Voice)
	}
	if len([]rune(in.Text)) > maxTextLength {
		return nil, "", engine.TextTooLong(e.ID(), len([]rune(in.Text)), maxTextLength)
	}

	var out []byte
	for _, chunk := range splitChunks(in.Text, chunkLimit) {
		part, err := e.fetch(ctx, chunk, in.Language)
		if err != nil {
			return nil, "", err
		}
		out = append(out, part...)
	}
	if len(out) == 0 {
		return nil, "", engine.Transient(e.ID(), errors.New("empty response"))
	}
	return out, "mp3", nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *Engine) fetch(ctx context.Context, text, lang string) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", strings.ToLower(lang))
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, engine.Transient(e.ID(), err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := e.client.Do(req)
	if err != nil {
		e.markFailure()
		return nil, engine.Transient(e.ID(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to body read
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, engine.Fatal(e.ID(), fmt.Errorf("endpoint returned %s", resp.Status))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, engine.UnsupportedLanguage(e.ID(), lang)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		e.markFailure()
		return nil, engine.Transient(e.ID(), fmt.Errorf("endpoint returned %s", resp.Status))
	default:
		return nil, engine.Transient(e.ID(), fmt.Errorf("endpoint returned %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.markFailure()
		return nil, engine.Transient(e.ID(), fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (e *Engine) markFailure() {
	e.lastFailure.Store(time.Now().UnixNano())
}

// splitChunks splits text into fragments of at most limit runes, preferring
// sentence boundaries, then word boundaries, then a hard cut.
func splitChunks(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return []string{string(runes)}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		window := runes[:limit]
		if i := lastIndexAny(window, ".!?؟。"); i > 0 {
			cut = i + 1
		} else if i := lastIndexAny(window, " \t\n"); i > 0 {
			cut = i + 1
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	return chunks
}

func lastIndexAny(runes []rune, set string) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if strings.ContainsRune(set, runes[i]) {
			return i
		}
	}
	return -1
}

// Ensure Engine satisfies the interface at compile time.
var _ engine.Engine = (*Engine)(nil)
