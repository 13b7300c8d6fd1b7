// Package edge provides an engine driver for Microsoft Edge's neural
// text-to-speech service. It implements the engine.Engine interface.
//
// The service speaks a WebSocket protocol: the client sends a speech.config
// message and an SSML request, then receives interleaved text frames
// (turn.start, audio.metadata, turn.end) and binary frames whose payload
// carries the encoded audio. Rate and pitch are applied natively through
// SSML prosody attributes.
package edge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ttskit/ttskit/pkg/engine"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"

	// trustedClientToken is the public token the Edge browser itself uses.
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	// outputFormat requests mono MP3; the pipeline handles repackaging.
	outputFormat = "audio-24khz-48kbitrate-mono-mp3"

	maxTextLength = 8000

	failureCooldown = 30 * time.Second
)

// defaultVoices is the shipped voice catalogue, keyed by lowercase language.
// The first entry per language is the default voice.
var defaultVoices = map[string][]string{
	"en": {"en-US-AriaNeural", "en-US-GuyNeural", "en-GB-SoniaNeural"},
	"fa": {"fa-IR-DilaraNeural", "fa-IR-FaridNeural"},
	"ar": {"ar-SA-ZariyahNeural", "ar-SA-HamedNeural"},
	"de": {"de-DE-KatjaNeural", "de-DE-ConradNeural"},
	"es": {"es-ES-ElviraNeural", "es-MX-DaliaNeural"},
	"fr": {"fr-FR-DeniseNeural", "fr-FR-HenriNeural"},
	"hi": {"hi-IN-SwaraNeural", "hi-IN-MadhurNeural"},
	"it": {"it-IT-ElsaNeural", "it-IT-DiegoNeural"},
	"ja": {"ja-JP-NanamiNeural", "ja-JP-KeitaNeural"},
	"ko": {"ko-KR-SunHiNeural", "ko-KR-InJoonNeural"},
	"nl": {"nl-NL-ColetteNeural"},
	"pl": {"pl-PL-ZofiaNeural"},
	"pt": {"pt-BR-FranciscaNeural", "pt-PT-RaquelNeural"},
	"ru": {"ru-RU-SvetlanaNeural", "ru-RU-DmitryNeural"},
	"tr": {"tr-TR-EmelNeural", "tr-TR-AhmetNeural"},
	"zh": {"zh-CN-XiaoxiaoNeural", "zh-CN-YunxiNeural"},
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithEndpoint overrides the WebSocket endpoint. Used by tests.
func WithEndpoint(u string) Option {
	return func(e *Engine) {
		e.endpoint = u
	}
}

// WithVoices replaces the shipped voice catalogue.
func WithVoices(voices map[string][]string) Option {
	return func(e *Engine) {
		e.voices = voices
	}
}

// Engine implements engine.Engine against the Edge readaloud service.
type Engine struct {
	endpoint string
	voices   map[string][]string

	lastFailure atomic.Int64
}

// New constructs the driver.
func New(opts ...Option) *Engine {
	e := &Engine{
		endpoint: defaultEndpoint,
		voices:   defaultVoices,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ID implements engine.Engine.
func (e *Engine) ID() string { return "edge" }

// Capabilities implements engine.Engine.
func (e *Engine) Capabilities() types.EngineCapabilities {
	langs := make([]string, 0, len(e.voices))
	for lang := range e.voices {
		langs = append(langs, lang)
	}
	return types.EngineCapabilities{
		Languages:     langs,
		Voices:        e.voices,
		SupportsRate:  true,
		SupportsPitch: true,
		SupportsSSML:  true,
		Offline:       false,
		MaxTextLength: maxTextLength,
	}
}

// IsAvailable implements engine.Engine.
func (e *Engine) IsAvailable(_ context.Context) bool {
	last := e.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > failureCooldown
}

// ListVoices implements engine.Engine.
func (e *Engine) ListVoices(language string) []string {
	if language == "" {
		var all []string
		for _, vs := range e.voices {
			all = append(all, vs...)
		}
		return all
	}
	return e.voices[strings.ToLower(language)]
}

// Close implements engine.Engine. Connections are per-request; nothing is
// held open between calls.
func (e *Engine) Close() error { return nil }

// Synthesize implements engine.Engine.
func (e *Engine) Synthesize(ctx context.Context, in engine.SynthInput) ([]byte, string, error) {
	voice, err := e.resolveVoice(in.Language, in.Voice)
	if err != nil {
		return nil, "", err
	}
	if len([]rune(in.Text)) > maxTextLength {
		return nil, "", engine.TextTooLong(e.ID(), len([]rune(in.Text)), maxTextLength)
	}

	u := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s",
		e.endpoint, trustedClientToken, connectionID())

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		e.markFailure()
		return nil, "", engine.Transient(e.ID(), fmt.Errorf("dial: %w", err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 20)

	if err := conn.Write(ctx, websocket.MessageText, speechConfig()); err != nil {
		e.markFailure()
		return nil, "", engine.Transient(e.ID(), fmt.Errorf("send config: %w", err))
	}
	if err := conn.Write(ctx, websocket.MessageText, ssmlRequest(voice, in)); err != nil {
		e.markFailure()
		return nil, "", engine.Transient(e.ID(), fmt.Errorf("send ssml: %w", err))
	}

	audio, err := e.readAudio(ctx, conn)
	if err != nil {
		return nil, "", err
	}
	return audio, "mp3", nil
}

// readAudio drains the connection until turn.end, collecting the payload of
// every binary frame whose headers carry Path:audio.
func (e *Engine) readAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var audio []byte
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			e.markFailure()
			return nil, engine.Transient(e.ID(), fmt.Errorf("read: %w", err))
		}

		switch typ {
		case websocket.MessageText:
			if bytes.Contains(msg, []byte("Path:turn.end")) {
				if len(audio) == 0 {
					return nil, engine.Transient(e.ID(), errors.New("turn ended without audio"))
				}
				return audio, nil
			}
		case websocket.MessageBinary:
			if len(msg) < 2 {
				continue
			}
			headerLen := int(binary.BigEndian.Uint16(msg[:2]))
			if len(msg) < 2+headerLen {
				continue
			}
			if bytes.Contains(msg[2:2+headerLen], []byte("Path:audio")) {
				audio = append(audio, msg[2+headerLen:]...)
			}
		}
	}
}

// resolveVoice picks the voice to request: an explicit voice must exist in
// the catalogue for the language; otherwise the language default is used.
func (e *Engine) resolveVoice(language, voice string) (string, error) {
	lang := strings.ToLower(language)
	catalogue, ok := e.voices[lang]
	if !ok || len(catalogue) == 0 {
		return "", engine.UnsupportedLanguage(e.ID(), language)
	}
	if voice == "" {
		return catalogue[0], nil
	}
	for _, v := range catalogue {
		if strings.EqualFold(v, voice) {
			return v, nil
		}
	}
	return "", engine.UnsupportedVoice(e.ID(), voice)
}

func (e *Engine) markFailure() {
	e.lastFailure.Store(time.Now().UnixNano())
}

// speechConfig builds the initial configuration message.
func speechConfig() []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"` + outputFormat + `"}}}}`)
	return []byte(b.String())
}

// ssmlRequest builds the synthesis request with prosody from the input.
func ssmlRequest(voice string, in engine.SynthInput) []byte {
	rate := in.Rate
	if rate == 0 {
		rate = 1.0
	}
	prosodyRate := fmt.Sprintf("%+.0f%%", (rate-1.0)*100)
	prosodyPitch := fmt.Sprintf("%+.0fst", in.Pitch)

	ssml := fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>`+
			`<voice name='%s'><prosody rate='%s' pitch='%s'>%s</prosody></voice></speak>`,
		in.Language, voice, prosodyRate, prosodyPitch, escapeText(in.Text))

	var b strings.Builder
	b.WriteString("X-RequestId:" + connectionID() + "\r\n")
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// connectionID returns a fresh request id in the dashless form the service
// expects.
func connectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

// Ensure Engine satisfies the interface at compile time.
var _ engine.Engine = (*Engine)(nil)
