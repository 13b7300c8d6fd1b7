package commands_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/bot/commands"
	botmock "github.com/ttskit/ttskit/internal/bot/mock"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/pipeline"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/internal/synth"
	"github.com/ttskit/ttskit/pkg/engine"
	engmock "github.com/ttskit/ttskit/pkg/engine/mock"
	"github.com/ttskit/ttskit/pkg/types"
)

// passTranscoder returns the engine bytes unchanged in the requested
// container, with a fixed probe duration.
type passTranscoder struct{}

func (passTranscoder) Transcode(_ context.Context, src []byte, _ string, target types.AudioFormat, _ pipeline.TranscodeOptions) (types.AudioArtifact, error) {
	return types.AudioArtifact{
		Bytes:           src,
		Format:          target,
		SizeBytes:       len(src),
		DurationSeconds: 1.5,
	}, nil
}

// rig bundles the command wiring for handler tests.
type rig struct {
	disp     *bot.Dispatcher
	boundary *botmock.Boundary
	metrics  *metrics.Collector
	cancels  *bot.CancelSet
	registry *engine.Registry
	router   *router.Router
}

func newRig(t *testing.T, synthOpts []synth.Option, engines ...engine.Engine) *rig {
	t.Helper()

	reg := engine.NewRegistry()
	for _, e := range engines {
		if err := reg.Register(e); err != nil {
			t.Fatalf("Register(%s): %v", e.ID(), err)
		}
	}
	rt := router.New(reg)
	orch := synth.New(reg, rt, passTranscoder{}, synthOpts...)

	m := metrics.New(64)
	cancels := bot.NewCancelSet()
	d := bot.NewDispatcher("ttsbot")
	commands.NewCore(d, m, cancels)

	b := botmock.NewBoundary()
	b.Orch = orch

	return &rig{disp: d, boundary: b, metrics: m, cancels: cancels, registry: reg, router: rt}
}

func (r *rig) dispatch(t *testing.T, msg *bot.Message) {
	t.Helper()
	if err := r.disp.Dispatch(context.Background(), r.boundary, msg); err != nil {
		t.Fatalf("Dispatch(%q) error: %v", msg.Text, err)
	}
}

func (r *rig) lastText(t *testing.T) string {
	t.Helper()
	last := r.boundary.LastMessage()
	if last == nil {
		t.Fatal("no reply recorded")
	}
	return last.Text
}

func message(text string) *bot.Message {
	return &bot.Message{ChatID: 10, MessageID: 1, UserID: 42, Username: "sam", Language: "en", Text: text}
}

func TestStartCommand(t *testing.T) {
	r := newRig(t, nil, &engmock.Engine{EngineID: "tts1"})
	r.dispatch(t, message("/start"))

	if got := r.lastText(t); !strings.Contains(got, "sam") {
		t.Errorf("welcome = %q, want it to greet the user by name", got)
	}
}

func TestHelpCommand(t *testing.T) {
	r := newRig(t, nil, &engmock.Engine{EngineID: "tts1"})
	r.dispatch(t, message("/help"))

	got := r.lastText(t)
	for _, cmd := range []string{"/start", "/voices", "/cancel"} {
		if !strings.Contains(got, cmd) {
			t.Errorf("help text lacks %s", cmd)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	r := newRig(t, nil,
		&engmock.Engine{EngineID: "up"},
		&engmock.Engine{EngineID: "down", Unavailable: true},
	)
	r.dispatch(t, message("/status"))

	got := r.lastText(t)
	if !strings.Contains(got, "Health:") {
		t.Errorf("status = %q, want a health line", got)
	}
	if !strings.Contains(got, "1/2 available") {
		t.Errorf("status = %q, want engine availability 1/2", got)
	}
}

func TestEnginesCommand(t *testing.T) {
	r := newRig(t, nil,
		&engmock.Engine{EngineID: "alpha", Langs: []string{"en"}},
		&engmock.Engine{EngineID: "beta", Langs: []string{"fa"}, Unavailable: true},
	)

	r.dispatch(t, message("/engines"))
	got := r.lastText(t)
	if !strings.Contains(got, "alpha") || !strings.Contains(got, "beta") {
		t.Fatalf("engine list = %q, want both engines", got)
	}
	if !strings.Contains(got, "unavailable") {
		t.Errorf("engine list = %q, want beta marked unavailable", got)
	}
	if kb := r.boundary.LastMessage().Keyboard; kb != nil {
		t.Errorf("non-sudo user got a policy keyboard: %v", kb)
	}

	// Sudo users additionally get promotion buttons.
	r.boundary.Reset()
	r.boundary.Sudo[42] = true
	r.dispatch(t, message("/engines"))
	last := r.boundary.LastMessage()
	if last == nil {
		t.Fatal("no reply recorded for sudo /engines")
	}
	kb := last.Keyboard
	if len(kb) != 1 || len(kb[0]) != 2 {
		t.Fatalf("keyboard = %v, want one row with two engine buttons", kb)
	}
	if kb[0][0].Data != "engine_alpha" {
		t.Errorf("button data = %q, want engine_alpha", kb[0][0].Data)
	}
}

func TestVoicesCommand(t *testing.T) {
	r := newRig(t, nil, &engmock.Engine{
		EngineID:     "tts1",
		Langs:        []string{"en"},
		VoicesByLang: map[string][]string{"en": {"alloy", "echo"}},
	})

	r.dispatch(t, message("/voices en"))
	if got := r.lastText(t); !strings.Contains(got, "alloy") || !strings.Contains(got, "echo") {
		t.Errorf("voices = %q, want both voices", got)
	}

	r.dispatch(t, message("/voices xx"))
	if got := r.lastText(t); !strings.Contains(got, "xx") {
		t.Errorf("empty catalogue reply = %q, want the language echoed", got)
	}

	// Unknown engine surfaces the engine id in the error reply.
	r.dispatch(t, message("/voices en ghost"))
	if got := r.lastText(t); !strings.Contains(got, "ghost") {
		t.Errorf("unknown engine reply = %q, want the engine id", got)
	}
}

func TestLanguagesCommand(t *testing.T) {
	r := newRig(t, nil,
		&engmock.Engine{EngineID: "a", Langs: []string{"en", "fa"}},
		&engmock.Engine{EngineID: "b", Langs: []string{"ar"}},
	)
	r.dispatch(t, message("/languages"))

	got := r.lastText(t)
	for _, lang := range []string{"ar", "en", "fa"} {
		if !strings.Contains(got, lang) {
			t.Errorf("languages = %q, want %s listed", got, lang)
		}
	}
}

func TestStatsCommand(t *testing.T) {
	r := newRig(t, nil, &engmock.Engine{EngineID: "tts1"})
	r.metrics.RecordRequest("tts1", "en", 120*time.Millisecond, "")
	r.metrics.RecordRequest("tts1", "en", 80*time.Millisecond, types.KindEngineTransient)

	r.dispatch(t, message("/stats"))
	got := r.lastText(t)
	if !strings.Contains(got, "2 total, 1 ok, 1 failed") {
		t.Errorf("stats = %q, want request totals", got)
	}
	if !strings.Contains(got, "tts1") {
		t.Errorf("stats = %q, want per-engine line", got)
	}
}

func TestCancelCommand(t *testing.T) {
	r := newRig(t, nil, &engmock.Engine{EngineID: "tts1"})

	r.dispatch(t, message("/cancel"))
	if got := r.lastText(t); !strings.Contains(got, "Nothing to cancel") {
		t.Errorf("idle cancel reply = %q", got)
	}

	ctx, done := r.cancels.Register(context.Background(), 10)
	defer done()
	r.dispatch(t, message("/cancel"))
	if got := r.lastText(t); !strings.Contains(got, "Cancelled") {
		t.Errorf("cancel reply = %q", got)
	}
	if ctx.Err() == nil {
		t.Error("registered task not cancelled")
	}
}

func TestSpeakFallback(t *testing.T) {
	eng := &engmock.Engine{EngineID: "tts1", Langs: []string{"en", "fa"}}
	r := newRig(t, nil, eng)

	r.dispatch(t, message("hello world"))

	if n := len(r.boundary.Audios); n != 1 {
		t.Fatalf("sent %d audio payloads, want 1", n)
	}
	sent := r.boundary.Audios[0]
	if !sent.Voice {
		t.Error("OGG artifact sent as attachment, want voice note")
	}
	if got := string(sent.Audio.Bytes); got != "tts1:hello world" {
		t.Errorf("voice bytes = %q", got)
	}
	if sent.Audio.FileName != "voice.ogg" {
		t.Errorf("file name = %q, want voice.ogg", sent.Audio.FileName)
	}
	if sent.Audio.MIME != "audio/ogg" {
		t.Errorf("mime = %q, want audio/ogg", sent.Audio.MIME)
	}
	if sent.Audio.DurationSeconds != 2 {
		t.Errorf("duration = %ds, want probe 1.5s rounded to 2", sent.Audio.DurationSeconds)
	}
}

func TestSpeakTooLongPrecheck(t *testing.T) {
	eng := &engmock.Engine{EngineID: "tts1", Langs: []string{"en", "fa"}}
	r := newRig(t, []synth.Option{synth.WithMaxTextLength(5)}, eng)

	r.dispatch(t, message("far too long"))

	if got := r.lastText(t); !strings.Contains(got, "limit 5") {
		t.Errorf("reply = %q, want the limit named", got)
	}
	if n := eng.CallCount("Synthesize"); n != 0 {
		t.Errorf("engine dialed %d times for oversized text", n)
	}
}

func TestSpeakErrorIsLocalized(t *testing.T) {
	eng := &engmock.Engine{
		EngineID:      "tts1",
		Langs:         []string{"en", "fa"},
		SynthesizeErr: engine.Transient("tts1", context.DeadlineExceeded),
	}
	r := newRig(t, nil, eng)

	msg := message("hello")
	msg.Language = "fa"
	r.dispatch(t, msg)

	got := r.lastText(t)
	if !strings.Contains(got, "موتور") {
		t.Errorf("reply = %q, want the Persian all-engines-failed notice", got)
	}
}
