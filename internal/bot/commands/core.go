// Package commands implements the chat command and callback handlers
// for TTSKit: the public command set, the admin command set behind the
// sudo gate, and the inline-keyboard callbacks.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/pkg/types"
)

// voicesListCap bounds the /voices reply so it stays under the message
// size limit of the chat transport.
const voicesListCap = 60

// Core holds the dependencies of the public command set.
type Core struct {
	metrics *metrics.Collector
	cancels *bot.CancelSet
}

// NewCore creates the public command set and registers it with the
// dispatcher, including the plain-text fallback that answers with a
// voice message.
func NewCore(d *bot.Dispatcher, m *metrics.Collector, cancels *bot.CancelSet) *Core {
	c := &Core{metrics: m, cancels: cancels}
	c.Register(d)
	return c
}

// Register registers the public commands with the dispatcher.
func (c *Core) Register(d *bot.Dispatcher) {
	d.RegisterCommand("start", c.handleStart)
	d.RegisterCommand("help", c.handleHelp)
	d.RegisterCommand("status", c.handleStatus)
	d.RegisterCommand("engines", c.handleEngines)
	d.RegisterCommand("voices", c.handleVoices)
	d.RegisterCommand("languages", c.handleLanguages)
	d.RegisterCommand("stats", c.handleStats)
	d.RegisterCommand("cancel", c.handleCancel)
	d.RegisterFallback(c.handleSpeak)
}

func (c *Core) handleStart(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	name := msg.Username
	if name == "" {
		name = "there"
	}
	_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, "start.welcome", i18n.Vars{"name": name}))
	return err
}

func (c *Core) handleHelp(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, "help.text", nil))
	return err
}

func (c *Core) handleStatus(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	snap := c.metrics.Snapshot()
	engines := b.Synth().ListEngines(ctx)
	available := 0
	for _, e := range engines {
		if e.Available {
			available++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TTSKit status\n")
	fmt.Fprintf(&sb, "Health: %.0f/100\n", snap.HealthScore)
	fmt.Fprintf(&sb, "Uptime: %s\n", formatSeconds(snap.UptimeSeconds))
	fmt.Fprintf(&sb, "Engines: %d/%d available\n", available, len(engines))
	fmt.Fprintf(&sb, "Requests: %d (%.1f%% ok)\n", snap.TotalRequests, snap.SuccessRate*100)
	fmt.Fprintf(&sb, "Cache hit rate: %.1f%%\n", snap.Cache.HitRate*100)
	fmt.Fprintf(&sb, "Cache: %s, audio processing: %s",
		onOff(b.CacheEnabled()), onOff(b.AudioProcessing()))

	_, err := b.SendMessage(ctx, msg.ChatID, sb.String())
	return err
}

func (c *Core) handleEngines(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	infos := b.Synth().ListEngines(ctx)
	if len(infos) == 0 {
		_, err := b.SendMessage(ctx, msg.ChatID, "No engines registered.")
		return err
	}

	var sb strings.Builder
	sb.WriteString("Registered engines:\n")
	for _, info := range infos {
		state := "available"
		if !info.Available {
			state = "unavailable"
		}
		fmt.Fprintf(&sb, "• %s — %s (%s)\n",
			info.ID, state, strings.Join(info.Capabilities.Languages, ", "))
	}

	// Sudo users get buttons that promote an engine to the head of the
	// routing policy for the default language.
	var opts []bot.SendOption
	if b.IsSudo(msg.UserID) {
		var row []bot.Button
		for _, info := range infos {
			row = append(row, bot.Button{Text: info.ID, Data: "engine_" + info.ID})
		}
		opts = append(opts, bot.WithKeyboard(bot.Keyboard{row}))
	}

	_, err := b.SendMessage(ctx, msg.ChatID, strings.TrimRight(sb.String(), "\n"), opts...)
	return err
}

func (c *Core) handleVoices(ctx context.Context, b bot.Boundary, msg *bot.Message, args string) error {
	kv, pos := bot.ParseKV(args)
	lang := kv["lang"]
	if lang == "" && len(pos) > 0 {
		lang = pos[0]
	}
	engineID := kv["engine"]
	if engineID == "" && len(pos) > 1 {
		engineID = pos[1]
	}

	voices, err := b.Synth().ListVoices(ctx, lang, engineID)
	if err != nil {
		return bot.ReplyError(ctx, b, msg, err, i18n.Vars{"engine": engineID})
	}
	if len(voices) == 0 {
		display := lang
		if display == "" {
			display = "*"
		}
		_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, "voices.none", i18n.Vars{"lang": display}))
		return err
	}

	shown := voices
	if len(shown) > voicesListCap {
		shown = shown[:voicesListCap]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Voices (%d):\n", len(voices))
	for _, v := range shown {
		fmt.Fprintf(&sb, "• %s\n", v)
	}
	if len(voices) > len(shown) {
		fmt.Fprintf(&sb, "… and %d more", len(voices)-len(shown))
	}
	_, err = b.SendMessage(ctx, msg.ChatID, strings.TrimRight(sb.String(), "\n"))
	return err
}

func (c *Core) handleLanguages(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	langs := b.Synth().SupportedLanguages()
	if len(langs) == 0 {
		_, err := b.SendMessage(ctx, msg.ChatID, "No languages available.")
		return err
	}
	_, err := b.SendMessage(ctx, msg.ChatID, "Supported languages: "+strings.Join(langs, ", "))
	return err
}

func (c *Core) handleStats(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	snap := c.metrics.Snapshot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage statistics\n")
	fmt.Fprintf(&sb, "Requests: %d total, %d ok, %d failed\n",
		snap.TotalRequests, snap.TotalSuccesses, snap.TotalFailures)
	fmt.Fprintf(&sb, "Latency: p50 %.0fms, p95 %.0fms, p99 %.0fms (%d samples)\n",
		snap.Latency.P50MS, snap.Latency.P95MS, snap.Latency.P99MS, snap.Latency.Samples)
	fmt.Fprintf(&sb, "Cache: %d hits, %d misses (%.1f%%), %s served\n",
		snap.Cache.Hits, snap.Cache.Misses, snap.Cache.HitRate*100,
		formatBytes(int64(snap.Cache.BytesServed)))

	if len(snap.Engines) > 0 {
		sb.WriteString("Engines:\n")
		ids := make([]string, 0, len(snap.Engines))
		for id := range snap.Engines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			es := snap.Engines[id]
			fmt.Fprintf(&sb, "• %s: %d req, %.1f%% ok, avg %.0fms\n",
				id, es.Requests, es.SuccessRate*100, es.AvgMS)
		}
	}

	_, err := b.SendMessage(ctx, msg.ChatID, strings.TrimRight(sb.String(), "\n"))
	return err
}

func (c *Core) handleCancel(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	key := "cancel.none"
	if c.cancels.Cancel(msg.ChatID) {
		key = "cancel.done"
	}
	_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, key, nil))
	return err
}

// handleSpeak is the plain-text fallback: synthesize the message and
// answer with a voice note.
func (c *Core) handleSpeak(ctx context.Context, b bot.Boundary, msg *bot.Message, _ string) error {
	orch := b.Synth()

	if max := orch.MaxTextLength(); utf8.RuneCountInString(msg.Text) > max {
		_, err := b.SendMessage(ctx, msg.ChatID,
			b.T(msg.Language, "errors.text_too_long", i18n.Vars{"max": strconv.Itoa(max)}))
		return err
	}

	art, err := orch.Synth(ctx, "tg:"+strconv.FormatInt(msg.UserID, 10), types.SynthRequest{
		Text:  msg.Text,
		Cache: true,
	})
	if err != nil {
		return bot.ReplyError(ctx, b, msg, err, nil)
	}

	audio := bot.Audio{
		Bytes:           art.Bytes,
		FileName:        "voice." + string(art.Format),
		DurationSeconds: int(art.DurationSeconds + 0.5),
		MIME:            art.Format.ContentType(),
	}
	if art.Format == types.FormatOGG {
		_, err = b.SendVoice(ctx, msg.ChatID, audio)
	} else {
		_, err = b.SendAudio(ctx, msg.ChatID, audio)
	}
	return err
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatSeconds(s float64) string {
	return (time.Duration(s) * time.Second).Truncate(time.Second).String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
