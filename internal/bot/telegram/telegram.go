// Package telegram adapts the Telegram Bot API to the bot boundary.
//
// The adapter long-polls for updates, maps each message or callback
// press to a [bot.Message], and dispatches it on its own goroutine. It
// implements [bot.Boundary] for the handlers it invokes.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/internal/synth"
)

// handleTimeout bounds one update's processing, including synthesis.
const handleTimeout = 3 * time.Minute

// Config is the Telegram section of the service configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`

	// SudoUsers are the Telegram user ids allowed to run admin commands.
	SudoUsers []int64 `yaml:"sudo_users"`

	// PollTimeoutSeconds is the long-poll timeout. Zero means 60.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`

	// Debug enables the client library's request logging.
	Debug bool `yaml:"debug"`
}

// Bot is the Telegram boundary. Safe for concurrent use.
type Bot struct {
	api         *tgbotapi.BotAPI
	disp        *bot.Dispatcher
	orch        *synth.Orchestrator
	sudo        map[int64]struct{}
	pollTimeout int

	closeOnce sync.Once
}

var _ bot.Boundary = (*Bot)(nil)

// New connects to the Telegram API and wires the dispatcher. The call
// verifies the token with a getMe round trip.
func New(cfg Config, disp *bot.Dispatcher, orch *synth.Orchestrator) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	api.Debug = cfg.Debug

	sudo := make(map[int64]struct{}, len(cfg.SudoUsers))
	for _, id := range cfg.SudoUsers {
		sudo[id] = struct{}{}
	}

	pollTimeout := cfg.PollTimeoutSeconds
	if pollTimeout <= 0 {
		pollTimeout = 60
	}

	disp.SetBotName(api.Self.UserName)
	slog.Info("telegram: connected", "bot", api.Self.UserName, "sudo_users", len(sudo))

	return &Bot{
		api:         api,
		disp:        disp,
		orch:        orch,
		sudo:        sudo,
		pollTimeout: pollTimeout,
	}, nil
}

// Run long-polls for updates until ctx is cancelled. Each update is
// handled on its own goroutine so a slow synthesis cannot stall the
// poll loop.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	slog.Info("telegram: long poll started", "timeout_s", b.pollTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handle(ctx, upd)
		}
	}
}

// Close stops the update stream. Safe to call more than once.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() {
		b.api.StopReceivingUpdates()
		slog.Info("telegram: bot closed")
	})
	return nil
}

func (b *Bot) handle(ctx context.Context, upd tgbotapi.Update) {
	msg := messageOf(upd)
	if msg == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := b.disp.Dispatch(hctx, b, msg); err != nil {
		slog.Error("telegram: handler failed",
			"chat_id", msg.ChatID, "user_id", msg.UserID, "err", err)
	}
}

// messageOf maps an update to the boundary message type, or nil for
// update kinds the bot ignores.
func messageOf(upd tgbotapi.Update) *bot.Message {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		m := &bot.Message{
			UserID:     cq.From.ID,
			Username:   displayName(cq.From),
			Language:   cq.From.LanguageCode,
			Text:       cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil {
			m.ChatID = cq.Message.Chat.ID
			m.MessageID = cq.Message.MessageID
		}
		return m

	case upd.Message != nil && upd.Message.Text != "" && upd.Message.From != nil:
		tm := upd.Message
		return &bot.Message{
			ChatID:    tm.Chat.ID,
			MessageID: tm.MessageID,
			UserID:    tm.From.ID,
			Username:  displayName(tm.From),
			Language:  tm.From.LanguageCode,
			Text:      tm.Text,
		}
	}
	return nil
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// SendMessage sends text, optionally with an inline keyboard, and
// returns the new message id.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, opts ...bot.SendOption) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewMessage(chatID, text)
	if o := bot.BuildSendOptions(opts); len(o.Keyboard) > 0 {
		cfg.ReplyMarkup = inlineKeyboard(o.Keyboard)
	}
	sent, err := b.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("telegram: send message: %w", err)
	}
	return sent.MessageID, nil
}

// SendVoice sends audio as a playable voice note.
func (b *Bot) SendVoice(ctx context.Context, chatID int64, voice bot.Audio) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: voice.FileName, Bytes: voice.Bytes})
	cfg.Duration = voice.DurationSeconds
	cfg.Caption = voice.Caption
	sent, err := b.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("telegram: send voice: %w", err)
	}
	return sent.MessageID, nil
}

// SendAudio sends audio as a regular file attachment.
func (b *Bot) SendAudio(ctx context.Context, chatID int64, audio bot.Audio) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewAudio(chatID, tgbotapi.FileBytes{Name: audio.FileName, Bytes: audio.Bytes})
	cfg.Duration = audio.DurationSeconds
	cfg.Caption = audio.Caption
	sent, err := b.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("telegram: send audio: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text of a sent message.
func (b *Bot) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, opts ...bot.SendOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if o := bot.BuildSendOptions(opts); len(o.Keyboard) > 0 {
		kb := inlineKeyboard(o.Keyboard)
		cfg.ReplyMarkup = &kb
	}
	if _, err := b.api.Send(cfg); err != nil {
		return fmt.Errorf("telegram: edit message %d: %w", messageID, err)
	}
	return nil
}

// DeleteMessages removes sent messages, continuing past per-message
// failures.
func (b *Bot) DeleteMessages(ctx context.Context, chatID int64, messageIDs ...int) error {
	var errs []error
	for _, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, id)); err != nil {
			errs = append(errs, fmt.Errorf("telegram: delete message %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// AnswerCallback acknowledges a callback press.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// IsSudo reports whether userID is in the configured sudo list.
func (b *Bot) IsSudo(userID int64) bool {
	_, ok := b.sudo[userID]
	return ok
}

// CacheEnabled reads the orchestrator's runtime cache toggle.
func (b *Bot) CacheEnabled() bool { return b.orch.CacheEnabled() }

// SetCacheEnabled flips the orchestrator's runtime cache toggle.
func (b *Bot) SetCacheEnabled(enabled bool) { b.orch.SetCacheEnabled(enabled) }

// AudioProcessing reads the orchestrator's post-processing toggle.
func (b *Bot) AudioProcessing() bool { return b.orch.AudioProcessing() }

// SetAudioProcessing flips the orchestrator's post-processing toggle.
func (b *Bot) SetAudioProcessing(enabled bool) { b.orch.SetAudioProcessing(enabled) }

// Synth returns the orchestrator serving this boundary.
func (b *Bot) Synth() *synth.Orchestrator { return b.orch }

// T localizes key for lang.
func (b *Bot) T(lang, key string, vars i18n.Vars) string {
	return i18n.T(lang, key, vars)
}

func inlineKeyboard(kb bot.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		rows = append(rows, btns)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
