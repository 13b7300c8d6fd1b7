// Package bot defines the chat-facing boundary of the service: the
// message and callback dispatcher, the capability interface handlers
// program against, and the shared cancellation set for long-running
// admin tasks.
//
// Handlers never see a concrete chat client. They receive a [Boundary]
// with an explicit capability set; the Telegram adapter in
// internal/bot/telegram implements it, and internal/bot/mock provides a
// recorder for tests.
package bot

import (
	"context"

	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/internal/synth"
)

// Message is one inbound chat event, either a text message or a
// callback-button press.
type Message struct {
	// ChatID identifies the conversation replies go to.
	ChatID int64

	// MessageID is the inbound message id, when the transport has one.
	MessageID int

	// UserID identifies the sender for sudo checks and rate limiting.
	UserID int64

	// Username is the sender's display handle, possibly empty.
	Username string

	// Language is the sender's client locale as a BCP-47 tag, used to
	// localize replies. Empty falls back to English.
	Language string

	// Text is the message text, or the callback data for button presses.
	Text string

	// CallbackID is non-empty for callback-button presses and must be
	// answered so the client stops its spinner.
	CallbackID string
}

// IsCallback reports whether the message is a callback-button press.
func (m *Message) IsCallback() bool { return m.CallbackID != "" }

// Audio is an outbound audio payload.
type Audio struct {
	Bytes           []byte
	FileName        string
	Caption         string
	DurationSeconds int
	MIME            string
}

// Button is one inline-keyboard button. Pressing it delivers Data back
// as a callback message.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, row by row.
type Keyboard [][]Button

// SendOptions carries the optional knobs of a send or edit call.
type SendOptions struct {
	Keyboard Keyboard
}

// SendOption configures one send or edit call.
type SendOption func(*SendOptions)

// WithKeyboard attaches an inline keyboard to the message.
func WithKeyboard(kb Keyboard) SendOption {
	return func(o *SendOptions) { o.Keyboard = kb }
}

// BuildSendOptions folds opts into a SendOptions for adapters.
func BuildSendOptions(opts []SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Boundary is the capability set handlers run against. Implementations
// must be safe for concurrent use; every method that talks to the chat
// transport takes a context.
type Boundary interface {
	// SendMessage sends text to a chat and returns the new message id.
	SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (int, error)

	// SendVoice sends audio as a playable voice note (OGG/Opus).
	SendVoice(ctx context.Context, chatID int64, voice Audio) (int, error)

	// SendAudio sends audio as a regular file attachment.
	SendAudio(ctx context.Context, chatID int64, audio Audio) (int, error)

	// EditMessageText replaces the text of a previously sent message.
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, opts ...SendOption) error

	// DeleteMessages removes previously sent messages, best effort.
	DeleteMessages(ctx context.Context, chatID int64, messageIDs ...int) error

	// AnswerCallback acknowledges a callback press, optionally with a
	// short notification text.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// IsSudo reports whether userID may run admin commands.
	IsSudo(userID int64) bool

	// CacheEnabled reports the runtime cache toggle.
	CacheEnabled() bool

	// SetCacheEnabled flips the runtime cache toggle.
	SetCacheEnabled(enabled bool)

	// AudioProcessing reports the runtime post-processing toggle.
	AudioProcessing() bool

	// SetAudioProcessing flips the runtime post-processing toggle.
	SetAudioProcessing(enabled bool)

	// Synth returns the orchestrator serving this boundary.
	Synth() *synth.Orchestrator

	// T localizes key into the lang locale, substituting vars.
	T(lang, key string, vars i18n.Vars) string
}
