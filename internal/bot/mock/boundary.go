// Package mock provides a recording test double for the bot boundary.
package mock

import (
	"context"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/internal/synth"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	ChatID   int64
	Text     string
	Keyboard bot.Keyboard
}

// SentAudio records one SendVoice or SendAudio call.
type SentAudio struct {
	ChatID int64
	Audio  bot.Audio

	// Voice is true for SendVoice, false for SendAudio.
	Voice bool
}

// Edit records one EditMessageText call.
type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
}

// Answer records one AnswerCallback call.
type Answer struct {
	CallbackID string
	Text       string
}

// Boundary records boundary calls for test assertions. The zero value
// is not usable; create it with NewBoundary.
type Boundary struct {
	// Messages records all SendMessage calls.
	Messages []SentMessage

	// Audios records all SendVoice and SendAudio calls.
	Audios []SentAudio

	// Edits records all EditMessageText calls.
	Edits []Edit

	// Answers records all AnswerCallback calls.
	Answers []Answer

	// Deleted records DeleteMessages calls per chat.
	Deleted map[int64][]int

	// Err is returned by every send method when non-nil, allowing error
	// injection.
	Err error

	// Sudo lists the user ids IsSudo accepts.
	Sudo map[int64]bool

	// Orch backs Synth(), and the cache and audio toggles when set.
	Orch *synth.Orchestrator

	cacheOn bool
	audioOn bool
	nextID  int
}

var _ bot.Boundary = (*Boundary)(nil)

// NewBoundary creates a recorder with both runtime toggles on.
func NewBoundary() *Boundary {
	return &Boundary{
		Deleted: make(map[int64][]int),
		Sudo:    make(map[int64]bool),
		cacheOn: true,
		audioOn: true,
	}
}

// SendMessage records the message and returns a synthetic message id.
func (m *Boundary) SendMessage(_ context.Context, chatID int64, text string, opts ...bot.SendOption) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	o := bot.BuildSendOptions(opts)
	m.Messages = append(m.Messages, SentMessage{ChatID: chatID, Text: text, Keyboard: o.Keyboard})
	m.nextID++
	return m.nextID, nil
}

// SendVoice records the voice note and returns a synthetic message id.
func (m *Boundary) SendVoice(_ context.Context, chatID int64, voice bot.Audio) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.Audios = append(m.Audios, SentAudio{ChatID: chatID, Audio: voice, Voice: true})
	m.nextID++
	return m.nextID, nil
}

// SendAudio records the attachment and returns a synthetic message id.
func (m *Boundary) SendAudio(_ context.Context, chatID int64, audio bot.Audio) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.Audios = append(m.Audios, SentAudio{ChatID: chatID, Audio: audio, Voice: false})
	m.nextID++
	return m.nextID, nil
}

// EditMessageText records the edit.
func (m *Boundary) EditMessageText(_ context.Context, chatID int64, messageID int, text string, _ ...bot.SendOption) error {
	if m.Err != nil {
		return m.Err
	}
	m.Edits = append(m.Edits, Edit{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

// DeleteMessages records the deletions.
func (m *Boundary) DeleteMessages(_ context.Context, chatID int64, messageIDs ...int) error {
	if m.Err != nil {
		return m.Err
	}
	m.Deleted[chatID] = append(m.Deleted[chatID], messageIDs...)
	return nil
}

// AnswerCallback records the acknowledgement.
func (m *Boundary) AnswerCallback(_ context.Context, callbackID, text string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Answers = append(m.Answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}

// IsSudo reports membership in the Sudo map.
func (m *Boundary) IsSudo(userID int64) bool { return m.Sudo[userID] }

// CacheEnabled reads the orchestrator toggle when one is set.
func (m *Boundary) CacheEnabled() bool {
	if m.Orch != nil {
		return m.Orch.CacheEnabled()
	}
	return m.cacheOn
}

// SetCacheEnabled flips the cache toggle.
func (m *Boundary) SetCacheEnabled(enabled bool) {
	if m.Orch != nil {
		m.Orch.SetCacheEnabled(enabled)
		return
	}
	m.cacheOn = enabled
}

// AudioProcessing reads the orchestrator toggle when one is set.
func (m *Boundary) AudioProcessing() bool {
	if m.Orch != nil {
		return m.Orch.AudioProcessing()
	}
	return m.audioOn
}

// SetAudioProcessing flips the post-processing toggle.
func (m *Boundary) SetAudioProcessing(enabled bool) {
	if m.Orch != nil {
		m.Orch.SetAudioProcessing(enabled)
		return
	}
	m.audioOn = enabled
}

// Synth returns the configured orchestrator.
func (m *Boundary) Synth() *synth.Orchestrator { return m.Orch }

// T localizes through the real catalogue.
func (m *Boundary) T(lang, key string, vars i18n.Vars) string {
	return i18n.T(lang, key, vars)
}

// LastMessage returns the most recently sent message, or nil.
func (m *Boundary) LastMessage() *SentMessage {
	if len(m.Messages) == 0 {
		return nil
	}
	return &m.Messages[len(m.Messages)-1]
}

// LastAnswer returns the most recent callback acknowledgement, or nil.
func (m *Boundary) LastAnswer() *Answer {
	if len(m.Answers) == 0 {
		return nil
	}
	return &m.Answers[len(m.Answers)-1]
}

// LastEdit returns the most recent edit, or nil.
func (m *Boundary) LastEdit() *Edit {
	if len(m.Edits) == 0 {
		return nil
	}
	return &m.Edits[len(m.Edits)-1]
}

// Reset clears all recorded calls and the injected error.
func (m *Boundary) Reset() {
	m.Messages = nil
	m.Audios = nil
	m.Edits = nil
	m.Answers = nil
	m.Deleted = make(map[int64][]int)
	m.Err = nil
}
