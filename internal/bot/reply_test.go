package bot_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ttskit/ttskit/internal/bot"
	"github.com/ttskit/ttskit/internal/bot/mock"
	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/pkg/types"
)

func TestErrorText(t *testing.T) {
	rateLimited := &types.KindError{
		Kind:       types.KindRateLimited,
		Err:        errors.New("over limit"),
		RetryAfter: 6500 * time.Millisecond,
	}

	tests := []struct {
		name string
		err  error
		vars i18n.Vars
		want string
	}{
		{
			"rate limited rounds retry-after up",
			rateLimited,
			nil,
			"Try again in 7s",
		},
		{
			"validation",
			types.Kindf(types.KindTextValidation, "empty"),
			nil,
			"nothing to synthesize",
		},
		{
			"engine not found substitutes the id",
			types.Kindf(types.KindEngineNotFound, "no such engine"),
			i18n.Vars{"engine": "ghost"},
			"Unknown engine ghost",
		},
		{
			"unsupported language",
			types.Kindf(types.KindUnsupportedLanguage, "nope"),
			i18n.Vars{"lang": "xx"},
			"No engine can speak xx",
		},
		{
			"all engines failed",
			types.Kindf(types.KindAllEnginesFailed, "exhausted"),
			nil,
			"All engines failed",
		},
		{
			"timeout",
			types.Kindf(types.KindTimeout, "deadline"),
			nil,
			"took too long",
		},
		{
			"ffmpeg missing maps to conversion",
			types.Kindf(types.KindFFmpegMissing, "no ffmpeg"),
			nil,
			"conversion failed",
		},
		{
			"unknown kind falls back to internal",
			errors.New("plain"),
			nil,
			"Something went wrong",
		},
	}
	b := mock.NewBoundary()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bot.ErrorText(b, "en", tt.err, tt.vars)
			if !strings.Contains(got, tt.want) {
				t.Errorf("ErrorText() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestErrorTextLocalized(t *testing.T) {
	b := mock.NewBoundary()
	err := types.Kindf(types.KindAllEnginesFailed, "exhausted")

	fa := bot.ErrorText(b, "fa", err, nil)
	en := bot.ErrorText(b, "en", err, nil)
	if fa == en {
		t.Errorf("Persian reply %q equals the English one", fa)
	}
}

func TestReplyError(t *testing.T) {
	b := mock.NewBoundary()
	msg := &bot.Message{ChatID: 5, Language: "en"}

	err := bot.ReplyError(context.Background(), b, msg, types.Kindf(types.KindTimeout, "slow"), nil)
	if err != nil {
		t.Fatalf("ReplyError() error: %v", err)
	}
	last := b.LastMessage()
	if last == nil || last.ChatID != 5 {
		t.Fatalf("reply = %+v, want a message to chat 5", last)
	}
	if !strings.Contains(last.Text, "took too long") {
		t.Errorf("reply text = %q, want the timeout notice", last.Text)
	}
}
