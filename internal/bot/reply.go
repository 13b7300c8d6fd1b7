package bot

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/ttskit/ttskit/internal/i18n"
	"github.com/ttskit/ttskit/pkg/types"
)

// ErrorText localizes a synthesis error for the chat user. vars supplies
// placeholder values the error itself cannot carry (engine id, language,
// voice); nil is fine.
func ErrorText(b Boundary, lang string, err error, vars i18n.Vars) string {
	if vars == nil {
		vars = i18n.Vars{}
	}
	var key string
	switch types.KindOf(err) {
	case types.KindRateLimited:
		key = "errors.rate_limited"
		secs := 1
		if d, ok := types.RetryAfterOf(err); ok && d > 0 {
			secs = int(math.Ceil(d.Seconds()))
		}
		vars["seconds"] = strconv.Itoa(secs)
	case types.KindTextValidation:
		key = "errors.empty_text"
	case types.KindTextTooLong:
		key = "errors.text_too_long"
	case types.KindEngineNotFound:
		key = "errors.engine_not_found"
	case types.KindUnsupportedLanguage:
		key = "errors.unsupported_language"
	case types.KindUnsupportedVoice:
		key = "errors.unsupported_voice"
	case types.KindEngineUnavailable:
		key = "errors.engine_unavailable"
	case types.KindAllEnginesFailed:
		key = "errors.all_engines_failed"
	case types.KindTimeout:
		key = "errors.timeout"
	case types.KindConversionFailed, types.KindFFmpegMissing:
		key = "errors.conversion_failed"
	default:
		key = "errors.internal"
	}
	return b.T(lang, key, vars)
}

// ReplyError sends the localized text for err to the chat and logs the
// underlying cause.
func ReplyError(ctx context.Context, b Boundary, msg *Message, err error, vars i18n.Vars) error {
	slog.Warn("bot: request failed",
		"kind", types.KindOf(err), "chat_id", msg.ChatID, "err", err)
	_, sendErr := b.SendMessage(ctx, msg.ChatID, ErrorText(b, msg.Language, err, vars))
	return sendErr
}
