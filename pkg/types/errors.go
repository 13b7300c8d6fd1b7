package types

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the observable failure kinds shared
// across components. Boundaries map kinds to HTTP status codes and localized
// bot messages; the router uses them to decide between advancing to the next
// engine and surfacing immediately.
type Kind string

const (
	// KindTextValidation covers empty or oversized input text.
	KindTextValidation Kind = "TEXT_VALIDATION"

	// KindRateLimited means admission was denied. The carrier records a
	// retry-after hint.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindEngineNotFound means a requested engine id is absent from the
	// registry.
	KindEngineNotFound Kind = "ENGINE_NOT_FOUND"

	// KindUnsupportedLanguage, KindUnsupportedVoice and KindTextTooLong are
	// request/engine mismatches. They surface immediately: another engine
	// cannot fix the caller's input.
	KindUnsupportedLanguage Kind = "UNSUPPORTED_LANGUAGE"
	KindUnsupportedVoice    Kind = "UNSUPPORTED_VOICE"
	KindTextTooLong         Kind = "TEXT_TOO_LONG"

	// KindEngineUnavailable means the driver reports itself down.
	KindEngineUnavailable Kind = "ENGINE_UNAVAILABLE"

	// KindEngineTransient covers timeouts, 5xx responses and connection
	// errors. The router records the failure and advances.
	KindEngineTransient Kind = "ENGINE_TRANSIENT"

	// KindEngineFatal covers authentication and quota failures. The router
	// still advances but logs these distinctly.
	KindEngineFatal Kind = "ENGINE_FATAL"

	// KindAllEnginesFailed means the policy was exhausted. The carrier wraps
	// the ordered per-engine cause chain.
	KindAllEnginesFailed Kind = "ALL_ENGINES_FAILED"

	// Audio pipeline kinds.
	KindConversionFailed Kind = "CONVERSION_FAILED"
	KindFFmpegMissing    Kind = "FFMPEG_MISSING"
	KindSourceNotFound   Kind = "SOURCE_NOT_FOUND"

	// KindTimeout means the caller's deadline was exceeded.
	KindTimeout Kind = "TIMEOUT"

	// Boundary auth kinds.
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"

	// KindInternal is the last-resort bucket; always logged with context.
	KindInternal Kind = "INTERNAL"
)

// KindError attaches a Kind to an underlying error. It is the single carrier
// type; packages keep their own sentinels and wrap them when errors cross a
// component boundary.
type KindError struct {
	Kind Kind
	Err  error

	// RetryAfter is a client hint, set for KindRateLimited.
	RetryAfter time.Duration
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

// WrapKind attaches kind to err. Returns nil when err is nil. An already
// classified error keeps its innermost kind for KindOf since errors.As stops
// at the outermost carrier; callers should therefore wrap exactly once, at
// the boundary where the kind is known.
func WrapKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Kindf builds a classified error from a format string.
func Kindf(kind Kind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind recorded on err. Unclassified errors report
// KindInternal; a nil error reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the retry-after hint recorded on err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ke *KindError
	if errors.As(err, &ke) && ke.RetryAfter > 0 {
		return ke.RetryAfter, true
	}
	return 0, false
}
