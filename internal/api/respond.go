package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/ttskit/ttskit/pkg/types"
)

// apiError is the wire form of one classified failure.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error apiError `json:"error"`
}

// statusOf maps an error kind to its HTTP status code.
func statusOf(kind types.Kind) int {
	switch kind {
	case types.KindTextValidation, types.KindTextTooLong,
		types.KindUnsupportedLanguage, types.KindUnsupportedVoice:
		return http.StatusBadRequest
	case types.KindUnauthorized:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindEngineNotFound:
		return http.StatusNotFound
	case types.KindConversionFailed, types.KindFFmpegMissing, types.KindSourceNotFound:
		return http.StatusUnprocessableEntity
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindAllEnginesFailed, types.KindEngineUnavailable,
		types.KindEngineTransient, types.KindEngineFatal:
		return http.StatusServiceUnavailable
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status. Encoding failures get a plain
// 500; headers are already gone by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", "err", err)
	}
}

// writeError maps err's kind to a status and writes the error body. Rate
// limit denials carry a Retry-After header; 5xx failures are logged with
// request context.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	status := statusOf(kind)

	if ra, ok := types.RetryAfterOf(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ra.Seconds()))))
	}

	msg := err.Error()
	var ke *types.KindError
	if errors.As(err, &ke) && ke.Err != nil {
		msg = ke.Err.Error()
	}

	if status >= http.StatusInternalServerError {
		slog.Error("api: request failed",
			"method", r.Method, "path", r.URL.Path, "kind", string(kind), "err", err)
	}

	writeJSON(w, status, errorResponse{Error: apiError{
		Kind:    string(kind),
		Message: msg,
	}})
}

// writeKindError writes a boundary-originated failure with an explicit kind.
func writeKindError(w http.ResponseWriter, r *http.Request, kind types.Kind, format string, args ...any) {
	writeError(w, r, types.Kindf(kind, format, args...))
}
