package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/ttskit/ttskit/pkg/types"
)

// fatalMarkers are substrings in unclassified error text that indicate an
// authentication or quota problem. Retrying such calls on the same engine
// cannot succeed, but another engine in the policy still might.
var fatalMarkers = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"invalid api key",
	"api key",
	"quota",
	"permission denied",
	"billing",
}

// Classify maps a driver error to its routing kind. Errors that already
// carry a kind keep it. Unclassified errors fall back to transport
// heuristics: deadline and connection problems are transient, auth and
// quota text is fatal, and anything else defaults to transient so the
// policy keeps moving.
func Classify(err error) types.Kind {
	if err == nil {
		return ""
	}

	var ke *types.KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.KindEngineTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return types.KindEngineTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return types.KindEngineFatal
		}
	}
	return types.KindEngineTransient
}

// didYouMeanLimit is the largest Levenshtein distance still offered as a
// suggestion for a misspelled voice.
const didYouMeanLimit = 3

// suggestVoice returns the catalogue entry closest to want, or "" when no
// entry is within didYouMeanLimit edits. Comparison is case-insensitive;
// the returned name keeps the catalogue's casing.
func suggestVoice(want string, voices []string) string {
	if want == "" {
		return ""
	}
	want = strings.ToLower(want)
	best := ""
	bestDist := didYouMeanLimit + 1
	for _, v := range voices {
		if d := matchr.Levenshtein(want, strings.ToLower(v)); d < bestDist {
			best = v
			bestDist = d
		}
	}
	return best
}

// withVoiceSuggestion appends a closest-match hint to an unsupported-voice
// error when the catalogue holds a near miss. The original error stays in
// the chain so its kind survives.
func withVoiceSuggestion(err error, want string, voices []string) error {
	s := suggestVoice(want, voices)
	if s == "" || strings.EqualFold(s, want) {
		return err
	}
	return fmt.Errorf("%w (did you mean %q?)", err, s)
}
