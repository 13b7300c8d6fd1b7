package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ttskit/ttskit/pkg/types"
)

// NormalizeText trims text, applies Unicode NFC and collapses every
// whitespace run to a single space. Fingerprints and engine inputs both see
// the normalized form, so trivially different spellings of the same request
// share one cache entry.
func NormalizeText(text string) string {
	text = norm.NFC.String(strings.TrimSpace(text))
	return strings.Join(strings.Fields(text), " ")
}

// ParseLangAndText splits an optional leading "<lang>: rest" prefix from
// text. The prefix is honored only when it looks like a language tag (two
// or three letters, optionally a hyphenated two-letter region) and the
// remainder is non-empty. Returns the lowercased language, or "" when the
// text carries no prefix.
func ParseLangAndText(text string) (lang, rest string) {
	head, tail, ok := strings.Cut(text, ":")
	if !ok {
		return "", text
	}
	head = strings.TrimSpace(head)
	tail = strings.TrimSpace(tail)
	if tail == "" || !looksLikeLangTag(head) {
		return "", text
	}
	return strings.ToLower(head), tail
}

// looksLikeLangTag reports whether s matches the BCP-47-ish shapes the
// service accepts in prefixes: "en", "fas", "pt-br".
func looksLikeLangTag(s string) bool {
	base, region, hasRegion := strings.Cut(s, "-")
	if len(base) < 2 || len(base) > 3 || !allLetters(base) {
		return false
	}
	if hasRegion && (len(region) != 2 || !allLetters(region)) {
		return false
	}
	return true
}

func allLetters(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// Fingerprint returns the stable cache key for req: hex SHA-256 over the
// normalized request tuple. Zero-valued rate and format are canonicalized
// first so requests that spell the defaults explicitly share the entry.
// profile tags the pipeline settings that shape the output bytes, so a
// bitrate or sample-rate config change never serves stale audio.
func Fingerprint(req types.SynthRequest, profile string) string {
	engine := req.Engine
	if engine == "" {
		engine = "policy"
	}
	voice := req.Voice
	if voice == "" {
		voice = "default"
	}
	rate := req.Rate
	if rate == 0 {
		rate = 1
	}
	format := req.OutputFormat
	if format == "" {
		format = types.FormatOGG
	}

	var b strings.Builder
	for _, field := range []string{
		NormalizeText(req.Text),
		strings.ToLower(req.Language),
		engine,
		voice,
		strconv.FormatFloat(rate, 'f', 3, 64),
		strconv.FormatFloat(req.Pitch, 'f', 3, 64),
		string(format),
		profile,
	} {
		b.WriteString(field)
		b.WriteByte(0)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
