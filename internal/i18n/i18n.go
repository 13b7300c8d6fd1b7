// Package i18n localizes user-facing bot messages.
//
// The catalogue ships English, Persian and Arabic message sets. Lookup is
// a plain key into the matched language's map; requested languages are
// negotiated with x/text's matcher so regional variants like "fa-IR"
// resolve to their base catalogue and unknown languages fall back to
// English.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// Vars holds substitutions for {name} placeholders in a message template.
type Vars map[string]string

// supported lists the shipped catalogues. The first entry is the fallback.
var supported = []language.Tag{
	language.English,
	language.Persian,
	language.Arabic,
}

var matcher = language.NewMatcher(supported)

// catalogues is indexed in lockstep with supported.
var catalogues = []map[string]string{english, persian, arabic}

// T resolves key for lang and substitutes vars. A key missing from the
// matched catalogue falls back to English; a key missing everywhere is
// returned verbatim so the gap is visible in the chat instead of silent.
func T(lang, key string, vars Vars) string {
	_, idx, _ := language.MatchStrings(matcher, lang)
	msg, ok := catalogues[idx][key]
	if !ok {
		msg, ok = english[key]
	}
	if !ok {
		return key
	}
	for k, v := range vars {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

// Has reports whether key exists in the English catalogue, which every
// other catalogue mirrors.
func Has(key string) bool {
	_, ok := english[key]
	return ok
}
