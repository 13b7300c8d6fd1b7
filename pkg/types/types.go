// Package types defines the shared types used across all TTSKit packages.
//
// These types form the lingua franca between engine drivers, the router, the
// cache, and the orchestrator. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here
// to avoid circular imports.
package types

import (
	"sort"
	"strings"
)

// AudioFormat identifies an output audio container.
type AudioFormat string

const (
	// FormatOGG is an OGG container, Opus codec when available. The default
	// for Telegram voice messages.
	FormatOGG AudioFormat = "ogg"

	// FormatMP3 is an MPEG layer III stream.
	FormatMP3 AudioFormat = "mp3"

	// FormatWAV is uncompressed RIFF/PCM.
	FormatWAV AudioFormat = "wav"
)

// IsValid reports whether f is one of the supported output formats.
func (f AudioFormat) IsValid() bool {
	switch f {
	case FormatOGG, FormatMP3, FormatWAV:
		return true
	}
	return false
}

// ContentType returns the MIME type served for this container.
func (f AudioFormat) ContentType() string {
	switch f {
	case FormatOGG:
		return "audio/ogg"
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	}
	return "application/octet-stream"
}

// Request parameter bounds enforced by the orchestrator.
const (
	// MinRate and MaxRate bound the speaking-rate multiplier.
	MinRate = 0.1
	MaxRate = 3.0

	// MinPitch and MaxPitch bound the pitch shift in semitones.
	MinPitch = -12.0
	MaxPitch = 12.0
)

// SynthRequest describes a single synthesis request as accepted by the
// orchestrator from either boundary (bot or REST).
type SynthRequest struct {
	// Text is the content to synthesize. Must be non-blank after trimming
	// and no longer than the configured maximum.
	Text string

	// Language is a BCP-47-ish code ("en", "fa", "pt-br"). Empty means the
	// configured default, unless the text carries a "<lang>: ..." prefix.
	Language string

	// Engine optionally forces a specific driver, bypassing the policy.
	Engine string

	// Voice optionally selects an engine-specific voice. Validated by the
	// driver.
	Voice string

	// Rate is the speaking-rate multiplier in [MinRate, MaxRate].
	// Zero means 1.0.
	Rate float64

	// Pitch is the pitch shift in semitones in [MinPitch, MaxPitch].
	Pitch float64

	// OutputFormat selects the target container. Zero value means FormatOGG.
	OutputFormat AudioFormat

	// Cache requests fingerprint caching for this call. The orchestrator
	// forces it off when caching is disabled globally.
	Cache bool
}

// AudioArtifact is the final encoded audio plus metadata returned to callers.
// The orchestrator owns the artifact it returns; callers must not assume the
// byte slice is shared.
type AudioArtifact struct {
	// Bytes is the encoded audio in Format.
	Bytes []byte

	// Format is the container the bytes are encoded in.
	Format AudioFormat

	// DurationSeconds is the decoded play time. Zero when probing failed.
	DurationSeconds float64

	// SampleRate in Hz of the encoded stream.
	SampleRate int

	// Channels of the encoded stream (1 mono, 2 stereo).
	Channels int

	// SizeBytes equals len(Bytes), recorded for metadata listings.
	SizeBytes int

	// EngineUsed is the id of the driver that produced the source audio.
	EngineUsed string

	// Cached reports whether this artifact was served from the content cache.
	Cached bool
}

// EngineCapabilities is the machine-readable description of what an engine
// supports. Drivers report it once; the registry and router consult it for
// policy building and request validation.
type EngineCapabilities struct {
	// Languages the engine can synthesize, lowercased.
	Languages []string

	// Voices per language. May be empty for engines with a single implicit
	// voice.
	Voices map[string][]string

	// SupportsRate indicates native speaking-rate control. When false the
	// pipeline applies rate via resampling filters instead.
	SupportsRate bool

	// SupportsPitch indicates native pitch control.
	SupportsPitch bool

	// SupportsSSML indicates the engine accepts SSML markup.
	SupportsSSML bool

	// Offline indicates the engine needs no network access.
	Offline bool

	// MaxTextLength is the longest input the engine accepts in one call.
	// Zero means unbounded.
	MaxTextLength int
}

// SupportsLanguage reports whether lang is advertised, case-insensitively.
func (c EngineCapabilities) SupportsLanguage(lang string) bool {
	lang = strings.ToLower(lang)
	for _, l := range c.Languages {
		if strings.ToLower(l) == lang {
			return true
		}
	}
	return false
}

// VoicesFor returns the advertised voices for lang. A nil result means the
// engine has no per-language voice list (single implicit voice).
func (c EngineCapabilities) VoicesFor(lang string) []string {
	if c.Voices == nil {
		return nil
	}
	return c.Voices[strings.ToLower(lang)]
}

// Permission is a single grant attached to an API key.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// IsValid reports whether p is a known permission.
func (p Permission) IsValid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// PermissionSet is the domain representation of a key's grants. Persistence
// layers serialize it (JSON text in the api_keys table); everything else
// works with the set directly.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions, dropping
// duplicates and unknown values.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p.IsValid() {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p, ignoring unknown values.
func (s PermissionSet) Add(p Permission) {
	if p.IsValid() {
		s[p] = struct{}{}
	}
}

// Slice returns the permissions in deterministic (sorted) order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted permissions as plain strings, for serialization
// at the persistence edge and for API listings.
func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// Principal is the authenticated identity behind a request.
type Principal struct {
	// UserID is the external user identifier the key belongs to.
	UserID string

	// IsAdmin mirrors the owning user's admin flag.
	IsAdmin bool

	// Permissions granted to the presented API key. Admin owners always
	// carry PermissionAdmin here in addition to the key's own grants.
	Permissions PermissionSet
}

// Can reports whether the principal may perform actions requiring p.
// Admins pass every check.
func (pr *Principal) Can(p Permission) bool {
	if pr == nil {
		return false
	}
	if pr.IsAdmin {
		return true
	}
	return pr.Permissions.Has(p)
}
