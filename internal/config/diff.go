package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// needs a process restart to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EnginesChanged is true if any engine entry was added, removed or
	// modified. The application reacts with a supervised engine reload.
	EnginesChanged bool
	EngineChanges  []EngineDiff

	// PolicyChanged is true if the per-language engine preference moved.
	PolicyChanged bool

	CacheEnabledChanged    bool
	NewCacheEnabled        bool
	AudioProcessingChanged bool
	NewAudioProcessing     bool
}

// EngineDiff describes what changed for a single engine kind between two
// configs.
type EngineDiff struct {
	Kind     EngineKind
	Added    bool
	Removed  bool
	Modified bool
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EnginesChanged && !d.PolicyChanged &&
		!d.CacheEnabledChanged && !d.AudioProcessingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build engine lookup maps keyed by kind.
	oldEngines := make(map[EngineKind]*EngineEntry, len(old.Engines))
	for i := range old.Engines {
		oldEngines[old.Engines[i].Kind] = &old.Engines[i]
	}
	newEngines := make(map[EngineKind]*EngineEntry, len(new.Engines))
	for i := range new.Engines {
		newEngines[new.Engines[i].Kind] = &new.Engines[i]
	}

	// Detect modified and removed engines.
	for kind, oldEntry := range oldEngines {
		newEntry, exists := newEngines[kind]
		if !exists {
			d.EngineChanges = append(d.EngineChanges, EngineDiff{
				Kind:    kind,
				Removed: true,
			})
			d.EnginesChanged = true
			continue
		}
		if entryModified(oldEntry, newEntry) {
			d.EngineChanges = append(d.EngineChanges, EngineDiff{
				Kind:     kind,
				Modified: true,
			})
			d.EnginesChanged = true
		}
	}

	// Detect added engines.
	for kind := range newEngines {
		if _, exists := oldEngines[kind]; !exists {
			d.EngineChanges = append(d.EngineChanges, EngineDiff{
				Kind:  kind,
				Added: true,
			})
			d.EnginesChanged = true
		}
	}

	// Routing policy.
	if !maps.EqualFunc(old.Policy, new.Policy, slices.Equal) {
		d.PolicyChanged = true
	}

	// Orchestrator toggles.
	if old.Synthesis.CacheOn() != new.Synthesis.CacheOn() {
		d.CacheEnabledChanged = true
		d.NewCacheEnabled = new.Synthesis.CacheOn()
	}
	if old.Synthesis.ProcessingOn() != new.Synthesis.ProcessingOn() {
		d.AudioProcessingChanged = true
		d.NewAudioProcessing = new.Synthesis.ProcessingOn()
	}

	return d
}

// entryModified compares two engine entries with the same kind.
func entryModified(old, new *EngineEntry) bool {
	return old.Required != new.Required ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model ||
		old.Binary != new.Binary ||
		old.ConfigPath != new.ConfigPath ||
		old.SampleRate != new.SampleRate ||
		old.Language != new.Language ||
		!slices.Equal(old.Languages, new.Languages) ||
		!reflect.DeepEqual(old.Options, new.Options)
}
