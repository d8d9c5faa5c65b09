package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Voices and the log
// level are applied live; anything listed in RestartRequired is not.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoicesChanged is true when rosters, overrides, the overrides file,
	// pronunciations or the fuzzy threshold changed.
	VoicesChanged bool

	// RestartRequired names the top-level sections that changed but can only
	// take effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoicesChanged = !voicesEqual(old.Voices, new.Voices)

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Synthesis, new.Synthesis) {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Ingest != new.Ingest {
		d.RestartRequired = append(d.RestartRequired, "ingest")
	}
	return d
}

func voicesEqual(a, b VoicesConfig) bool {
	return a.OverridesFile == b.OverridesFile &&
		a.FuzzyThreshold == b.FuzzyThreshold &&
		maps.Equal(a.Overrides, b.Overrides) &&
		maps.Equal(a.Pronunciations, b.Pronunciations) &&
		maps.EqualFunc(a.Rosters, b.Rosters, slices.Equal[[]string])
}
