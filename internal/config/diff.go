package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and the reading section apply without a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ReadingChanged is set when any field of the reading section differs.
	ReadingChanged bool

	// RestartRequired names the sections that changed but are only read at
	// startup ("server", "providers", "resilience", "client").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ReadingChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ReadingChanged = !readingEqual(old.Reading, new.Reading)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Client != new.Client {
		d.RestartRequired = append(d.RestartRequired, "client")
	}
	return d
}

// readingEqual compares two reading sections by value, treating an unset
// toggle as its default.
func readingEqual(a, b ReadingConfig) bool {
	if a.FollowUpEnabled() != b.FollowUpEnabled() || a.CardKeywordsEnabled() != b.CardKeywordsEnabled() {
		return false
	}
	a.FollowUp, b.FollowUp = nil, nil
	a.CardKeywords, b.CardKeywords = nil, nil
	return a == b
}
