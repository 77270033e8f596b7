package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the router section and the log level are applied without a restart;
// the remaining flags let the caller warn that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RouterChanged is true when any router tunable changed.
	RouterChanged bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RouterChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RouterChanged = !reflect.DeepEqual(old.Router, new.Router)

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", withoutLogLevel(old.Server), withoutLogLevel(new.Server)},
		{"providers", old.Providers, new.Providers},
		{"knowledge", old.Knowledge, new.Knowledge},
		{"assistant", old.Assistant, new.Assistant},
		{"audio", old.Audio, new.Audio},
		{"cache", old.Cache, new.Cache},
		{"mcp", old.MCP, new.MCP},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func withoutLogLevel(s ServerConfig) ServerConfig {
	s.LogLevel = ""
	return s
}
