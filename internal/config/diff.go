package config

// ConfigDiff describes what changed between two configs, split into the
// changes that can be applied to a running server and the ones that need a
// restart.
type ConfigDiff struct {
	// LogLevelChanged is set when the log level differs; hot-reloadable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RefineChanged is set when batch reconciliation tuning differs. The
	// next triggered pass picks the new values up; hot-reloadable.
	RefineChanged bool

	// RestartRequired is set when anything else differs (listen address,
	// storage, streaming windows, engine selection). Open sessions and the
	// loaded model cannot be rewired in place.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Refine != new.Refine {
		d.RefineChanged = true
	}

	oldRest, newRest := *old, *new
	oldRest.Server.LogLevel, newRest.Server.LogLevel = "", ""
	oldRest.Refine, newRest.Refine = RefineConfig{}, RefineConfig{}
	if oldRest.Server.TLS != nil && newRest.Server.TLS != nil {
		if *oldRest.Server.TLS != *newRest.Server.TLS {
			d.RestartRequired = true
		}
		oldRest.Server.TLS, newRest.Server.TLS = nil, nil
	}
	if (oldRest.Server.TLS == nil) != (newRest.Server.TLS == nil) {
		d.RestartRequired = true
		oldRest.Server.TLS, newRest.Server.TLS = nil, nil
	}
	if oldRest != newRest {
		d.RestartRequired = true
	}
	return d
}
