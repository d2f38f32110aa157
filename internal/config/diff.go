package config

import "fmt"

// ConfigDiff describes what changed between two configs. Tunable fields are
// tracked individually so the server can apply them without a restart; every
// other change lands in RestartRequired.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; NewLogLevel
	// carries the new value.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateTuningChanged is true when a gate tuning knob changed. New sessions
	// pick the new values up; existing sessions keep their gate.
	GateTuningChanged bool

	// RestartRequired lists the config sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GateTuningChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gate != new.Gate {
		if old.Gate.Backend != new.Gate.Backend || old.Gate.ModelPath != new.Gate.ModelPath {
			d.RestartRequired = append(d.RestartRequired, "gate")
		} else {
			d.GateTuningChanged = true
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Spotter != new.Spotter {
		d.RestartRequired = append(d.RestartRequired, "spotter")
	}
	if old.Detector != new.Detector {
		d.RestartRequired = append(d.RestartRequired, "detector")
	}
	if stageChanged(old.Stages.Recognizer, new.Stages.Recognizer) ||
		stageChanged(old.Stages.Intent, new.Stages.Intent) ||
		stageChanged(old.Stages.Executor, new.Stages.Executor) ||
		stageChanged(old.Stages.Synthesizer, new.Stages.Synthesizer) {
		d.RestartRequired = append(d.RestartRequired, "stages")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// stageChanged compares two stage entries field by field. Options maps are
// compared shallowly by their string rendering.
func stageChanged(a, b StageEntry) bool {
	if a.Backend != b.Backend || a.Provider != b.Provider || a.Model != b.Model ||
		a.ModelPath != b.ModelPath || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL {
		return true
	}
	return fmt.Sprint(a.Options) != fmt.Sprint(b.Options)
}
