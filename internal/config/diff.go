package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	AutoJoinChanged    bool
	NewAutoJoin        bool
	AutoLeaveChanged   bool
	NewAutoLeave       bool
	IgnoredRoomChanged bool
	NewIgnoredRoomID   string
	TemplatesChanged   bool
	NewTemplates       TemplatesConfig
	LogLevelChanged    bool
	NewLogLevel        LogLevel
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.AutoJoinChanged || d.AutoLeaveChanged || d.IgnoredRoomChanged ||
		d.TemplatesChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Presence.AutoJoinEnabled() != new.Presence.AutoJoinEnabled() {
		d.AutoJoinChanged = true
		d.NewAutoJoin = new.Presence.AutoJoinEnabled()
	}
	if old.Presence.AutoLeaveEnabled() != new.Presence.AutoLeaveEnabled() {
		d.AutoLeaveChanged = true
		d.NewAutoLeave = new.Presence.AutoLeaveEnabled()
	}
	if old.Presence.IgnoredRoomID != new.Presence.IgnoredRoomID {
		d.IgnoredRoomChanged = true
		d.NewIgnoredRoomID = new.Presence.IgnoredRoomID
	}

	if old.TTS.Templates != new.TTS.Templates {
		d.TemplatesChanged = true
		d.NewTemplates = new.TTS.Templates
	}

	return d
}
