package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Session settings and the log level are applied without restart; the
// remaining flags only tell the operator that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SessionChanged bool
	Session        SessionDiff

	// Changes below take effect only after a restart.
	ListenAddrChanged bool
	ProviderChanged   bool
	AudioChanged      bool
	ArchiveChanged    bool
}

// SessionDiff describes which session settings changed.
type SessionDiff struct {
	VoiceChanged         bool
	InstructionsChanged  bool
	TranscriptionChanged bool
}

// RestartRequired reports whether any change needs a restart to apply.
func (d ConfigDiff) RestartRequired() bool {
	return d.ListenAddrChanged || d.ProviderChanged || d.AudioChanged || d.ArchiveChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Session = diffSession(&old.Session, &new.Session)
	d.SessionChanged = d.Session.VoiceChanged || d.Session.InstructionsChanged || d.Session.TranscriptionChanged

	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS)
	d.ProviderChanged = !reflect.DeepEqual(old.Provider, new.Provider)
	d.AudioChanged = old.Audio != new.Audio
	d.ArchiveChanged = old.Archive != new.Archive

	return d
}

// diffSession compares two session configs.
func diffSession(old, new *SessionConfig) SessionDiff {
	var sd SessionDiff

	if old.SelectedVoice() != new.SelectedVoice() {
		sd.VoiceChanged = true
	}

	if old.Instructions != new.Instructions {
		sd.InstructionsChanged = true
	}

	if old.Transcription.OutputEnabled() != new.Transcription.OutputEnabled() ||
		old.Transcription.Input != new.Transcription.Input {
		sd.TranscriptionChanged = true
	}

	return sd
}
