package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are reported field by field; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// STTLanguageChanged is set when only the language changed.
	STTLanguageChanged bool
	NewSTTLanguage     string

	// STTModelChanged is set when only the model of the same engine changed.
	STTModelChanged bool
	NewSTTModel     string

	// STTEngineChanged is set when the engine, device or precision changed.
	// The engine must be rebuilt; the new settings are in the new config.
	STTEngineChanged bool

	TargetLanguageChanged bool
	NewTargetLanguage     string

	ContextIntervalChanged bool
	NewContextInterval     int

	UseOriginalChanged bool
	NewUseOriginal     bool

	// RestartRequired names the top-level sections that changed in ways that
	// only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.STTLanguageChanged || d.STTModelChanged ||
		d.STTEngineChanged || d.TargetLanguageChanged || d.ContextIntervalChanged ||
		d.UseOriginalChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	diffSTT(&d, old.STT, new.STT)
	diffTranslation(&d, old.Translation, new.Translation)

	if old.Dialogue != new.Dialogue {
		d.RestartRequired = append(d.RestartRequired, "dialogue")
	}
	if !reflect.DeepEqual(old.Display, new.Display) {
		d.RestartRequired = append(d.RestartRequired, "display")
	}
	return d
}

func diffSTT(d *ConfigDiff, old, new STTConfig) {
	engine := func(c STTConfig) [4]string {
		return [4]string{c.Provider.Name, c.Provider.BaseURL, c.Device, c.ComputeType}
	}
	switch {
	case engine(old) != engine(new) || !reflect.DeepEqual(old.Provider.Options, new.Provider.Options) ||
		old.Provider.APIKey != new.Provider.APIKey || old.Provider.APIKeyEnv != new.Provider.APIKeyEnv:
		d.STTEngineChanged = true
	case old.Provider.Model != new.Provider.Model:
		d.STTModelChanged = true
		d.NewSTTModel = new.Provider.Model
	}
	if old.Language != new.Language {
		d.STTLanguageChanged = true
		d.NewSTTLanguage = new.Language
	}
	if old.Segmentation != new.Segmentation || old.QueueSize != new.QueueSize ||
		old.VAD != new.VAD || !slices.EqualFunc(old.Fallbacks, new.Fallbacks, entryEqual) ||
		!reflect.DeepEqual(old.Glossary, new.Glossary) {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
}

func diffTranslation(d *ConfigDiff, old, new TranslationConfig) {
	if old.TargetLanguage != new.TargetLanguage {
		d.TargetLanguageChanged = true
		d.NewTargetLanguage = new.TargetLanguage
	}
	if old.ContextUpdateInterval != new.ContextUpdateInterval {
		d.ContextIntervalChanged = true
		d.NewContextInterval = new.ContextUpdateInterval
	}
	if old.UseOriginalTextForContext != new.UseOriginalTextForContext {
		d.UseOriginalChanged = true
		d.NewUseOriginal = new.UseOriginalTextForContext
	}
	if !entryEqual(old.LLM, new.LLM) || !entryEqual(old.SummaryLLM, new.SummaryLLM) ||
		!slices.EqualFunc(old.Fallbacks, new.Fallbacks, entryEqual) ||
		old.ContextCachePath != new.ContextCachePath || old.Timeout != new.Timeout {
		d.RestartRequired = append(d.RestartRequired, "translation")
	}
}

func entryEqual(a, b ProviderEntry) bool {
	return reflect.DeepEqual(a, b)
}
