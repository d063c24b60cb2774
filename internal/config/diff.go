package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// QueueLimitsChanged covers max_concurrent and max_queue_size.
	QueueLimitsChanged bool

	// VADChanged covers the enable toggles and every threshold.
	VADChanged bool

	// FilterChanged covers the hallucination phrases and similarity.
	FilterChanged bool

	// BatcherChanged covers the batcher thresholds.
	BatcherChanged bool

	// ContextChanged covers the context size.
	ContextChanged bool

	// RestartRequired lists changed sections that are not hot-reloadable.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.QueueLimitsChanged && !d.VADChanged &&
		!d.FilterChanged && !d.BatcherChanged && !d.ContextChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.QueueLimitsChanged = old.Pipeline.Limits() != new.Pipeline.Limits()
	d.VADChanged = old.VAD.Settings() != new.VAD.Settings()
	d.FilterChanged = old.Transcription.Similarity != new.Transcription.Similarity ||
		!slices.Equal(old.Transcription.HallucinationPhrases, new.Transcription.HallucinationPhrases)
	d.BatcherChanged = old.Suggestions.Batcher() != new.Suggestions.Batcher()
	d.ContextChanged = old.Suggestions.ContextChars != new.Suggestions.ContextChars

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.SpoolDir != new.Server.SpoolDir {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		a.CircuitBreaker == b.CircuitBreaker
}

// entryEqual ignores Options, which may hold uncomparable values.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
