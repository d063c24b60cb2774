package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/transcribe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxConcurrent   = 2
	DefaultMaxQueueSize    = 10
	DefaultLatencyWindow   = 100
	DefaultMaxSegmentBytes = 25 << 20
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is [LoadFromReader] over an in-memory document.
func loadBytes(b []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(b))
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.SpoolDir == "" {
		s.SpoolDir = os.TempDir()
	}
	if s.MaxSegmentBytes <= 0 {
		s.MaxSegmentBytes = DefaultMaxSegmentBytes
	}

	p := &cfg.Pipeline
	if p.MaxConcurrent == 0 {
		p.MaxConcurrent = DefaultMaxConcurrent
	}
	if p.MaxQueueSize == 0 {
		p.MaxQueueSize = DefaultMaxQueueSize
	}
	if p.Cleanup == "" {
		p.Cleanup = pipeline.CleanupDelete
	}
	if p.PauseCheckInterval == 0 {
		p.PauseCheckInterval = pipeline.DefaultPauseInterval
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = pipeline.DefaultStopTimeout
	}
	if p.LatencyWindow == 0 {
		p.LatencyWindow = DefaultLatencyWindow
	}

	v := &cfg.VAD
	th := vad.DefaultThresholds()
	if v.EnergyThreshold == 0 {
		v.EnergyThreshold = th.EnergyThreshold
	}
	if v.SilenceThreshold == 0 {
		v.SilenceThreshold = th.SilenceThreshold
	}
	if v.MinSpeechDuration == 0 {
		v.MinSpeechDuration = th.MinSpeechDuration
	}

	t := &cfg.Transcription
	if t.CostPerMinute == 0 {
		t.CostPerMinute = transcribe.DefaultCostPerMinute
	}
	if t.AttemptTimeout == 0 {
		t.AttemptTimeout = 30 * time.Second
	}
	if t.Similarity == 0 {
		t.Similarity = transcribe.DefaultSimilarity
	}

	sg := &cfg.Suggestions
	b := suggest.DefaultBatcherConfig()
	if sg.MinBatchSize == 0 {
		sg.MinBatchSize = b.MinBatchSize
	}
	if sg.MaxBatchSize == 0 {
		sg.MaxBatchSize = b.MaxBatchSize
	}
	if sg.MinFragmentLength == 0 {
		sg.MinFragmentLength = b.MinFragmentLength
	}
	if sg.PauseThreshold == 0 {
		sg.PauseThreshold = b.PauseThreshold
	}
	if sg.ContextChars == 0 {
		sg.ContextChars = suggest.DefaultContextChars
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Pipeline
	if err := cfg.Pipeline.Limits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	switch cfg.Pipeline.Cleanup {
	case "", pipeline.CleanupDelete, pipeline.CleanupRetain:
	default:
		errs = append(errs, fmt.Errorf("pipeline.cleanup %q is invalid; valid values: delete, retain", cfg.Pipeline.Cleanup))
	}
	if cfg.Pipeline.PauseCheckInterval < 0 || cfg.Pipeline.StopTimeout < 0 {
		errs = append(errs, errors.New("pipeline: intervals must not be negative"))
	}

	// VAD
	if err := cfg.VAD.Settings().Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Transcription
	t := cfg.Transcription
	if t.CostPerMinute < 0 {
		errs = append(errs, fmt.Errorf("transcription.cost_per_minute %v must not be negative", t.CostPerMinute))
	}
	if t.Similarity < 0 || t.Similarity > 1 {
		errs = append(errs, fmt.Errorf("transcription.similarity %v is out of range [0, 1]", t.Similarity))
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_retries %d must not be negative", *t.MaxRetries))
	}

	// Suggestions
	if err := cfg.Suggestions.Batcher().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Suggestions.ContextChars < 0 {
		errs = append(errs, fmt.Errorf("suggestions.context_chars %d must not be negative", cfg.Suggestions.ContextChars))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// History availability
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; meeting history is kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
