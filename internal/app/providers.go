package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/config"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/resilience"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm/anyllm"
	oaillm "github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm/openai"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt"
	oaistt "github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt/openai"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt/whisper"
)

// defaultLLMModel is used for the direct OpenAI backend when no model is set.
const defaultLLMModel = "gpt-4o-mini"

// Providers holds the resolved STT and LLM backends. Either may be a
// fallback chain wrapping several configured providers.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the API directly; the remaining backends go through
	// any-llm and share the same pattern: optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultLLMModel
		}
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers", "llm", reg.Names("llm"), "stt", reg.Names("stt"))
}

// BuildProviders instantiates the configured primary providers and their
// fallbacks. Each backend is guarded by its own circuit breaker, so a
// single configured provider still fails fast while its upstream is down.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	fb := cfg.Providers.CircuitBreaker.Fallback()

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	sttChain := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, withStateLogging(fb, "stt"))
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	for i, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback %d %q: %w", i, entry.Name, err)
		}
		sttChain.AddFallback(fallbackName(entry, i), p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallback", i)
	}

	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	llmChain := resilience.NewLLMFallback(llmPrimary, cfg.Providers.LLM.Name, withStateLogging(fb, "llm"))
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %d %q: %w", i, entry.Name, err)
		}
		llmChain.AddFallback(fallbackName(entry, i), p)
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallback", i)
	}

	return &Providers{STT: sttChain, LLM: llmChain}, nil
}

// breakerStatus is implemented by the fallback chains.
type breakerStatus interface {
	Status() []resilience.BreakerStatus
}

// availabilityCheck reports an error when every backend of p has an open
// circuit breaker. Providers without breakers are always available.
func availabilityCheck(kind string, p any) func(context.Context) error {
	return func(context.Context) error {
		bs, ok := p.(breakerStatus)
		if !ok {
			return nil
		}
		var open []string
		status := bs.Status()
		for _, s := range status {
			if s.State != resilience.StateOpen.String() {
				return nil
			}
			open = append(open, s.Name)
		}
		if len(status) == 0 {
			return nil
		}
		return errors.New(kind + ": all backends unavailable: " + strings.Join(open, ", "))
	}
}

func withStateLogging(fb resilience.FallbackConfig, kind string) resilience.FallbackConfig {
	fb.CircuitBreaker.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("provider circuit breaker state changed", "kind", kind, "breaker", name, "from", from.String(), "to", to.String())
	}
	return fb
}

func fallbackName(e config.ProviderEntry, i int) string {
	if e.Model != "" {
		return fmt.Sprintf("%s/%s#%d", e.Name, e.Model, i+1)
	}
	return fmt.Sprintf("%s#%d", e.Name, i+1)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optDuration parses a duration string such as "20s" from Options.
// Returns 0 when absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
