package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/config"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/resilience"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm"
	llmmock "github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm/mock"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt"
	sttmock "github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt/mock"
)

func TestRegisterBuiltinProviders_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	if got := reg.Names("stt"); !slices.Equal(got, []string{"openai", "whisper"}) {
		t.Errorf("stt names = %v", got)
	}
	llmNames := reg.Names("llm")
	for _, want := range config.ValidProviderNames["llm"] {
		if !slices.Contains(llmNames, want) {
			t.Errorf("llm provider %q not registered; have %v", want, llmNames)
		}
	}
}

func TestRegisterBuiltinProviders_Create(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	if _, err := reg.CreateSTT(config.ProviderEntry{
		Name:    "whisper",
		BaseURL: "http://localhost:9001",
		Options: map[string]any{"language": "de", "timeout": "20s"},
	}); err != nil {
		t.Errorf("whisper: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without base_url should fail")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "whisper-1"}); err != nil {
		t.Errorf("openai stt: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai llm with default model: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai llm without api key should fail")
	}
}

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	return reg
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "mock"},
		STTFallbacks: []config.ProviderEntry{{Name: "mock", Model: "small"}},
		LLM:          config.ProviderEntry{Name: "mock"},
		LLMFallbacks: []config.ProviderEntry{{Name: "mock"}, {Name: "mock"}},
	}}

	ps, err := BuildProviders(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	sttChain, ok := ps.STT.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("STT = %T, want *resilience.STTFallback", ps.STT)
	}
	names := func(ss []resilience.BreakerStatus) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Name)
		}
		return out
	}
	if got := names(sttChain.Status()); !slices.Equal(got, []string{"mock", "mock/small#1"}) {
		t.Errorf("stt chain = %v", got)
	}
	llmChain := ps.LLM.(*resilience.LLMFallback)
	if got := names(llmChain.Status()); !slices.Equal(got, []string{"mock", "mock#1", "mock#2"}) {
		t.Errorf("llm chain = %v", got)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.ProvidersConfig
		want string
	}{
		{
			name: "unknown stt",
			cfg:  config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram"}, LLM: config.ProviderEntry{Name: "mock"}},
			want: `create stt provider "deepgram"`,
		},
		{
			name: "unknown llm fallback",
			cfg: config.ProvidersConfig{
				STT:          config.ProviderEntry{Name: "mock"},
				LLM:          config.ProviderEntry{Name: "mock"},
				LLMFallbacks: []config.ProviderEntry{{Name: "nope"}},
			},
			want: `create llm fallback 0 "nope"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := BuildProviders(&config.Config{Providers: tt.cfg}, mockRegistry())
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestAvailabilityCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := availabilityCheck("stt", &sttmock.Provider{})(ctx); err != nil {
		t.Errorf("plain provider: %v", err)
	}

	failing := &sttmock.Provider{Err: errors.New("connection refused")}
	fb := resilience.NewSTTFallback(failing, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	check := availabilityCheck("stt", fb)
	if err := check(ctx); err != nil {
		t.Errorf("closed breaker: %v", err)
	}

	_, _ = fb.Transcribe(ctx, stt.Request{})
	err := check(ctx)
	if err == nil || !strings.Contains(err.Error(), "primary") {
		t.Errorf("open breaker: err = %v", err)
	}

	fb.AddFallback("backup", &sttmock.Provider{})
	if err := check(ctx); err != nil {
		t.Errorf("one healthy fallback should keep the chain available: %v", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"language": "en", "timeout": "15s", "bad": 12, "junk": "soon"}

	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "bad"); got != "" {
		t.Errorf("optString(non-string) = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil map) = %q", got)
	}
	if got := optDuration(opts, "timeout"); got != 15*time.Second {
		t.Errorf("optDuration(timeout) = %v", got)
	}
	if got := optDuration(opts, "junk"); got != 0 {
		t.Errorf("optDuration(malformed) = %v", got)
	}
}
