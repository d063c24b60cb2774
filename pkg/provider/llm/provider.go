// Package llm defines the Provider interface for chat-completion backends.
//
// The suggestion generator uses a provider to turn a batch of transcript text
// into structured suggestions. Backends include the OpenAI API directly and
// any-llm-go, which fronts Anthropic, Gemini, Ollama, and others.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds token counts reported by the backend for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to [Provider.Complete].
type CompletionRequest struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Temperature controls randomness. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the backend default.
	MaxTokens int

	// JSONMode asks the backend to return a single JSON object. Backends
	// without native support ignore it; callers must still validate output.
	JSONMode bool
}

// CompletionResponse is the output of [Provider.Complete].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the token count of messages.
	CountTokens(messages []Message) (int, error)

	// Capabilities reports the model's limits.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the ~4 characters per token heuristic with a small
// per-message overhead, shared by backends that have no tokenizer.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
