package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// DefaultContextChars bounds the rolling context at roughly 1000 tokens.
const DefaultContextChars = 4000

const summarisationPrompt = `Summarise the following meeting transcript excerpt in a few sentences.
Preserve decisions, open questions, names, numbers, and commitments. Do not add anything that was not said.`

// Summariser compresses older transcript text.
type Summariser interface {
	Summarise(ctx context.Context, text string) (string, error)
}

// LLMSummariser uses an LLM provider to summarise transcript text.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise asks the model for a short summary of text.
func (s *LLMSummariser) Summarise(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: "user", Content: text}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// ContextManager keeps the rolling meeting context sent alongside each batch.
//
// Fragments are kept oldest first while their total length stays within
// maxChars. When the budget is exceeded the oldest half is either folded into
// a running summary (when a [Summariser] is set) or dropped.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	summariser Summariser

	mu        sync.Mutex
	maxChars  int
	fragments []string
	chars     int
	summary   string
}

// NewContextManager creates a ContextManager. maxChars ≤ 0 selects
// [DefaultContextChars]. summariser may be nil.
func NewContextManager(maxChars int, summariser Summariser) *ContextManager {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	return &ContextManager{maxChars: maxChars, summariser: summariser}
}

// SetMaxChars changes the budget; it takes effect on the next Add.
func (cm *ContextManager) SetMaxChars(n int) {
	if n <= 0 {
		n = DefaultContextChars
	}
	cm.mu.Lock()
	cm.maxChars = n
	cm.mu.Unlock()
}

// Add appends a transcript fragment and trims the window. A summarisation
// failure falls back to dropping the oldest fragments.
func (cm *ContextManager) Add(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.fragments = append(cm.fragments, text)
	cm.chars += len(text) + 1

	for cm.chars > cm.maxChars && len(cm.fragments) > 1 {
		half := max(len(cm.fragments)/2, 1)
		old := strings.Join(cm.fragments[:half], " ")
		cm.fragments = cm.fragments[half:]
		cm.chars -= len(old) + 1

		if cm.summariser == nil {
			continue
		}
		if err := cm.summariseLocked(ctx, old); err != nil {
			slog.Warn("context summarisation failed, dropping oldest fragments", "err", err)
		}
	}
	// A single fragment larger than the budget keeps only its tail.
	if cm.chars > cm.maxChars && len(cm.fragments) == 1 {
		f := cm.fragments[0]
		cm.fragments[0] = strings.ToValidUTF8(f[len(f)-cm.maxChars+1:], "")
		cm.chars = len(cm.fragments[0]) + 1
	}
}

// summariseLocked folds old into the running summary. Must be called with
// cm.mu held; the lock is released during the LLM call.
func (cm *ContextManager) summariseLocked(ctx context.Context, old string) error {
	input := old
	if cm.summary != "" {
		input = cm.summary + "\n" + old
	}
	cm.mu.Unlock()
	summary, err := cm.summariser.Summarise(ctx, input)
	cm.mu.Lock()
	if err != nil {
		return err
	}
	// Keep the summary within a quarter of the budget.
	if limit := cm.maxChars / 4; len(summary) > limit {
		summary = strings.ToValidUTF8(summary[len(summary)-limit:], "")
	}
	cm.summary = summary
	return nil
}

// Text returns the context: the summary, if any, followed by the retained
// fragments.
func (cm *ContextManager) Text() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	body := strings.Join(cm.fragments, " ")
	if cm.summary == "" {
		return body
	}
	if body == "" {
		return "[Earlier summary]: " + cm.summary
	}
	return "[Earlier summary]: " + cm.summary + "\n" + body
}

// Tail returns at most n trailing bytes of the retained fragments, cut at a
// word boundary. Used as the transcription continuity prompt.
func (cm *ContextManager) Tail(n int) string {
	cm.mu.Lock()
	body := strings.Join(cm.fragments, " ")
	cm.mu.Unlock()
	if len(body) <= n {
		return body
	}
	body = body[len(body)-n:]
	if i := strings.IndexByte(body, ' '); i >= 0 {
		body = body[i+1:]
	}
	return body
}

// TokenEstimate returns the approximate token count of [ContextManager.Text].
func (cm *ContextManager) TokenEstimate() int {
	return (len(cm.Text()) + charsPerToken - 1) / charsPerToken
}

// Reset clears fragments and summary.
func (cm *ContextManager) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.fragments = nil
	cm.chars = 0
	cm.summary = ""
}
