package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm"
)

// Default pricing in USD per 1000 tokens.
const (
	DefaultPromptCostPer1K     = 0.00015
	DefaultCompletionCostPer1K = 0.0006
)

const (
	// defaultMaxPerCategory caps each suggestion list.
	defaultMaxPerCategory = 5

	// dedupeWindow is how many past suggestions are checked for repeats.
	dedupeWindow = 50

	// dedupeSimilarity is the Jaro-Winkler score treated as a repeat.
	dedupeSimilarity = 0.9
)

const systemPrompt = `You assist a participant in a live meeting. From the latest discussion, and using the earlier context only for background, produce helpful suggestions.
Respond with a single JSON object and nothing else, using exactly these keys:
{"questions": [string], "resources": [{"title": string, "url": string, "description": string}], "action_items": [string], "insights": [string]}
Questions are ones the participant could ask next. Resources are well-known, real references; omit the url when unsure. Action items are concrete follow-ups that were agreed or implied. Insights are short observations. Use empty lists when nothing fits. Keep every entry under 25 words.`

// ErrMalformedResponse is returned when the backend's reply is not the
// expected JSON object.
var ErrMalformedResponse = errors.New("suggest: malformed response")

// Resource is a reference worth looking at.
type Resource struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Metadata describes the call that produced a [Suggestions].
type Metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	Cost       float64   `json:"cost"`
	Tokens     int       `json:"tokens"`
	Reason     string    `json:"reason,omitempty"`
}

// Suggestions is the structured output for one batch.
type Suggestions struct {
	Questions   []string   `json:"questions"`
	Resources   []Resource `json:"resources"`
	ActionItems []string   `json:"action_items"`
	Insights    []string   `json:"insights"`
	Metadata    Metadata   `json:"metadata"`

	// Batch is the transcript text the suggestions were derived from.
	Batch string `json:"batch"`
}

// Empty reports whether every list is empty.
func (s *Suggestions) Empty() bool {
	return len(s.Questions) == 0 && len(s.Resources) == 0 && len(s.ActionItems) == 0 && len(s.Insights) == 0
}

// GeneratorTotals are cumulative generator counters.
type GeneratorTotals struct {
	Requests         int64   `json:"requests"`
	Generated        int64   `json:"generated"`
	Empty            int64   `json:"empty"`
	Failed           int64   `json:"failed"`
	Deduplicated     int64   `json:"deduplicated"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Pricing is the per-1000-token cost of the suggestion model.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// GeneratorConfig configures a [Generator].
type GeneratorConfig struct {
	// Temperature of the completion. Zero uses 0.4.
	Temperature float64

	// MaxTokens caps the completion. Zero uses 600.
	MaxTokens int

	// MaxPerCategory caps each list. Zero uses 5.
	MaxPerCategory int

	// Pricing is used for cost tracking. Zero selects the default prices.
	Pricing Pricing
}

// Generator turns transcript batches into [Suggestions] with an LLM.
//
// Generator is safe for concurrent use.
type Generator struct {
	provider llm.Provider
	cfg      GeneratorConfig
	now      func() time.Time

	mu     sync.Mutex
	recent [][]string
	totals GeneratorTotals
}

// GeneratorOption configures a [Generator].
type GeneratorOption func(*Generator)

// WithGeneratorClock overrides time.Now.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator that calls provider.
func NewGenerator(provider llm.Provider, cfg GeneratorConfig, opts ...GeneratorOption) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.MaxPerCategory <= 0 {
		cfg.MaxPerCategory = defaultMaxPerCategory
	}
	if cfg.Pricing == (Pricing{}) {
		cfg.Pricing = Pricing{PromptPer1K: DefaultPromptCostPer1K, CompletionPer1K: DefaultCompletionCostPer1K}
	}
	g := &Generator{provider: provider, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate requests suggestions for batch with the rolling context. Items
// repeating recent suggestions are removed; the result may be empty.
func (g *Generator) Generate(ctx context.Context, batch Batch, contextText string) (*Suggestions, error) {
	start := g.now()
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: userPrompt(batch.Text, contextText)}},
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		JSONMode:     true,
	}
	if limit := g.provider.Capabilities().MaxOutputTokens; limit > 0 && req.MaxTokens > limit {
		req.MaxTokens = limit
	}

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		g.count(func(t *GeneratorTotals) { t.Requests++; t.Failed++ })
		return nil, fmt.Errorf("suggest: complete: %w", err)
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}

	usage := resp.Usage
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = g.countTokens(append([]llm.Message{{Role: "system", Content: systemPrompt}}, req.Messages...))
		usage.CompletionTokens = g.countTokens([]llm.Message{{Role: "assistant", Content: resp.Content}})
	}
	cost := float64(usage.PromptTokens)/1000*g.cfg.Pricing.PromptPer1K +
		float64(usage.CompletionTokens)/1000*g.cfg.Pricing.CompletionPer1K

	s, err := parseSuggestions(resp.Content)
	if err != nil {
		g.count(func(t *GeneratorTotals) {
			t.Requests++
			t.Failed++
			t.PromptTokens += int64(usage.PromptTokens)
			t.CompletionTokens += int64(usage.CompletionTokens)
			t.Cost += cost
		})
		return nil, err
	}
	g.clean(s)
	removed := g.dedupe(s)

	s.Batch = batch.Text
	s.Metadata = Metadata{
		Timestamp: g.now(),
		Cost:      cost,
		Tokens:    usage.PromptTokens + usage.CompletionTokens,
		Reason:    batch.Reason,
	}
	s.Metadata.DurationMS = s.Metadata.Timestamp.Sub(start).Milliseconds()

	g.count(func(t *GeneratorTotals) {
		t.Requests++
		t.PromptTokens += int64(usage.PromptTokens)
		t.CompletionTokens += int64(usage.CompletionTokens)
		t.Cost += cost
		t.Deduplicated += int64(removed)
		if s.Empty() {
			t.Empty++
		} else {
			t.Generated++
		}
	})
	return s, nil
}

// countTokens asks the backend for an estimate and falls back to the
// character heuristic.
func (g *Generator) countTokens(msgs []llm.Message) int {
	n, err := g.provider.CountTokens(msgs)
	if err != nil || n <= 0 {
		return llm.EstimateTokens(msgs)
	}
	return n
}

func userPrompt(batch, contextText string) string {
	var sb strings.Builder
	if c := strings.TrimSpace(contextText); c != "" {
		sb.WriteString("Earlier in the meeting:\n")
		sb.WriteString(c)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Latest discussion:\n")
	sb.WriteString(batch)
	return sb.String()
}

type rawSuggestions struct {
	Questions        []string   `json:"questions"`
	Resources        []Resource `json:"resources"`
	ActionItems      []string   `json:"action_items"`
	ActionItemsCamel []string   `json:"actionItems"`
	Insights         []string   `json:"insights"`
}

// parseSuggestions extracts the JSON object from content, tolerating code
// fences and surrounding prose.
func parseSuggestions(content string) (*Suggestions, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(content, 80))
	}
	var raw rawSuggestions
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	actions := raw.ActionItems
	if len(actions) == 0 {
		actions = raw.ActionItemsCamel
	}
	return &Suggestions{
		Questions:   raw.Questions,
		Resources:   raw.Resources,
		ActionItems: actions,
		Insights:    raw.Insights,
	}, nil
}

// clean trims entries, drops blanks and invalid URLs, and applies the
// per-category cap.
func (g *Generator) clean(s *Suggestions) {
	n := g.cfg.MaxPerCategory
	s.Questions = cleanList(s.Questions, n)
	s.ActionItems = cleanList(s.ActionItems, n)
	s.Insights = cleanList(s.Insights, n)

	res := make([]Resource, 0, len(s.Resources))
	for _, r := range s.Resources {
		r.Title = strings.TrimSpace(r.Title)
		r.Description = strings.TrimSpace(r.Description)
		r.URL = strings.TrimSpace(r.URL)
		if r.Title == "" {
			continue
		}
		if u, err := url.Parse(r.URL); r.URL != "" && (err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "") {
			r.URL = ""
		}
		res = append(res, r)
		if len(res) == n {
			break
		}
	}
	s.Resources = res
}

func cleanList(in []string, n int) []string {
	out := make([]string, 0, min(len(in), n))
	for _, v := range in {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}

// dedupe removes questions and action items similar to ones emitted in the
// recent window or earlier in the same result, records the survivors, and
// returns how many were removed.
func (g *Generator) dedupe(s *Suggestions) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var seen []string
	for _, items := range g.recent {
		seen = append(seen, items...)
	}

	removed := 0
	filter := func(in []string) []string {
		out := in[:0]
		for _, v := range in {
			n := normalizeItem(v)
			if similarToAny(n, seen) {
				removed++
				continue
			}
			seen = append(seen, n)
			out = append(out, v)
		}
		return out
	}
	s.Questions = filter(s.Questions)
	s.ActionItems = filter(s.ActionItems)

	kept := make([]string, 0, len(s.Questions)+len(s.ActionItems))
	for _, v := range s.Questions {
		kept = append(kept, normalizeItem(v))
	}
	for _, v := range s.ActionItems {
		kept = append(kept, normalizeItem(v))
	}
	if len(kept) > 0 {
		g.recent = append(g.recent, kept)
		if len(g.recent) > dedupeWindow {
			g.recent = g.recent[len(g.recent)-dedupeWindow:]
		}
	}
	return removed
}

func similarToAny(s string, seen []string) bool {
	for _, p := range seen {
		if s == p || matchr.JaroWinkler(s, p, false) >= dedupeSimilarity {
			return true
		}
	}
	return false
}

func normalizeItem(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.Trim(s, " .?!"))), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (g *Generator) count(fn func(*GeneratorTotals)) {
	g.mu.Lock()
	fn(&g.totals)
	g.mu.Unlock()
}

// Totals returns a snapshot of the counters.
func (g *Generator) Totals() GeneratorTotals {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totals
}

// Reset clears the de-duplication window and counters. The orchestrator
// calls it when a session begins.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = nil
	g.totals = GeneratorTotals{}
}
