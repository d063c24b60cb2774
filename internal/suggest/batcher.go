package suggest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Flush reasons reported in [Batch.Reason].
const (
	ReasonSufficientContent = "sufficient_content"
	ReasonCompleteSentence  = "complete_sentence"
	ReasonPauseTimeout      = "pause_timeout"
)

// BatcherConfig holds the thresholds of a [Batcher]. Lengths count runes.
type BatcherConfig struct {
	// MinBatchSize is the smallest buffer a sentence end or pause may flush.
	MinBatchSize int

	// MaxBatchSize flushes the buffer as soon as it is reached.
	MaxBatchSize int

	// MinFragmentLength drops shorter fragments as noise.
	MinFragmentLength int

	// PauseThreshold is the silence after which a waiting buffer is flushed
	// or discarded.
	PauseThreshold time.Duration
}

// DefaultBatcherConfig returns 30/100/5 runes and a 5s pause.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MinBatchSize:      30,
		MaxBatchSize:      100,
		MinFragmentLength: 5,
		PauseThreshold:    5 * time.Second,
	}
}

// Validate reports inconsistent thresholds.
func (c BatcherConfig) Validate() error {
	var errs []error
	if c.MinBatchSize < 1 {
		errs = append(errs, fmt.Errorf("suggest: min batch size %d must be at least 1", c.MinBatchSize))
	}
	if c.MaxBatchSize < c.MinBatchSize {
		errs = append(errs, fmt.Errorf("suggest: max batch size %d below min batch size %d", c.MaxBatchSize, c.MinBatchSize))
	}
	if c.MinFragmentLength < 0 {
		errs = append(errs, fmt.Errorf("suggest: min fragment length %d must not be negative", c.MinFragmentLength))
	}
	if c.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("suggest: pause threshold %s must be positive", c.PauseThreshold))
	}
	return errors.Join(errs...)
}

// Batch is accumulated transcript text released for suggestion generation.
type Batch struct {
	Text      string
	Reason    string
	Fragments int
	StartedAt time.Time
	UpdatedAt time.Time
}

// BatcherStats are cumulative batcher counters.
type BatcherStats struct {
	Ignored   int64            `json:"ignored"`
	Added     int64            `json:"added"`
	Flushed   map[string]int64 `json:"flushed"`
	Discarded int64            `json:"discarded"`
	Pending   int              `json:"pending_chars"`
}

// Batcher accumulates transcript fragments until they form a unit worth a
// suggestion call: enough text, a finished sentence, or a pause in speech.
// Every flush empties the buffer, so no text is released twice.
//
// Batcher is safe for concurrent use; a size flush and a pause flush racing
// on the same buffer release it once.
type Batcher struct {
	now func() time.Time

	mu        sync.Mutex
	cfg       BatcherConfig
	fragments []string
	chars     int
	startedAt time.Time
	updatedAt time.Time

	ignored   int64
	added     int64
	flushed   map[string]int64
	discarded int64
}

// BatcherOption configures a [Batcher].
type BatcherOption func(*Batcher)

// WithBatcherClock overrides time.Now.
func WithBatcherClock(now func() time.Time) BatcherOption {
	return func(b *Batcher) { b.now = now }
}

// NewBatcher creates a Batcher. Invalid thresholds are replaced with
// [DefaultBatcherConfig] values field by field.
func NewBatcher(cfg BatcherConfig, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		now:     time.Now,
		cfg:     sanitizeBatcher(cfg),
		flushed: make(map[string]int64),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func sanitizeBatcher(c BatcherConfig) BatcherConfig {
	d := DefaultBatcherConfig()
	if c.MinBatchSize < 1 {
		c.MinBatchSize = d.MinBatchSize
	}
	if c.MaxBatchSize < c.MinBatchSize {
		c.MaxBatchSize = max(d.MaxBatchSize, c.MinBatchSize)
	}
	if c.MinFragmentLength < 0 {
		c.MinFragmentLength = d.MinFragmentLength
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = d.PauseThreshold
	}
	return c
}

// Configure replaces the thresholds. The pending buffer is kept.
func (b *Batcher) Configure(cfg BatcherConfig) {
	b.mu.Lock()
	b.cfg = sanitizeBatcher(cfg)
	b.mu.Unlock()
}

// Config returns the current thresholds.
func (b *Batcher) Config() BatcherConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Add appends text to the buffer and reports whether the buffer should be
// released now. Fragments shorter than MinFragmentLength are ignored. When ok
// is true the returned batch holds the whole buffer, which is now empty.
func (b *Batcher) Add(text string) (batch Batch, ok bool) {
	text = strings.TrimSpace(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	if utf8.RuneCountInString(text) < b.cfg.MinFragmentLength || text == "" {
		b.ignored++
		return Batch{}, false
	}

	now := b.now()
	if len(b.fragments) == 0 {
		b.startedAt = now
	} else {
		b.chars++ // joining space
	}
	b.fragments = append(b.fragments, text)
	b.chars += utf8.RuneCountInString(text)
	b.updatedAt = now
	b.added++

	switch {
	case b.chars >= b.cfg.MaxBatchSize:
		return b.flushLocked(ReasonSufficientContent), true
	case b.chars >= b.cfg.MinBatchSize && endsSentence(text):
		return b.flushLocked(ReasonCompleteSentence), true
	}
	return Batch{}, false
}

// CheckPauseTimeout releases the buffer once no fragment has arrived for
// PauseThreshold. A buffer below MinBatchSize is discarded instead and ok is
// false. An empty buffer never flushes.
func (b *Batcher) CheckPauseTimeout() (batch Batch, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fragments) == 0 {
		return Batch{}, false
	}
	if b.now().Sub(b.updatedAt) < b.cfg.PauseThreshold {
		return Batch{}, false
	}
	if b.chars < b.cfg.MinBatchSize {
		b.discarded++
		b.resetLocked()
		return Batch{}, false
	}
	return b.flushLocked(ReasonPauseTimeout), true
}

// Pending returns the buffered text without releasing it.
func (b *Batcher) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.fragments, " ")
}

// Clear discards the buffer.
func (b *Batcher) Clear() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	flushed := make(map[string]int64, len(b.flushed))
	for k, v := range b.flushed {
		flushed[k] = v
	}
	return BatcherStats{
		Ignored:   b.ignored,
		Added:     b.added,
		Flushed:   flushed,
		Discarded: b.discarded,
		Pending:   b.chars,
	}
}

func (b *Batcher) flushLocked(reason string) Batch {
	batch := Batch{
		Text:      strings.Join(b.fragments, " "),
		Reason:    reason,
		Fragments: len(b.fragments),
		StartedAt: b.startedAt,
		UpdatedAt: b.updatedAt,
	}
	b.flushed[reason]++
	b.resetLocked()
	return batch
}

func (b *Batcher) resetLocked() {
	b.fragments = nil
	b.chars = 0
	b.startedAt = time.Time{}
	b.updatedAt = time.Time{}
}

// endsSentence reports whether s (already trimmed) ends with '.', '!' or '?'.
func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == '.' || r == '!' || r == '?'
}
