package suggest_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBatcher(clk *fakeClock) *suggest.Batcher {
	return suggest.NewBatcher(suggest.DefaultBatcherConfig(), suggest.WithBatcherClock(clk.Now))
}

func TestBatcher_CompleteSentenceAfterBuffering(t *testing.T) {
	t.Parallel()

	b := newBatcher(newFakeClock())
	first := "Hello there, how is everyone doing today"
	if _, ok := b.Add(first); ok {
		t.Fatal("first fragment flushed; want buffered")
	}
	if b.Pending() != first {
		t.Fatalf("Pending() = %q", b.Pending())
	}

	batch, ok := b.Add("This concludes my point.")
	if !ok {
		t.Fatal("second fragment did not flush")
	}
	want := first + " This concludes my point."
	if batch.Text != want {
		t.Errorf("Text = %q, want %q", batch.Text, want)
	}
	if batch.Reason != suggest.ReasonCompleteSentence || batch.Fragments != 2 {
		t.Errorf("batch = %+v", batch)
	}
	if b.Pending() != "" {
		t.Errorf("buffer not empty after flush: %q", b.Pending())
	}
}

func TestBatcher_Add(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fragments  []string
		wantFlush  bool
		wantReason string
	}{
		{"noise ignored", []string{"uh."}, false, ""},
		{"short sentence below min", []string{"Yes, agreed."}, false, ""},
		{"sentence at min size", []string{"We will revisit that next week."}, true, suggest.ReasonCompleteSentence},
		{"question mark", []string{"Who owns the deployment checklist?"}, true, suggest.ReasonCompleteSentence},
		{"exclamation with trailing space", []string{"That is a fantastic result for us!   "}, true, suggest.ReasonCompleteSentence},
		{"long without punctuation", []string{strings.Repeat("word ", 25)}, true, suggest.ReasonSufficientContent},
		{"accumulates to max", []string{strings.Repeat("a", 60), strings.Repeat("b", 39)}, true, suggest.ReasonSufficientContent},
		{"one below max", []string{strings.Repeat("a", 60), strings.Repeat("b", 38)}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newBatcher(newFakeClock())
			var (
				batch suggest.Batch
				ok    bool
			)
			for _, f := range tt.fragments {
				batch, ok = b.Add(f)
			}
			if ok != tt.wantFlush {
				t.Fatalf("flushed = %v, want %v (pending %q)", ok, tt.wantFlush, b.Pending())
			}
			if ok && batch.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", batch.Reason, tt.wantReason)
			}
		})
	}
}

func TestBatcher_NoReflushWithoutNewText(t *testing.T) {
	t.Parallel()

	b := newBatcher(newFakeClock())
	if _, ok := b.Add("The budget review is scheduled for Monday."); !ok {
		t.Fatal("expected flush")
	}
	for _, s := range []string{"", "   ", "ok"} {
		if batch, ok := b.Add(s); ok {
			t.Fatalf("Add(%q) re-flushed %q", s, batch.Text)
		}
	}
	if st := b.Stats(); st.Ignored != 3 || st.Flushed[suggest.ReasonCompleteSentence] != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestBatcher_PauseTimeout(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newBatcher(clk)

	if _, ok := b.CheckPauseTimeout(); ok {
		t.Fatal("empty buffer flushed")
	}

	b.Add("we still need a decision on the vendor")
	clk.Advance(4 * time.Second)
	if _, ok := b.CheckPauseTimeout(); ok {
		t.Fatal("flushed before pause threshold")
	}

	clk.Advance(time.Second)
	batch, ok := b.CheckPauseTimeout()
	if !ok {
		t.Fatal("no flush after pause threshold")
	}
	if batch.Reason != suggest.ReasonPauseTimeout || batch.Text != "we still need a decision on the vendor" {
		t.Errorf("batch = %+v", batch)
	}
	if _, ok := b.CheckPauseTimeout(); ok {
		t.Error("pause flushed twice")
	}
}

func TestBatcher_PauseTimeoutDiscardsShortBuffer(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newBatcher(clk)

	b.Add("right, so")
	clk.Advance(6 * time.Second)
	if _, ok := b.CheckPauseTimeout(); ok {
		t.Fatal("short buffer flushed on pause")
	}
	if b.Pending() != "" {
		t.Errorf("short buffer kept: %q", b.Pending())
	}
	if b.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", b.Stats().Discarded)
	}
}

func TestBatcher_NewFragmentRestartsPause(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newBatcher(clk)

	b.Add("first part of a longer thought")
	clk.Advance(4 * time.Second)
	b.Add("and the second part")
	clk.Advance(4 * time.Second)
	if _, ok := b.CheckPauseTimeout(); ok {
		t.Fatal("pause measured from first fragment; want last")
	}
	clk.Advance(time.Second)
	batch, ok := b.CheckPauseTimeout()
	if !ok {
		t.Fatal("expected pause flush")
	}
	if !batch.UpdatedAt.After(batch.StartedAt) {
		t.Errorf("StartedAt %v, UpdatedAt %v", batch.StartedAt, batch.UpdatedAt)
	}
}

func TestBatcher_Clear(t *testing.T) {
	t.Parallel()

	b := newBatcher(newFakeClock())
	b.Add("this is some pending text")
	b.Clear()
	if b.Pending() != "" || b.Stats().Pending != 0 {
		t.Fatal("Clear left text behind")
	}
}

func TestBatcher_Configure(t *testing.T) {
	t.Parallel()

	b := newBatcher(newFakeClock())
	b.Configure(suggest.BatcherConfig{MinBatchSize: 5, MaxBatchSize: 10, MinFragmentLength: 2, PauseThreshold: time.Second})
	batch, ok := b.Add("ok then")
	if ok {
		t.Fatalf("flushed %q without sentence end below max", batch.Text)
	}
	if _, ok := b.Add("go."); !ok {
		t.Fatal("expected flush with lowered thresholds")
	}
	if got := b.Config().MaxBatchSize; got != 10 {
		t.Errorf("MaxBatchSize = %d, want 10", got)
	}
}

func TestBatcherConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := suggest.DefaultBatcherConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := suggest.BatcherConfig{MinBatchSize: 50, MaxBatchSize: 10, MinFragmentLength: -1}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"max batch size", "min fragment length", "pause threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

// A size flush and a pause flush racing over one buffer release it once.
func TestBatcher_ConcurrentFlushesReleaseOnce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newBatcher(clk)
	b.Add("the migration plan needs another review pass")
	clk.Advance(10 * time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		batches []string
	)
	record := func(batch suggest.Batch, ok bool) {
		if ok {
			mu.Lock()
			batches = append(batches, batch.Text)
			mu.Unlock()
		}
	}
	for range 8 {
		wg.Add(2)
		go func() { defer wg.Done(); record(b.CheckPauseTimeout()) }()
		go func() { defer wg.Done(); record(b.Add(strings.Repeat("x", 5))) }()
	}
	wg.Wait()
	clk.Advance(10 * time.Second)
	record(b.CheckPauseTimeout())

	total := 0
	for _, s := range batches {
		total += strings.Count(s, "migration plan")
	}
	if total != 1 {
		t.Fatalf("original text released %d times, want 1: %q", total, batches)
	}
}
