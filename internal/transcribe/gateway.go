// Package transcribe wraps an STT backend for the segment pipeline: it reads
// a segment from disk, retries transient failures with exponential backoff,
// rejects hallucinated filler text, and prices every call.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt"
)

// DefaultCostPerMinute is the per-minute price of hosted Whisper in USD.
const DefaultCostPerMinute = 0.006

// Fragment is the outcome of transcribing one segment.
type Fragment struct {
	// Text is the trimmed transcript. Empty when IsSilence is set.
	Text string `json:"text"`

	// IsSilence reports that the backend heard nothing usable, either an
	// empty transcript or one rejected by the hallucination filter.
	IsSilence bool `json:"is_silence"`

	// Filtered is the [Filter] reason when IsSilence came from the filter.
	Filtered string `json:"filtered,omitempty"`

	// Timestamp is when the transcript became available.
	Timestamp time.Time `json:"timestamp"`

	// Duration is the backend round trip including retries.
	Duration time.Duration `json:"duration"`

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration `json:"audio_duration"`

	// Cost is the price of the call in USD.
	Cost float64 `json:"cost"`

	// Attempts is the number of backend calls made.
	Attempts int `json:"attempts"`
}

// Totals are cumulative gateway counters.
type Totals struct {
	Requests     int64   `json:"requests"`
	Transcribed  int64   `json:"transcribed"`
	Silent       int64   `json:"silent"`
	Filtered     int64   `json:"filtered"`
	Failed       int64   `json:"failed"`
	Retries      int64   `json:"retries"`
	AudioSeconds float64 `json:"audio_seconds"`
	Cost         float64 `json:"cost"`
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithRetry sets the retry policy. Default: [DefaultRetryPolicy].
func WithRetry(p RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithFilter sets the hallucination filter. A nil filter disables filtering.
func WithFilter(f *Filter) Option {
	return func(g *Gateway) { g.filter = f }
}

// WithCostPerMinute sets the price per audio minute.
func WithCostPerMinute(usd float64) Option {
	return func(g *Gateway) { g.costPerMinute = usd }
}

// WithLanguage sets the language hint sent with every request.
func WithLanguage(lang string) Option {
	return func(g *Gateway) { g.language = lang }
}

// WithAttemptTimeout bounds each backend call. A call that hits this timeout
// is retried; cancellation of the caller's context is not.
func WithAttemptTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.attemptTimeout = d }
}

// WithPrompt registers fn to supply the continuity prompt for each request,
// typically the tail of the transcript so far.
func WithPrompt(fn func() string) Option {
	return func(g *Gateway) { g.prompt = fn }
}

// WithClock overrides time.Now and the backoff sleep. Intended for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gateway) {
		g.now = now
		g.sleep = sleep
	}
}

// Gateway transcribes segments through an [stt.Provider].
//
// Gateway is safe for concurrent use.
type Gateway struct {
	provider       stt.Provider
	filter         *Filter
	retry          RetryPolicy
	costPerMinute  float64
	language       string
	attemptTimeout time.Duration
	prompt         func() string
	now            func() time.Time
	sleep          func(context.Context, time.Duration) error

	mu     sync.Mutex
	totals Totals
}

// New creates a Gateway around provider.
func New(provider stt.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:      provider,
		filter:        NewFilter(nil, 0),
		retry:         DefaultRetryPolicy(),
		costPerMinute: DefaultCostPerMinute,
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Filter returns the hallucination filter, or nil if filtering is disabled.
func (g *Gateway) Filter() *Filter {
	return g.filter
}

// Transcribe reads seg from disk and transcribes it. Transient failures are
// retried per the [RetryPolicy]; the returned error wraps the last failure.
func (g *Gateway) Transcribe(ctx context.Context, seg audio.Segment) (Fragment, error) {
	data, err := os.ReadFile(seg.Path)
	if err != nil {
		g.count(func(t *Totals) { t.Requests++; t.Failed++ })
		return Fragment{}, fmt.Errorf("transcribe: read segment %s: %w", seg.ID, err)
	}
	return g.TranscribeBytes(ctx, seg, data)
}

// TranscribeBytes is [Gateway.Transcribe] for a segment already in memory.
func (g *Gateway) TranscribeBytes(ctx context.Context, seg audio.Segment, data []byte) (Fragment, error) {
	start := g.now()
	req := stt.Request{Audio: data, Language: g.language}
	if g.prompt != nil {
		req.Prompt = g.prompt()
	}

	res, attempts, err := g.call(ctx, seg.ID, req)
	frag := Fragment{
		Timestamp: g.now(),
		Attempts:  attempts,
	}
	frag.Duration = frag.Timestamp.Sub(start)

	if err != nil {
		g.count(func(t *Totals) {
			t.Requests++
			t.Failed++
			t.Retries += int64(attempts - 1)
		})
		return frag, fmt.Errorf("transcribe: segment %s after %d attempt(s): %w", seg.ID, attempts, err)
	}

	frag.AudioDuration = audioDuration(res, seg, data)
	frag.Cost = frag.AudioDuration.Minutes() * g.costPerMinute
	frag.Text = strings.TrimSpace(res.Text)

	switch {
	case frag.Text == "":
		frag.IsSilence = true
	case g.filter != nil:
		if reason := g.filter.Check(frag.Text); reason != "" {
			slog.Debug("transcript filtered", "segment", seg.ID, "reason", reason, "text", frag.Text)
			frag.IsSilence = true
			frag.Filtered = reason
			frag.Text = ""
		}
	}

	g.count(func(t *Totals) {
		t.Requests++
		t.Retries += int64(attempts - 1)
		t.AudioSeconds += frag.AudioDuration.Seconds()
		t.Cost += frag.Cost
		switch {
		case frag.Filtered != "":
			t.Filtered++
		case frag.IsSilence:
			t.Silent++
		default:
			t.Transcribed++
		}
	})
	return frag, nil
}

// call runs the request with retries and returns the result and the number of
// attempts made.
func (g *Gateway) call(ctx context.Context, segID string, req stt.Request) (*stt.Result, int, error) {
	var lastErr error
	maxAttempts := 1 + max(g.retry.MaxRetries, 0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d := g.retry.Delay(attempt - 1)
			slog.Warn("transcription failed, retrying",
				"segment", segID, "attempt", attempt, "delay", d, "err", lastErr)
			if err := g.sleep(ctx, d); err != nil {
				return nil, attempt - 1, errors.Join(lastErr, err)
			}
		}

		res, err := g.attempt(ctx, req)
		if err == nil {
			if res == nil {
				res = &stt.Result{}
			}
			return res, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, attempt, err
		}
	}
	return nil, maxAttempts, lastErr
}

func (g *Gateway) attempt(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if g.attemptTimeout <= 0 {
		return g.provider.Transcribe(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()
	return g.provider.Transcribe(actx, req)
}

// audioDuration prefers the backend's figure, then the WAV header, then the
// nominal segment duration.
func audioDuration(res *stt.Result, seg audio.Segment, data []byte) time.Duration {
	if res.Duration > 0 {
		return res.Duration
	}
	if info, pcm, err := audio.ParseWAV(data); err == nil {
		if d := audio.DurationFor(len(pcm), info.Format); d > 0 {
			return d
		}
	}
	return seg.Duration
}

func (g *Gateway) count(fn func(*Totals)) {
	g.mu.Lock()
	fn(&g.totals)
	g.mu.Unlock()
}

// Totals returns a snapshot of the cumulative counters.
func (g *Gateway) Totals() Totals {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totals
}

// ResetTotals zeroes the counters. The orchestrator calls it when a session
// begins.
func (g *Gateway) ResetTotals() {
	g.mu.Lock()
	g.totals = Totals{}
	g.mu.Unlock()
}
