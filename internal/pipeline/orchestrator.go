// Package pipeline wires voice activity detection, the processing queue,
// transcription, and suggestion batching into the per-segment flow.
//
// Every delivered segment is scheduled on a bounded [queue.Queue]. Its task
// runs the VAD stages, transcribes voiced audio, records and publishes the
// transcript, and feeds the suggestion batcher. A periodic pause check
// ([Orchestrator.Run]) releases batches left behind when the speaker stops.
//
// The orchestrator owns no global state: every collaborator is passed to
// [New].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/observe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/queue"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/transcribe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/vad"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
)

var (
	// ErrNotRunning is returned when no session is active.
	ErrNotRunning = errors.New("pipeline: no session running")

	// ErrStopping is returned for segments delivered while a session stops.
	ErrStopping = errors.New("pipeline: session stopping")

	// ErrAlreadyRunning is returned by Begin when a session is active.
	ErrAlreadyRunning = errors.New("pipeline: session already running")

	// ErrCapture wraps a capture failure reported with a segment.
	ErrCapture = errors.New("pipeline: capture failed")
)

// DefaultPauseInterval is how often [Orchestrator.Run] checks for a pause.
const DefaultPauseInterval = 2 * time.Second

// DefaultStopTimeout bounds how long Stop waits for admitted segments.
const DefaultStopTimeout = 30 * time.Second

// CleanupPolicy decides what happens to segment files once processed.
type CleanupPolicy string

const (
	CleanupDelete CleanupPolicy = "delete"
	CleanupRetain CleanupPolicy = "retain"
)

// Skip reasons reported in [Outcome.Skipped].
const (
	SkipNoVoice  = "no_voice"
	SkipSilence  = "silence"
	SkipStopping = "stopping"
)

// VoiceDetector classifies a segment file.
type VoiceDetector interface {
	Detect(ctx context.Context, path string) (vad.Verdict, vad.Stage)
	Stats() vad.Stats
}

// Transcriber turns a segment into a transcript fragment. Its totals cover
// the current session.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (transcribe.Fragment, error)
	Totals() transcribe.Totals
	ResetTotals()
}

// Suggester produces suggestions for a batch. Reset starts a new
// de-duplication window and zeroes its totals.
type Suggester interface {
	Generate(ctx context.Context, batch suggest.Batch, contextText string) (*suggest.Suggestions, error)
	Totals() suggest.GeneratorTotals
	Reset()
}

// Deps are the collaborators of an [Orchestrator]. Detector, Transcriber,
// Suggester, Batcher, and Context are required.
type Deps struct {
	Detector    VoiceDetector
	Transcriber Transcriber
	Suggester   Suggester
	Batcher     *suggest.Batcher
	Context     *suggest.ContextManager

	// History records transcripts and suggestions. Optional.
	History history.Store

	// Sink receives events. Defaults to [Discard].
	Sink Sink

	// Metrics receives instrument updates. Defaults to a no-op provider.
	Metrics *observe.Metrics
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithCleanup sets the segment file cleanup policy. Default: [CleanupDelete].
func WithCleanup(p CleanupPolicy) Option {
	return func(o *Orchestrator) { o.cleanup = p }
}

// WithPauseInterval sets the pause check interval used by Run.
func WithPauseInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pauseInterval = d
		}
	}
}

// WithStopTimeout bounds the wait in Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithLatencyWindow sets the number of latency samples kept per stage.
func WithLatencyWindow(n int) Option {
	return func(o *Orchestrator) { o.latency = NewLatencies(n) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Outcome is the result of one segment task.
type Outcome struct {
	SegmentID string
	Verdict   vad.Verdict
	Stage     vad.Stage

	// Fragment is set when the segment was transcribed.
	Fragment *transcribe.Fragment

	// Suggestions is set when this segment completed a batch.
	Suggestions *suggest.Suggestions

	// Skipped names why processing stopped early, or is empty.
	Skipped string
}

// Orchestrator runs the per-segment flow.
type Orchestrator struct {
	deps          Deps
	queue         *queue.Queue[Outcome]
	metrics       *observe.Metrics
	latency       *Latencies
	cleanup       CleanupPolicy
	pauseInterval time.Duration
	stopTimeout   time.Duration
	now           func() time.Time

	// mu guards the session state. Transcript and suggestion events are
	// published under the read lock so none can follow a Stop. gen is bumped
	// by every Begin; a task only acts for the session it was admitted to.
	mu        sync.RWMutex
	state     state
	meetingID string
	gen       uint64

	smu     sync.Mutex
	session history.Summary
}

// New creates an Orchestrator. Its queue is built from limits.
func New(deps Deps, limits queue.Limits, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.Detector == nil {
		errs = append(errs, errors.New("pipeline: detector is required"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("pipeline: transcriber is required"))
	}
	if deps.Suggester == nil {
		errs = append(errs, errors.New("pipeline: suggester is required"))
	}
	if deps.Batcher == nil {
		errs = append(errs, errors.New("pipeline: batcher is required"))
	}
	if deps.Context == nil {
		errs = append(errs, errors.New("pipeline: context manager is required"))
	}
	if err := limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = Discard
	}

	o := &Orchestrator{
		deps:          deps,
		metrics:       deps.Metrics,
		latency:       NewLatencies(100),
		cleanup:       CleanupDelete,
		pauseInterval: DefaultPauseInterval,
		stopTimeout:   DefaultStopTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("pipeline: metrics: %w", err)
		}
		o.metrics = m
	}

	o.queue = queue.New[Outcome](limits,
		queue.WithOnReject(o.onReject),
		queue.WithOnStart(o.onStart),
		queue.WithClock(o.now),
	)
	return o, nil
}

// Begin starts a session recorded under meetingID. The batcher, rolling
// context, suggestion de-duplication window, and all counters are reset.
func (o *Orchestrator) Begin(meetingID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateIdle {
		return ErrAlreadyRunning
	}
	o.deps.Batcher.Clear()
	o.deps.Context.Reset()
	o.deps.Suggester.Reset()
	o.deps.Transcriber.ResetTotals()
	o.smu.Lock()
	o.session = history.Summary{}
	o.smu.Unlock()

	o.meetingID = meetingID
	o.gen++
	o.state = stateRunning
	o.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("pipeline session started", "meeting_id", meetingID)
	return nil
}

// Stop sets the stop flag and waits for every admitted segment to settle,
// bounded by the stop timeout and ctx. On timeout the segments still waiting
// are rejected. The pending batch is discarded, not flushed. The returned
// summary covers the whole session.
func (o *Orchestrator) Stop(ctx context.Context) (history.Summary, error) {
	o.mu.Lock()
	if o.state != stateRunning {
		o.mu.Unlock()
		return history.Summary{}, ErrNotRunning
	}
	o.state = stateStopping
	meetingID := o.meetingID
	o.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, o.stopTimeout)
	err := o.queue.WaitForCompletion(waitCtx)
	cancel()
	if err != nil {
		cleared := o.queue.Clear()
		slog.Warn("pipeline stop timed out, pending segments cleared",
			"meeting_id", meetingID, "cleared", cleared, "err", err)
		err = fmt.Errorf("pipeline: stop: %w", err)
	}

	o.deps.Batcher.Clear()

	o.mu.Lock()
	o.state = stateIdle
	o.meetingID = ""
	o.mu.Unlock()
	o.metrics.ActiveSessions.Add(context.Background(), -1)

	sum := o.sessionSummary()
	slog.Info("pipeline session stopped", "meeting_id", meetingID,
		"segments", sum.Segments, "transcripts", sum.Transcripts,
		"suggestions", sum.Suggestions, "dropped", sum.Dropped, "errors", sum.Errors)
	return sum, err
}

// Running reports whether a session is active and not stopping.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == stateRunning
}

// MeetingID returns the current meeting, or "" when idle.
func (o *Orchestrator) MeetingID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.meetingID
}

// SetQueueLimits changes the queue capacity at runtime.
func (o *Orchestrator) SetQueueLimits(l queue.Limits) {
	o.queue.SetLimits(l)
}

// Close rejects queued segments and stops accepting new ones.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// HandleSegment delivers one captured segment. A non-nil captureErr releases
// the segment and publishes an error event. Segments delivered while no
// session runs are released without any event.
//
// The returned future settles when the segment task finishes or is dropped.
// Only ctx values carry over to the task; its cancellation does not.
func (o *Orchestrator) HandleSegment(ctx context.Context, seg audio.Segment, captureErr error) (*queue.Future[Outcome], error) {
	if seg.ReceivedAt.IsZero() {
		seg.ReceivedAt = o.now()
	}

	// The read lock is held until the task is enqueued, so Stop cannot
	// start waiting between admission and enqueue.
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, meetingID, gen := o.state, o.meetingID, o.gen

	switch {
	case st == stateStopping:
		o.metrics.SegmentsReceived.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "stopping")))
		o.release(seg)
		return nil, ErrStopping
	case st != stateRunning:
		o.metrics.SegmentsReceived.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "idle")))
		o.release(seg)
		return nil, ErrNotRunning
	case captureErr != nil:
		o.metrics.SegmentsReceived.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "capture_error")))
		o.release(seg)
		o.count(func(s *history.Summary) { s.Errors++ })
		err := fmt.Errorf("%w: segment %s: %w", ErrCapture, seg.ID, captureErr)
		o.deps.Sink.Publish(errorEvent(seg.ID, err))
		return nil, err
	}

	o.metrics.SegmentsReceived.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "accepted")))
	o.count(func(s *history.Summary) { s.Segments++ })
	o.deps.Sink.Publish(Event{Type: EventSegmentReceived, Data: SegmentReceived{
		ID:        seg.ID,
		Size:      seg.Size,
		Timestamp: seg.ReceivedAt,
	}})

	taskCtx := context.WithoutCancel(ctx)
	meta := queue.Metadata{ID: seg.ID, Data: seg}
	return o.queue.Enqueue(taskCtx, meta, func(ctx context.Context) (Outcome, error) {
		return o.process(ctx, seg, meetingID, gen)
	}), nil
}

// process runs VAD, transcription, and batching for one segment.
func (o *Orchestrator) process(ctx context.Context, seg audio.Segment, meetingID string, gen uint64) (out Outcome, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.segment",
		trace.WithAttributes(
			attribute.String("segment.id", seg.ID),
			attribute.Int64("segment.size", seg.Size),
		),
	)
	start := o.now()
	out.SegmentID = seg.ID

	defer func() {
		o.metrics.QueueInFlight.Add(ctx, -1)
		elapsed := o.now().Sub(start)
		o.latency.Record(StageSegment, elapsed)
		o.metrics.SegmentDuration.Record(ctx, elapsed.Seconds())
		o.release(seg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.countFor(gen, func(s *history.Summary) { s.Errors++ })
			observe.Logger(ctx).Error("segment processing failed", "segment", seg.ID, "err", err)
			o.publishError(gen, seg.ID, err)
		}
		span.SetAttributes(attribute.String("segment.skipped", out.Skipped))
		span.End()
	}()

	if !o.current(gen) {
		out.Skipped = SkipStopping
		return out, nil
	}

	// Voice activity.
	vadStart := o.now()
	out.Verdict, out.Stage = o.deps.Detector.Detect(ctx, seg.Path)
	vadElapsed := o.now().Sub(vadStart)
	o.latency.Record(StageVAD, vadElapsed)
	o.metrics.VADDuration.Record(ctx, vadElapsed.Seconds())
	o.metrics.RecordVADDecision(ctx, string(out.Stage), string(out.Verdict.Reason), out.Verdict.HasVoice)
	if !out.Verdict.HasVoice {
		o.countFor(gen, func(s *history.Summary) { s.NoVoice++ })
		out.Skipped = SkipNoVoice
		return out, nil
	}

	if !o.current(gen) {
		out.Skipped = SkipStopping
		return out, nil
	}

	// Transcription.
	frag, err := o.deps.Transcriber.Transcribe(ctx, seg)
	o.latency.Record(StageTranscription, frag.Duration)
	o.metrics.STTDuration.Record(ctx, frag.Duration.Seconds())
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, "stt", "error")
		return out, fmt.Errorf("pipeline: transcribe segment %s: %w", seg.ID, err)
	}
	o.metrics.RecordProviderRequest(ctx, "stt", "ok")
	o.metrics.RecordCost(ctx, "stt", frag.Cost)
	o.countFor(gen, func(s *history.Summary) {
		s.AudioSeconds += frag.AudioDuration.Seconds()
		s.TranscriptionCost += frag.Cost
	})
	if frag.IsSilence || frag.Text == "" {
		out.Skipped = SkipSilence
		return out, nil
	}
	out.Fragment = &frag

	if !o.publishIfCurrent(gen, Event{Type: EventTranscript, Data: Transcript{
		SegmentID:  seg.ID,
		Text:       frag.Text,
		Timestamp:  frag.Timestamp,
		DurationMS: frag.Duration.Milliseconds(),
		Cost:       frag.Cost,
	}}) {
		out.Skipped = SkipStopping
		return out, nil
	}
	o.countFor(gen, func(s *history.Summary) { s.Transcripts++ })
	o.recordTranscript(ctx, meetingID, seg.ID, frag)

	// Batching. A session started after this task was admitted never sees
	// its text.
	var (
		batch   suggest.Batch
		flushed bool
	)
	if !o.withSession(gen, func() { batch, flushed = o.deps.Batcher.Add(frag.Text) }) {
		out.Skipped = SkipStopping
		return out, nil
	}
	if flushed {
		out.Suggestions = o.suggest(ctx, meetingID, gen, batch)
	}
	o.withSession(gen, func() { o.deps.Context.Add(ctx, frag.Text) })

	o.publishIfCurrent(gen, Event{Type: EventStats, Data: o.Stats()})
	return out, nil
}

// suggest generates, records, and publishes suggestions for batch. Failures
// are logged and published but never fail the caller.
func (o *Orchestrator) suggest(ctx context.Context, meetingID string, gen uint64, batch suggest.Batch) *suggest.Suggestions {
	if !o.current(gen) {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.suggest",
		trace.WithAttributes(
			attribute.String("batch.reason", batch.Reason),
			attribute.Int("batch.fragments", batch.Fragments),
		),
	)
	defer span.End()

	start := o.now()
	s, err := o.deps.Suggester.Generate(ctx, batch, o.deps.Context.Text())
	elapsed := o.now().Sub(start)
	o.latency.Record(StageSuggestion, elapsed)
	o.metrics.SuggestionDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordProviderRequest(ctx, "llm", "error")
		o.countFor(gen, func(s *history.Summary) { s.Errors++ })
		observe.Logger(ctx).Warn("suggestion generation failed", "reason", batch.Reason, "err", err)
		o.publishError(gen, "", fmt.Errorf("pipeline: suggestions: %w", err))
		return nil
	}
	o.metrics.RecordProviderRequest(ctx, "llm", "ok")
	o.metrics.RecordCost(ctx, "llm", s.Metadata.Cost)
	o.countFor(gen, func(sum *history.Summary) { sum.SuggestionCost += s.Metadata.Cost })

	if s.Empty() {
		slog.Debug("suggestions empty after filtering", "reason", batch.Reason)
		return s
	}
	if !o.publishIfCurrent(gen, Event{Type: EventSuggestions, Data: s}) {
		return nil
	}
	o.countFor(gen, func(sum *history.Summary) { sum.Suggestions++ })
	if o.deps.History != nil && meetingID != "" {
		if err := o.deps.History.AppendSuggestions(ctx, meetingID, *s); err != nil {
			slog.Warn("failed to record suggestions", "meeting_id", meetingID, "err", err)
		}
	}
	return s
}

// CheckPause runs one pause-timeout check and generates suggestions when the
// batcher releases a batch.
func (o *Orchestrator) CheckPause(ctx context.Context) *suggest.Suggestions {
	o.mu.RLock()
	st, meetingID, gen := o.state, o.meetingID, o.gen
	var (
		batch suggest.Batch
		ok    bool
	)
	if st == stateRunning {
		batch, ok = o.deps.Batcher.CheckPauseTimeout()
	}
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	return o.suggest(ctx, meetingID, gen, batch)
}

// Run performs pause checks every pause interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pauseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.CheckPause(ctx)
		}
	}
}

func (o *Orchestrator) recordTranscript(ctx context.Context, meetingID, segID string, frag transcribe.Fragment) {
	if o.deps.History == nil || meetingID == "" {
		return
	}
	err := o.deps.History.AppendTranscript(ctx, history.Entry{
		MeetingID: meetingID,
		SegmentID: segID,
		Text:      frag.Text,
		Timestamp: frag.Timestamp,
		Duration:  frag.Duration,
		Cost:      frag.Cost,
	})
	if err != nil {
		slog.Warn("failed to record transcript", "meeting_id", meetingID, "segment", segID, "err", err)
	}
}

// current reports whether session gen is running and not stopping.
func (o *Orchestrator) current(gen uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == stateRunning && o.gen == gen
}

// withSession runs fn under the state read lock if session gen is still
// running, and reports whether it ran.
func (o *Orchestrator) withSession(gen uint64, fn func()) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state != stateRunning || o.gen != gen {
		return false
	}
	fn()
	return true
}

// publishIfCurrent publishes ev while session gen is running, and reports
// whether it did.
func (o *Orchestrator) publishIfCurrent(gen uint64, ev Event) bool {
	return o.withSession(gen, func() { o.deps.Sink.Publish(ev) })
}

// publishError publishes an error event unless a later session has begun.
// Errors of a stopping session are still reported.
func (o *Orchestrator) publishError(gen uint64, segID string, err error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.gen != gen {
		return
	}
	o.deps.Sink.Publish(errorEvent(segID, err))
}

func errorEvent(segID string, err error) Event {
	return Event{Type: EventError, Data: ErrorEvent{Message: err.Error(), SegmentID: segID}}
}

func (o *Orchestrator) onStart(meta queue.Metadata, waited time.Duration) {
	ctx := context.Background()
	o.metrics.QueueInFlight.Add(ctx, 1)
	o.metrics.QueueWait.Record(ctx, waited.Seconds())
}

func (o *Orchestrator) onReject(meta queue.Metadata, err error) {
	reason := "closed"
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		reason = "overflow"
	case errors.Is(err, queue.ErrCleared):
		reason = "cleared"
	}
	o.metrics.RecordQueueDrop(context.Background(), reason)
	o.count(func(s *history.Summary) { s.Dropped++ })
	slog.Debug("segment dropped", "segment", meta.ID, "reason", reason)
	if seg, ok := meta.Data.(audio.Segment); ok {
		o.release(seg)
	}
}

// release removes the segment file unless files are retained.
func (o *Orchestrator) release(seg audio.Segment) {
	if o.cleanup == CleanupRetain || seg.Path == "" {
		return
	}
	if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove segment file", "segment", seg.ID, "path", seg.Path, "err", err)
	}
}

func (o *Orchestrator) count(fn func(*history.Summary)) {
	o.smu.Lock()
	fn(&o.session)
	o.smu.Unlock()
}

// countFor updates the session counters unless a later session has begun.
func (o *Orchestrator) countFor(gen uint64, fn func(*history.Summary)) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.gen != gen {
		return
	}
	o.count(fn)
}

func (o *Orchestrator) sessionSummary() history.Summary {
	o.smu.Lock()
	defer o.smu.Unlock()
	return o.session
}
