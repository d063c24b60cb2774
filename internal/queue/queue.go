// Package queue provides a bounded-concurrency, bounded-capacity FIFO task
// scheduler.
//
// At most MaxConcurrent tasks run at once and at most MaxQueueSize tasks wait
// to start. When a new task arrives at a full queue the oldest waiting task
// is evicted and its [Future] rejected with [ErrQueueFull]: under sustained
// overload recent work is kept and stale backlog is dropped.
//
// All state is guarded by a single mutex. Tasks run on their own goroutines.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueFull rejects a waiting task evicted to admit a newer one.
	ErrQueueFull = errors.New("queue: queue full, task dropped")

	// ErrCleared rejects a waiting task removed by [Queue.Clear].
	ErrCleared = errors.New("queue: task cleared before start")

	// ErrClosed rejects tasks enqueued after [Queue.Close].
	ErrClosed = errors.New("queue: closed")
)

// Task is a unit of work. The context is the one passed to [Queue.Enqueue].
type Task[T any] func(ctx context.Context) (T, error)

// Metadata identifies a task to callbacks and logs.
type Metadata struct {
	ID string

	// Data is opaque caller data passed back through OnReject.
	Data any
}

// Limits are the capacity parameters of a [Queue].
type Limits struct {
	// MaxConcurrent is the maximum number of tasks running at once. Must be ≥ 1.
	MaxConcurrent int

	// MaxQueueSize is the maximum number of tasks waiting to start. Must be ≥ 1.
	MaxQueueSize int
}

// Validate reports non-positive limits.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("queue: max concurrent %d must be at least 1", l.MaxConcurrent))
	}
	if l.MaxQueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue: max queue size %d must be at least 1", l.MaxQueueSize))
	}
	return errors.Join(errs...)
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	QueueDepth   int `json:"queue_depth"`
	InFlight     int `json:"in_flight"`
	PeakInFlight int `json:"peak_in_flight"`

	// TotalQueued counts every task admitted by Enqueue.
	TotalQueued int64 `json:"total_queued"`

	// TotalProcessed counts tasks that ran to completion, successfully or not.
	TotalProcessed int64 `json:"total_processed"`

	// TotalDropped counts tasks evicted on overflow or removed by Clear.
	TotalDropped int64 `json:"total_dropped"`

	// TotalErrors counts executed tasks that returned an error or panicked.
	TotalErrors int64 `json:"total_errors"`
}

// Option configures a [Queue].
type Option func(*options)

type options struct {
	onReject func(Metadata, error)
	onStart  func(Metadata, time.Duration)
	now      func() time.Time
}

// WithOnReject registers fn to be called, outside the queue lock, for every
// task that is rejected without running (evicted, cleared, or closed).
func WithOnReject(fn func(meta Metadata, err error)) Option {
	return func(o *options) { o.onReject = fn }
}

// WithOnStart registers fn to be called when a task starts, with the time it
// spent waiting.
func WithOnStart(fn func(meta Metadata, waited time.Duration)) Option {
	return func(o *options) { o.onStart = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type item[T any] struct {
	ctx        context.Context
	meta       Metadata
	task       Task[T]
	enqueuedAt time.Time
	future     *Future[T]
}

type rejection struct {
	meta Metadata
	err  error
}

// Queue schedules [Task]s under [Limits]. The zero value is not usable; use
// [New].
type Queue[T any] struct {
	opts options

	mu       sync.Mutex
	limits   Limits
	pending  []*item[T]
	inFlight int
	closed   bool
	waiters  []chan struct{}

	peak      int
	queued    int64
	processed int64
	dropped   int64
	errored   int64
}

// New creates a Queue. Limits below 1 are raised to 1.
func New[T any](l Limits, opts ...Option) *Queue[T] {
	q := &Queue[T]{
		limits: sanitize(l),
		opts:   options{now: time.Now},
	}
	for _, o := range opts {
		o(&q.opts)
	}
	return q
}

func sanitize(l Limits) Limits {
	l.MaxConcurrent = max(l.MaxConcurrent, 1)
	l.MaxQueueSize = max(l.MaxQueueSize, 1)
	return l
}

// Enqueue admits task and returns its Future. If the queue is full, the
// oldest waiting tasks are evicted until there is room. The task runs with
// ctx; cancelling ctx before the task starts does not remove it.
func (q *Queue[T]) Enqueue(ctx context.Context, meta Metadata, task Task[T]) *Future[T] {
	f := newFuture[T]()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.resolve(*new(T), ErrClosed)
		q.notifyReject([]rejection{{meta: meta, err: ErrClosed}})
		return f
	}

	var rejected []rejection
	for len(q.pending) >= q.limits.MaxQueueSize {
		rejected = append(rejected, q.evictOldestLocked(ErrQueueFull))
	}

	q.pending = append(q.pending, &item[T]{
		ctx:        ctx,
		meta:       meta,
		task:       task,
		enqueuedAt: q.opts.now(),
		future:     f,
	})
	q.queued++
	q.scheduleLocked()
	q.mu.Unlock()

	q.notifyReject(rejected)
	return f
}

// evictOldestLocked removes the head of pending and rejects it with err.
func (q *Queue[T]) evictOldestLocked(err error) rejection {
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.dropped++
	it.future.resolve(*new(T), err)
	return rejection{meta: it.meta, err: err}
}

// scheduleLocked starts waiting tasks while capacity allows.
func (q *Queue[T]) scheduleLocked() {
	for q.inFlight < q.limits.MaxConcurrent && len(q.pending) > 0 {
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight++
		q.peak = max(q.peak, q.inFlight)
		go q.run(it)
	}
}

func (q *Queue[T]) run(it *item[T]) {
	if q.opts.onStart != nil {
		q.opts.onStart(it.meta, q.opts.now().Sub(it.enqueuedAt))
	}

	val, err := execute(it.ctx, it.task)
	it.future.resolve(val, err)

	q.mu.Lock()
	q.inFlight--
	q.processed++
	if err != nil {
		q.errored++
	}
	q.scheduleLocked()
	q.notifyIdleLocked()
	q.mu.Unlock()
}

// execute runs task, converting a panic into an error.
func execute[T any](ctx context.Context, task Task[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue[T]) notifyReject(rs []rejection) {
	if q.opts.onReject == nil {
		return
	}
	for _, r := range rs {
		q.opts.onReject(r.meta, r.err)
	}
}

// notifyIdleLocked wakes WaitForCompletion callers once nothing is pending or
// running.
func (q *Queue[T]) notifyIdleLocked() {
	if len(q.pending) > 0 || q.inFlight > 0 {
		return
	}
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

// WaitForCompletion blocks until no task is waiting or running, or ctx is
// done. Every task admitted before the call has been resolved or rejected when
// it returns nil.
func (q *Queue[T]) WaitForCompletion(ctx context.Context) error {
	q.mu.Lock()
	if len(q.pending) == 0 && q.inFlight == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: wait for completion: %w", ctx.Err())
	}
}

// Clear rejects every waiting task with [ErrCleared] and returns how many
// were removed. Running tasks are unaffected.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	var rejected []rejection
	for len(q.pending) > 0 {
		rejected = append(rejected, q.evictOldestLocked(ErrCleared))
	}
	q.notifyIdleLocked()
	q.mu.Unlock()

	q.notifyReject(rejected)
	return len(rejected)
}

// Close stops admission and clears waiting tasks. Running tasks finish
// normally. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

// SetLimits changes capacity at runtime. Raising MaxConcurrent starts waiting
// tasks at once; shrinking MaxQueueSize then evicts the oldest of those still
// waiting. Running tasks are never interrupted.
func (q *Queue[T]) SetLimits(l Limits) {
	l = sanitize(l)

	q.mu.Lock()
	q.limits = l
	q.scheduleLocked()
	var rejected []rejection
	for len(q.pending) > l.MaxQueueSize {
		rejected = append(rejected, q.evictOldestLocked(ErrQueueFull))
	}
	q.mu.Unlock()

	q.notifyReject(rejected)
}

// Limits returns the current limits.
func (q *Queue[T]) Limits() Limits {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limits
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		QueueDepth:     len(q.pending),
		InFlight:       q.inFlight,
		PeakInFlight:   q.peak,
		TotalQueued:    q.queued,
		TotalProcessed: q.processed,
		TotalDropped:   q.dropped,
		TotalErrors:    q.errored,
	}
}
