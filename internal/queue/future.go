package queue

import (
	"context"
	"sync"
)

// Future is the pending result of an enqueued [Task]. It is settled exactly
// once: with the task's result, or with a rejection error if the task never
// ran.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future is settled or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value. It must only be called after Done is
// closed.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}
