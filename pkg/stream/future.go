// Package stream provides the backpressured channels, cancellable tasks,
// futures and bounded caches shared by the recognition, speech and
// interruption pipelines.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyAwaited is returned when a Task's Run is invoked a second time.
var ErrAlreadyAwaited = errors.New("cannot be awaited multiple times")

// Future is a single-assignment result slot. Resolve/Reject are idempotent:
// only the first call has any effect. Await may be called any number of
// times and from any number of goroutines; all callers observe the same
// result once it is available.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewFuture creates an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future successfully. Subsequent calls are no-ops.
func (f *Future[T]) Resolve(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// Reject completes the future with an error. Subsequent calls are no-ops.
func (f *Future[T]) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done reports whether the future has been resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future is resolved, rejected, or ctx is done,
// whichever happens first.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
