package procedure

import (
	"context"
	"fmt"
)

// Future is a Deferred value computed by a goroutine. Resolvers return a
// *Future to let the transport await the value after dispatch has returned.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

var _ Deferred = (*Future[int])(nil)

// Go starts fn in a new goroutine and returns its Future. A panic in fn is
// reported as the future's error.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = NewInternalError("deferred value panicked: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v}
	close(f.done)
	return f
}

// Failed returns a Future that is already complete with err.
func Failed[T any](err error) *Future[T] {
	if err == nil {
		err = fmt.Errorf("procedure: Failed called with nil error")
	}
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Done is closed when the value is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get waits for the value or for ctx to be done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await implements Deferred.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	v, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}
