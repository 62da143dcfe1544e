package tunnel

import (
	"context"
	"sync"
)

// Future is a result that is produced exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}

	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve records the result and wakes every waiter. It panics when called
// a second time.
func (f *Future[T]) resolve(value T, err error) {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		resolved = true
	})
	if !resolved {
		panic("tunnel: future resolved twice")
	}
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Abandoning the
// wait does not cancel the work producing the result.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
