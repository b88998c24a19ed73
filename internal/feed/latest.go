// Package feed provides the coalescing subscription primitive used by every
// live store: consumers always receive the newest full value, and
// intermediate values may be dropped.
package feed

import (
	"context"
	"sync"
	"time"
)

// Latest is a single-slot stream. Publish never blocks; a value that has not
// been received yet is replaced by the newer one.
type Latest[T any] struct {
	mu     sync.Mutex
	ch     chan T
	done   chan struct{}
	closed bool
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
}

// C returns the receive side. It is closed after Close.
func (l *Latest[T]) C() <-chan T {
	return l.ch
}

// Done is closed when the stream is closed.
func (l *Latest[T]) Done() <-chan struct{} {
	return l.done
}

func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

// Close is idempotent.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
	close(l.ch)
}

// Poll turns a fetch function into a Latest stream for stores without push
// support. A value is published on the first successful fetch and whenever
// it differs from the last published one. Fetch errors are reported through
// onErr and polling continues. The stream closes when ctx is done.
func Poll[T any](ctx context.Context, interval time.Duration, fetch func(context.Context) (T, error), equal func(a, b T) bool, onErr func(error)) *Latest[T] {
	out := NewLatest[T]()
	go func() {
		defer out.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last T
		have := false
		for {
			v, err := fetch(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			case !have || !equal(last, v):
				last, have = v, true
				out.Publish(v)
			}

			select {
			case <-ctx.Done():
				return
			case <-out.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
