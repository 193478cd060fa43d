// Package eventdispatch provides the in-process event plumbing: a
// non-blocking buffered Dispatcher for application-facing event streams and
// a topic-keyed Bus whose subscriptions can be individually removed.
package eventdispatch

import (
	"sync"
)

// Dispatcher emits events to a buffered channel.
// Sends never block; if the channel is full the event is dropped and the
// drop callback, if any, is invoked.
type Dispatcher[T any] struct {
	events chan T
	onDrop func()
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given buffer size. onDrop may
// be nil.
func NewDispatcher[T any](bufferSize int, onDrop func()) *Dispatcher[T] {
	return &Dispatcher[T]{
		events: make(chan T, bufferSize),
		onDrop: onDrop,
	}
}

// Emit sends evt without blocking. It reports whether the event was queued.
func (d *Dispatcher[T]) Emit(evt T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	select {
	case d.events <- evt:
		return true
	default:
		if d.onDrop != nil {
			d.onDrop()
		}
		return false
	}
}

// Events returns the channel to consume. It is closed by Close.
func (d *Dispatcher[T]) Events() <-chan T {
	return d.events
}

// Close closes the events channel. It is safe to call Close multiple times.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.events)
	}
}

// IsClosed returns true if the dispatcher has been closed.
func (d *Dispatcher[T]) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
