// Package flow bounds the number of outbound deliveries in flight.
package flow

import (
	"context"
	"errors"
	"sync"
)

// Default watermarks.
const (
	DefaultHigh = 256
	DefaultLow  = 128
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("flow window closed")

// Window admits deliveries until High are in flight, then holds new ones
// until the count drains to Low. Hysteresis keeps a saturated window from
// flapping on every release.
type Window struct {
	mu       sync.Mutex
	high     int
	low      int
	inFlight int
	blocked  bool
	closed   bool

	// drained is closed on every blocked to open transition.
	drained chan struct{}

	onBlocked func()
}

// NewWindow creates a window. Non-positive values get defaults; a low
// watermark at or above high is reset to high/2.
func NewWindow(high, low int) *Window {
	if high <= 0 {
		high = DefaultHigh
	}
	if low <= 0 {
		low = min(DefaultLow, high/2)
	}
	if low >= high {
		low = high / 2
	}
	return &Window{
		high:    high,
		low:     low,
		drained: make(chan struct{}),
	}
}

// OnBlocked sets fn to run, under the window lock, each time the window
// saturates.
func (w *Window) OnBlocked(fn func()) {
	w.mu.Lock()
	w.onBlocked = fn
	w.mu.Unlock()
}

// Acquire takes a slot, waiting while the window is saturated.
func (w *Window) Acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrClosed
		}
		if !w.blocked {
			w.inFlight++
			if w.inFlight >= w.high {
				w.blocked = true
				if w.onBlocked != nil {
					w.onBlocked()
				}
			}
			w.mu.Unlock()
			return nil
		}
		wait := w.drained
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Release returns a slot taken by Acquire.
func (w *Window) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight > 0 {
		w.inFlight--
	}
	if w.blocked && w.inFlight <= w.low {
		w.blocked = false
		close(w.drained)
		w.drained = make(chan struct{})
	}
}

// InFlight returns the number of held slots.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Blocked reports whether Acquire is currently holding callers.
func (w *Window) Blocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked
}

// Close fails current and future Acquire calls.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.blocked {
		w.blocked = false
		close(w.drained)
		w.drained = make(chan struct{})
	}
}
