package testutil

import (
	"sync"

	"github.com/blockberries/cinderlink/pkg/message"
)

// LifecycleEvent is an event captured by Recorder.
type LifecycleEvent struct {
	Name    string
	Payload any
}

// Recorder captures dispatched messages and lifecycle events.
type Recorder struct {
	mu        sync.Mutex
	direct    []*message.Incoming
	broadcast []*message.Incoming
	events    []LifecycleEvent
}

// DispatchDirect records a direct message.
func (r *Recorder) DispatchDirect(msg *message.Incoming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = append(r.direct, msg)
}

// DispatchBroadcast records a broadcast message.
func (r *Recorder) DispatchBroadcast(msg *message.Incoming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast = append(r.broadcast, msg)
}

// EmitLifecycle records a lifecycle event.
func (r *Recorder) EmitLifecycle(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, LifecycleEvent{Name: event, Payload: payload})
}

// Direct returns the recorded direct messages.
func (r *Recorder) Direct() []*message.Incoming {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Incoming(nil), r.direct...)
}

// Broadcast returns the recorded broadcast messages.
func (r *Recorder) Broadcast() []*message.Incoming {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Incoming(nil), r.broadcast...)
}

// Events returns the names of recorded lifecycle events in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Count returns how many times event was recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == event {
			n++
		}
	}
	return n
}
