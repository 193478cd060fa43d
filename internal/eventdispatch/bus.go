package eventdispatch

import (
	"sort"
	"sync"
)

// Handler receives events published on a bus topic.
type Handler[T any] func(topic string, evt T)

type delivery[T any] struct {
	topic string
	evt   T
}

// BusOption configures a Bus.
type BusOption func(*busOptions)

type busOptions struct {
	onDrop  func(topic string)
	onPanic func(topic string, recovered any)
}

// WithDropHandler is called when an event is dropped because the queue is full.
func WithDropHandler(fn func(topic string)) BusOption {
	return func(o *busOptions) { o.onDrop = fn }
}

// WithPanicHandler is called when a handler panics. The bus keeps running.
func WithPanicHandler(fn func(topic string, recovered any)) BusOption {
	return func(o *busOptions) { o.onPanic = fn }
}

// Bus delivers events to the handlers subscribed to their topic.
//
// Publish is non-blocking: events are queued and a single worker goroutine
// invokes handlers in publish order. Handlers are looked up when the event
// is delivered, so a handler unsubscribed before delivery never sees it.
type Bus[T any] struct {
	name  string
	opts  busOptions
	queue chan delivery[T]
	done  chan struct{}

	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler[T]
	nextID uint64
	closed bool
}

// NewBus creates a bus and starts its worker.
func NewBus[T any](name string, bufferSize int, opts ...BusOption) *Bus[T] {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus[T]{
		name:  name,
		queue: make(chan delivery[T], bufferSize),
		done:  make(chan struct{}),
		subs:  make(map[string]map[uint64]Handler[T]),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	go b.run()
	return b
}

// Name returns the bus name.
func (b *Bus[T]) Name() string {
	return b.name
}

// Subscribe registers h for topic and returns a handle to remove it.
func (b *Bus[T]) Subscribe(topic string, h Handler[T]) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler[T])
	}
	b.subs[topic][id] = h

	return &Subscription{topic: topic, unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}}
}

// Publish queues evt for topic. It reports false if the bus is closed or
// the queue is full.
func (b *Bus[T]) Publish(topic string, evt T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}
	select {
	case b.queue <- delivery[T]{topic: topic, evt: evt}:
		return true
	default:
		if b.opts.onDrop != nil {
			b.opts.onDrop(topic)
		}
		return false
	}
}

// HasSubscribers reports whether any handler is registered for topic.
func (b *Bus[T]) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) > 0
}

// Topics returns the topics with at least one handler, sorted.
func (b *Bus[T]) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Close stops accepting events, delivers what is already queued and waits
// for the worker to exit. It is safe to call Close multiple times.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus[T]) run() {
	defer close(b.done)
	for d := range b.queue {
		b.deliver(d)
	}
}

func (b *Bus[T]) deliver(d delivery[T]) {
	b.mu.RLock()
	subs := b.subs[d.topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler[T], 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, d)
	}
}

func (b *Bus[T]) invoke(h Handler[T], d delivery[T]) {
	defer func() {
		if r := recover(); r != nil && b.opts.onPanic != nil {
			b.opts.onPanic(d.topic, r)
		}
	}()
	h(d.topic, d.evt)
}

// Subscription is a handle to one bus registration.
type Subscription struct {
	topic       string
	once        sync.Once
	unsubscribe func()
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the handler. Later calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}
