package eventdispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handler(prefix string) Handler[string] {
	return func(topic, evt string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, prefix+":"+topic+":"+evt)
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestBus_DeliversByTopic(t *testing.T) {
	b := NewBus[string]("broadcast", 16)
	rec := &recorder{}

	b.Subscribe("a", rec.handler("h1"))
	b.Subscribe("b", rec.handler("h2"))

	require.True(t, b.Publish("a", "1"))
	require.True(t, b.Publish("b", "2"))
	require.True(t, b.Publish("c", "3"))
	b.Close()

	assert.Equal(t, []string{"h1:a:1", "h2:b:2"}, rec.get())
}

func TestBus_SubscriptionOrder(t *testing.T) {
	b := NewBus[string]("lifecycle", 16)
	rec := &recorder{}

	b.Subscribe("t", rec.handler("first"))
	b.Subscribe("t", rec.handler("second"))
	b.Publish("t", "x")
	b.Close()

	assert.Equal(t, []string{"first:t:x", "second:t:x"}, rec.get())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus[string]("direct", 16)
	rec := &recorder{}

	sub := b.Subscribe("t", rec.handler("h"))
	assert.True(t, b.HasSubscribers("t"))
	assert.Equal(t, "t", sub.Topic())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.False(t, b.HasSubscribers("t"))
	assert.Empty(t, b.Topics())

	b.Publish("t", "x")
	b.Close()
	assert.Empty(t, rec.get())
}

func TestBus_UnsubscribedBeforeDeliveryNeverFires(t *testing.T) {
	b := NewBus[string]("direct", 16)
	rec := &recorder{}
	block := make(chan struct{})

	b.Subscribe("slow", func(string, string) { <-block })
	sub := b.Subscribe("t", rec.handler("h"))

	b.Publish("slow", "")
	b.Publish("t", "x")
	sub.Unsubscribe()
	close(block)
	b.Close()

	assert.Empty(t, rec.get())
}

func TestBus_DropWhenFull(t *testing.T) {
	var dropped []string
	var mu sync.Mutex
	block := make(chan struct{})

	b := NewBus[string]("broadcast", 1, WithDropHandler(func(topic string) {
		mu.Lock()
		dropped = append(dropped, topic)
		mu.Unlock()
	}))
	b.Subscribe("t", func(string, string) { <-block })

	require.True(t, b.Publish("t", "1"))
	require.Eventually(t, func() bool { return len(b.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, b.Publish("t", "2"))
	assert.False(t, b.Publish("t", "3"))

	close(block)
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"t"}, dropped)
}

func TestBus_PanicIsolated(t *testing.T) {
	var panics []any
	var mu sync.Mutex
	b := NewBus[string]("plugin", 4, WithPanicHandler(func(_ string, r any) {
		mu.Lock()
		panics = append(panics, r)
		mu.Unlock()
	}))
	rec := &recorder{}

	b.Subscribe("t", func(string, string) { panic("boom") })
	b.Subscribe("t", rec.handler("after"))
	b.Publish("t", "x")
	b.Close()

	assert.Equal(t, []string{"after:t:x"}, rec.get())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"boom"}, panics)
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := NewBus[string]("x", 1)
	b.Close()
	b.Close()
	assert.False(t, b.Publish("t", "x"))
}
