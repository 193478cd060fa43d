package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/cinderlink/pkg/message"
)

type testPlugin struct {
	id       string
	startErr error
	stopErr  error
	panics   bool
	gate     chan struct{}

	starts atomic.Int32
	stops  atomic.Int32

	mu        sync.Mutex
	direct    []string
	broadcast []string
	events    []string
}

func (p *testPlugin) ID() string { return p.id }

func (p *testPlugin) Handlers() Handlers {
	return Handlers{
		Direct: map[string]MessageHandler{
			"chat/message": func(msg *message.Incoming) { p.record(&p.direct, msg.Topic) },
		},
		Broadcast: map[string]MessageHandler{
			"news": func(msg *message.Incoming) { p.record(&p.broadcast, msg.Topic) },
		},
		Lifecycle: map[string]EventHandler{
			message.EventClientReady: func(event string, _ any) { p.record(&p.events, event) },
		},
		PluginEvents: map[string]EventHandler{
			"sync/done": func(event string, _ any) { p.record(&p.events, event) },
		},
	}
}

func (p *testPlugin) Start(context.Context) error {
	p.starts.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.panics {
		panic("boom")
	}
	return p.startErr
}

func (p *testPlugin) Stop(context.Context) error {
	p.stops.Add(1)
	return p.stopErr
}

func (p *testPlugin) record(dst *[]string, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*dst = append(*dst, v)
}

func (p *testPlugin) count(src *[]string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(*src)
}

type recordingSubscriber struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (s *recordingSubscriber) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	return s.err
}

func newTestHost(t *testing.T, cfg Config) (*Host, *recordingSubscriber) {
	t.Helper()
	h := NewHost(cfg)
	sub := &recordingSubscriber{}
	h.SetSubscriber(sub)
	t.Cleanup(h.Close)
	return h, sub
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestRegister_DeferredUntilStartAll(t *testing.T) {
	h, sub := newTestHost(t, Config{})
	p := &testPlugin{id: "chat"}

	require.NoError(t, h.Register(context.Background(), p))
	assert.Zero(t, p.starts.Load())
	state, ok := h.State("chat")
	require.True(t, ok)
	assert.Equal(t, StateRegistered, state)

	require.NoError(t, h.StartAll(context.Background()))
	assert.Equal(t, int32(1), p.starts.Load())
	state, _ = h.State("chat")
	assert.Equal(t, StateStarted, state)
	assert.Equal(t, []string{"news"}, sub.topics)

	// Registering while running starts at once.
	q := &testPlugin{id: "other"}
	require.NoError(t, h.Register(context.Background(), q))
	assert.Equal(t, int32(1), q.starts.Load())
	assert.Equal(t, []string{"chat", "other"}, h.IDs())
}

func TestHandlersReceiveEvents(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	p := &testPlugin{id: "chat"}
	require.NoError(t, h.Register(context.Background(), p))
	require.NoError(t, h.StartAll(context.Background()))

	h.DispatchDirect(&message.Incoming{Topic: "chat/message"})
	h.DispatchDirect(&message.Incoming{Topic: "unhandled"})
	h.DispatchBroadcast(&message.Incoming{Topic: "news"})
	h.EmitLifecycle(message.EventClientReady, nil)
	h.EmitPluginEvent("sync/done", 3)

	require.Eventually(t, func() bool {
		return p.count(&p.direct) == 1 && p.count(&p.broadcast) == 1 && p.count(&p.events) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStartFailure_IsolatedAndUnbound(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	good := &testPlugin{id: "good"}
	require.NoError(t, h.Register(context.Background(), good))
	require.NoError(t, h.StartAll(context.Background()))

	bad := &testPlugin{id: "bad", startErr: errors.New("no database")}
	err := h.Register(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")

	assert.False(t, h.HasPlugin("bad"))
	assert.True(t, h.HasPlugin("good"))
	state, _ := h.State("good")
	assert.Equal(t, StateStarted, state)
	assert.Zero(t, good.stops.Load())

	h.DispatchDirect(&message.Incoming{Topic: "chat/message"})
	require.Eventually(t, func() bool { return good.count(&good.direct) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, bad.count(&bad.direct))
}

func TestStartPanic_TreatedAsFailure(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	p := &testPlugin{id: "panicky", panics: true}
	require.NoError(t, h.Register(context.Background(), p))

	err := h.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.False(t, h.HasPlugin("panicky"))
}

func TestStartPlugin_BroadcastSubscribeFailure(t *testing.T) {
	h, sub := newTestHost(t, Config{})
	sub.err = errors.New("pubsub down")
	p := &testPlugin{id: "chat"}
	require.NoError(t, h.Register(context.Background(), p))

	err := h.StartPlugin(context.Background(), "chat")
	require.Error(t, err)
	assert.Zero(t, p.starts.Load())
	assert.False(t, h.HasPlugin("chat"))

	assert.ErrorIs(t, h.StartPlugin(context.Background(), "chat"), ErrPluginNotFound)
}

func TestRegister_ReplacePolicy(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	first := &testPlugin{id: "chat"}
	require.NoError(t, h.Register(context.Background(), first))
	require.NoError(t, h.StartAll(context.Background()))

	second := &testPlugin{id: "chat"}
	require.NoError(t, h.Register(context.Background(), second))
	assert.Equal(t, int32(1), first.stops.Load())
	assert.Equal(t, int32(1), second.starts.Load())

	got, ok := h.Plugin("chat")
	require.True(t, ok)
	assert.Same(t, second, got)

	h.DispatchDirect(&message.Incoming{Topic: "chat/message"})
	require.Eventually(t, func() bool { return second.count(&second.direct) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, first.count(&first.direct))
	assert.Equal(t, []string{"chat"}, h.IDs())
}

func TestRegister_ReplaceWhileStarting(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	require.NoError(t, h.StartAll(context.Background()))

	first := &testPlugin{id: "chat", gate: make(chan struct{})}
	firstErr := make(chan error, 1)
	go func() { firstErr <- h.Register(context.Background(), first) }()
	require.Eventually(t, func() bool { return first.starts.Load() == 1 }, time.Second, time.Millisecond)

	second := &testPlugin{id: "chat"}
	require.NoError(t, h.Register(context.Background(), second))
	assert.Zero(t, first.stops.Load())

	close(first.gate)
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, ErrPluginReplaced)
	case <-time.After(time.Second):
		t.Fatal("first registration did not return")
	}
	assert.Equal(t, int32(1), first.stops.Load())

	state, ok := h.State("chat")
	require.True(t, ok)
	assert.Equal(t, StateStarted, state)
	got, _ := h.Plugin("chat")
	assert.Same(t, second, got)

	h.DispatchDirect(&message.Incoming{Topic: "chat/message"})
	h.EmitPluginEvent("sync/done", nil)
	require.Eventually(t, func() bool {
		return second.count(&second.direct) == 1 && second.count(&second.events) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, first.count(&first.direct))
	assert.Zero(t, first.count(&first.events))
}

func TestRegister_RejectPolicy(t *testing.T) {
	h, _ := newTestHost(t, Config{Policy: PolicyReject})
	require.NoError(t, h.Register(context.Background(), &testPlugin{id: "chat"}))

	err := h.Register(context.Background(), &testPlugin{id: "chat"})
	assert.ErrorIs(t, err, ErrPluginExists)
}

func TestRegister_Invalid(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	assert.ErrorIs(t, h.Register(context.Background(), nil), ErrInvalidPlugin)
	assert.ErrorIs(t, h.Register(context.Background(), &testPlugin{}), ErrInvalidPlugin)
}

func TestStopAll_IsolatesFailures(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	a := &testPlugin{id: "a", stopErr: errors.New("flush failed")}
	b := &testPlugin{id: "b"}
	require.NoError(t, h.Register(context.Background(), a))
	require.NoError(t, h.Register(context.Background(), b))
	require.NoError(t, h.StartAll(context.Background()))

	err := h.StopAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.Equal(t, int32(1), a.stops.Load())
	assert.Equal(t, int32(1), b.stops.Load())

	for _, id := range []string{"a", "b"} {
		state, ok := h.State(id)
		require.True(t, ok)
		assert.Equal(t, StateStopped, state)
	}

	// Stopped plugins are unbound.
	h.EmitLifecycle(message.EventClientReady, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, b.count(&b.events))

	// After StopAll, Register no longer starts immediately.
	c := &testPlugin{id: "c"}
	require.NoError(t, h.Register(context.Background(), c))
	assert.Zero(t, c.starts.Load())
}
