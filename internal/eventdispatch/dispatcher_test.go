package eventdispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher[string](10, nil)

	if d.events == nil {
		t.Error("events channel should be initialized")
	}
	if d.IsClosed() {
		t.Error("dispatcher should not be closed initially")
	}
}

func TestDispatcher_Emit(t *testing.T) {
	d := NewDispatcher[string](10, nil)
	defer d.Close()

	if !d.Emit("client/ready") {
		t.Fatal("Emit() = false on empty buffer")
	}

	select {
	case evt := <-d.Events():
		if evt != "client/ready" {
			t.Errorf("event = %q, want client/ready", evt)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("did not receive event")
	}
}

func TestDispatcher_FullBufferDrops(t *testing.T) {
	var drops atomic.Int32
	d := NewDispatcher[int](2, func() { drops.Add(1) })
	defer d.Close()

	d.Emit(1)
	d.Emit(2)
	if d.Emit(3) {
		t.Error("Emit() = true on full buffer")
	}
	if drops.Load() != 1 {
		t.Errorf("drops = %d, want 1", drops.Load())
	}

	if got := <-d.Events(); got != 1 {
		t.Errorf("first event = %d, want 1", got)
	}
	if got := <-d.Events(); got != 2 {
		t.Errorf("second event = %d, want 2", got)
	}
}

func TestDispatcher_CloseMultiple(t *testing.T) {
	d := NewDispatcher[int](1, nil)
	d.Close()
	d.Close()

	if !d.IsClosed() {
		t.Error("dispatcher should be closed")
	}
	if _, ok := <-d.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	d := NewDispatcher[int](1, nil)
	d.Close()

	if d.Emit(1) {
		t.Error("Emit() after Close should report false")
	}
}

func TestDispatcher_Concurrent(t *testing.T) {
	d := NewDispatcher[int](1000, nil)
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Emit(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if got := len(d.Events()); got != 500 {
		t.Errorf("queued = %d, want 500", got)
	}
}
