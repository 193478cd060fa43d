package connection

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBackoffCalculator_NextDelay(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)

	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{0, 900 * time.Millisecond, 1100 * time.Millisecond},
		{1, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{2, 3600 * time.Millisecond, 4400 * time.Millisecond},
		{3, 7200 * time.Millisecond, 8800 * time.Millisecond},
		{10, 54 * time.Second, 66 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			delay := bc.NextDelay(tt.attempt)
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("NextDelay(%d) = %v, want between %v and %v",
					tt.attempt, delay, tt.minDelay, tt.maxDelay)
			}
		})
	}
}

func TestBackoffCalculator_NextDelay_NegativeAttempt(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)

	delay := bc.NextDelay(-1)
	if delay < 0 || delay > 2*time.Second {
		t.Errorf("NextDelay(-1) = %v, should treat as attempt 0", delay)
	}
}

func TestBackoffCalculator_ScheduleNext(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)
	b := &DialBackoff{}
	now := time.Unix(1000, 0)

	bc.ScheduleNext(b, now)
	if b.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", b.Attempts)
	}
	if got := b.NextAttempt.Sub(now); got != b.CurrentDelay {
		t.Errorf("NextAttempt offset = %v, want %v", got, b.CurrentDelay)
	}

	bc.ScheduleNext(b, now)
	if b.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 after second schedule", b.Attempts)
	}
	if b.CurrentDelay < 1800*time.Millisecond {
		t.Errorf("second delay %v did not grow", b.CurrentDelay)
	}
}

func TestBackoffCalculator_MaxDelay(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 5*time.Second)

	for attempt := 10; attempt < 20; attempt++ {
		if delay := bc.NextDelay(attempt); delay > 5500*time.Millisecond {
			t.Errorf("NextDelay(%d) = %v, should be capped around 5s", attempt, delay)
		}
	}
}


func TestPeerConnection_FailAndReady(t *testing.T) {
	bc := NewBackoffCalculator(time.Second, time.Minute)
	now := time.Unix(1000, 0)
	pc := NewPeerConnection("peer", now)

	if !pc.ReadyToDial(now) {
		t.Fatal("new connection should be ready to dial")
	}
	if err := pc.TransitionTo(StateConnecting, now); err != nil {
		t.Fatal(err)
	}
	if pc.ReadyToDial(now) {
		t.Error("connecting peer should not be dialed again")
	}

	dialErr := errors.New("refused")
	pc.Fail(dialErr, bc, now)
	if pc.GetState() != StateBackoff {
		t.Errorf("state = %s, want Backoff", pc.GetState())
	}
	if !errors.Is(pc.GetError(), dialErr) {
		t.Errorf("GetError() = %v", pc.GetError())
	}
	if pc.ReadyToDial(now) {
		t.Error("peer in backoff should not be ready immediately")
	}
	if !pc.ReadyToDial(now.Add(2 * time.Second)) {
		t.Error("peer should be ready after its backoff")
	}

	if err := pc.TransitionTo(StateConnected, now); err != nil {
		t.Fatal(err)
	}
	if pc.Backoff != nil || pc.GetError() != nil {
		t.Error("connecting should clear backoff state")
	}
	if err := pc.TransitionTo(StateConnected, now); err != nil {
		t.Errorf("same-state transition should be a no-op: %v", err)
	}
}
