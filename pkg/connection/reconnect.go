package connection

import (
	"math/rand"
	"time"
)

// DialBackoff tracks failed dial attempts for a peer.
type DialBackoff struct {
	// Attempts is the number of consecutive failed dials.
	Attempts int

	// NextAttempt is the earliest time the sweep dials the peer again.
	NextAttempt time.Time

	// CurrentDelay is the current backoff delay.
	CurrentDelay time.Duration
}

// BackoffCalculator calculates exponential backoff delays with jitter.
type BackoffCalculator struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewBackoffCalculator creates a new backoff calculator.
func NewBackoffCalculator(baseDelay, maxDelay time.Duration) *BackoffCalculator {
	return &BackoffCalculator{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
	}
}

// NextDelay returns BaseDelay * 2^attempt capped at MaxDelay, with ±10%
// jitter.
func (bc *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := bc.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= bc.MaxDelay {
			delay = bc.MaxDelay
			break
		}
	}
	if delay > bc.MaxDelay {
		delay = bc.MaxDelay
	}

	jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	delay += jitter
	if delay < 0 {
		delay = bc.BaseDelay
	}
	return delay
}

// ScheduleNext records a failed attempt at now and sets the next attempt time.
func (bc *BackoffCalculator) ScheduleNext(b *DialBackoff, now time.Time) {
	b.CurrentDelay = bc.NextDelay(b.Attempts)
	b.NextAttempt = now.Add(b.CurrentDelay)
	b.Attempts++
}
