package workerclient

import (
	"context"
	"math"
	"time"
)

// Backoff computes capped exponential delays: initialDelay * 2^(attempt-1),
// clamped to maxDelay.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the wait before attempt (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(b.InitialDelay) * multiplier)
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// Sleep waits for the attempt's delay or ctx cancellation, whichever comes
// first, returning ctx.Err() if cancelled.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	delay := b.Delay(attempt)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
