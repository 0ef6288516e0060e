package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff yields exponentially growing delays with +/-20% jitter, never
// below minDelay. Safe for concurrent use.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
	mu         sync.Mutex
}

func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		current:    min,
	}
}

// NewReconnectBackoff is the schedule shared by broker, stream and store
// reconnects: 1s doubling up to a minute.
func NewReconnectBackoff() *Backoff {
	return NewBackoff(time.Second, time.Minute, 2.0)
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)
	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

// Wait sleeps for the next delay or until ctx is done
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn until it succeeds or ctx ends. failed is told about every
// error with its 1-based attempt number before the wait. The schedule is
// reset on success.
func (b *Backoff) Retry(ctx context.Context, fn func(context.Context) error, failed func(attempt int, err error)) error {
	for {
		err := fn(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if failed != nil {
			failed(b.Attempts()+1, err)
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
