// Package backoff provides exponential delays for retry loops, used by the
// placement path to wait out compare-and-swap conflicts on node records.
package backoff

import (
	"context"
	"time"
)

// Backoff yields an exponentially growing delay capped at a maximum. Not safe
// for concurrent use; each retry loop owns its own instance.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	next       time.Duration
}

// New creates a Backoff starting at initial and growing by multiplier per
// retry up to max.
func New(initial, max time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		next:       initial,
	}
}

// Wait sleeps for the current delay and grows it for the next call. Returns
// ctx.Err() if the context ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.next)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.advance()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) advance() {
	grown := time.Duration(float64(b.next) * b.multiplier)
	if grown > b.max {
		grown = b.max
	}
	b.next = grown
}

// Reset returns the delay to its initial value for a fresh retry sequence.
func (b *Backoff) Reset() {
	b.next = b.initial
}

// CurrentDelay returns the delay the next Wait will sleep for.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.next
}
