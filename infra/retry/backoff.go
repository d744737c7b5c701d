// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"seqlog/domain/replog"
)

type Backoff struct {
	base     time.Duration
	factor   float64
	max      time.Duration
	maxTries int
	attempt  int
}

// NewBackoff waits base, base*factor, base*factor^2, ... capped at max.
// maxTries <= 0 retries forever.
func NewBackoff(base time.Duration, factor float64, max time.Duration, maxTries int) *Backoff {
	return &Backoff{base: base, factor: factor, max: max, maxTries: maxTries}
}

func (b *Backoff) Next() (time.Duration, bool) {
	if b.maxTries > 0 && b.attempt >= b.maxTries {
		return 0, false
	}
	d := float64(b.base) * math.Pow(b.factor, float64(b.attempt))
	b.attempt++
	if d > float64(b.max) {
		return b.max, true
	}
	return time.Duration(d), true
}

func (b *Backoff) Reset() { b.attempt = 0 }

// Do calls fn until it succeeds. It gives up on a fatal protocol error,
// when ctx is done, or when b runs out of tries, returning the last error.
func Do(ctx context.Context, b *Backoff, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil || replog.IsFatal(err) {
			return err
		}
		wait, ok := b.Next()
		if !ok {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
