// Package poll runs fixed-interval polling loops with a hard attempt
// ceiling. No backoff: worst-case latency stays predictable, and a caller
// deadline on the context bounds the whole loop.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without fn reporting done.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Until calls fn every interval until it returns done=true, an error, the
// attempt ceiling is hit, or ctx is cancelled. The first call happens after
// one interval, matching a submit-then-poll flow where the job was just
// created.
func Until(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) (done bool, err error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return ErrExhausted
}
