package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a reusable retry configuration: bounded attempts with capped
// exponential backoff. The zero value is not usable; construct with New.
type Policy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func New(maxAttempts int, initialBackoff, maxBackoff time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}

	return fmt.Errorf("after %d attempts: %w", p.maxAttempts, err)
}

// Backoff returns the delay to wait after the given attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > p.maxBackoff {
		backoff = p.maxBackoff
	}
	return backoff
}
