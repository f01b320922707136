package algorithms

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, sleeping according to s between
// failures. It stops early when retryable reports false for an error or
// when ctx is done, and returns the last error seen.
func Retry(ctx context.Context, attempts int, s Strategy, retryable func(error) bool, fn func(context.Context) error) error {
	attempts = max(attempts, 1)
	if s != nil {
		s.Reset()
	}

	var err error
	for attempt := range attempts {
		if attempt > 0 && s != nil {
			t := time.NewTimer(s.Next(attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return err
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
