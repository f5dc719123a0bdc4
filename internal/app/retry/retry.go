package retry

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marks a transient storage failure. Store adapters wrap
// network-level errors with it; callers retry against the schedule and then
// surface the wrapped error as retryable.
var ErrStoreUnavailable = errors.New("storage temporarily unavailable")

// DefaultBackoff is used when no schedule is configured.
var DefaultBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// Transient reports whether err should be retried.
func Transient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Do runs fn, retrying transient failures against the backoff schedule. The
// attempt count is bounded by len(backoff)+1; the last error is returned
// unchanged so callers can still classify it.
func Do(ctx context.Context, backoff []time.Duration, fn func() error) error {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !Transient(err) {
			return err
		}
		if attempt >= len(backoff) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff[attempt]):
		}
	}
}
