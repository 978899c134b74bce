package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

// Policy describes how many attempts to make and the base delay between them.
// The delay grows linearly with the attempt number.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. Only transient errors are retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// StaleAttempts bounds how often an optimistic write is reloaded and redone.
const StaleAttempts = 5

// OnStale reruns fn while it fails with STALE_WRITE. fn must reload
// everything it writes on each call.
func OnStale(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= StaleAttempts; attempt++ {
		if err = fn(ctx); !errors.Is(err, apperrors.ErrStaleWrite) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctxErr)
		}
	}
	return err
}
