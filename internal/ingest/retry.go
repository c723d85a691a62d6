package ingest

import (
	"context"
	"errors"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// withRetry runs fn, retrying with exponential backoff while the error is a
// TransientStorageError. Permanent errors return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	wait := retryBaseWait

	for i := 0; i < retryAttempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		var transient *TransientStorageError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		wait *= 2
	}
	return lastErr
}
