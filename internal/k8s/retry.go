package k8s

import (
	"context"
	"errors"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

const defaultRetryAttempts = 3

// retryBackoff is 100ms, 300ms, 900ms ... capped at 2s.
func retryBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 100 * time.Millisecond,
		Factor:   3,
		Steps:    defaultRetryAttempts,
		Cap:      2 * time.Second,
	}
}

// isRetryable returns true for 5xx and 429 (too many requests).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsTooManyRequests(err) || apierrors.IsInternalError(err) || apierrors.IsServerTimeout(err) {
		return true
	}
	var se *apierrors.StatusError
	return errors.As(err, &se) && se.ErrStatus.Code >= 500
}

// doWithRetryValue runs fn up to maxAttempts times and returns its value.
// Only 5xx/429 are retried; other errors return immediately.
func doWithRetryValue[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	b := retryBackoff()
	for attempt := 0; ; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		if attempt >= maxAttempts-1 || !isRetryable(err) {
			return zero, err
		}
		t := time.NewTimer(b.Step())
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

func doWithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := doWithRetryValue(ctx, maxAttempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
