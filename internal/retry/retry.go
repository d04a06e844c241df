// Package retry calls flaky upstreams (Stripe, OTLP) with exponential
// backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))
}

// PermanentError wraps an error that should not be retried, such as a
// rejected card or a malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it immediately instead of
// retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times. It stops early when fn returns
// nil, when fn returns a *PermanentError, or when ctx is cancelled.
// baseDelay doubles on each retry with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// No sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
	}

	return err
}

// jittered spreads a delay by +-25% so synchronized callers fan out
// instead of retrying in lockstep.
func jittered(delay time.Duration) time.Duration {
	jitter := delay / 4
	return delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
}
