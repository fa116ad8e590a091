// Package backoff provides exponential delay calculation with jitter,
// used to rate-limit reconnect attempts and probe retries.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// maxShift bounds the exponent so the shift below cannot overflow int64.
const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection.
// Negative attempts are treated as 0; a non-positive base returns 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt

	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay). Randomness comes from
// crypto/rand; if the entropy source fails, the midpoint is returned so the
// caller never stalls waiting for jitter.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return delay / 2
	}

	return time.Duration(n.Int64())
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt),
// the "Full Jitter" strategy.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// SleepWithContext sleeps for the given duration or until the context is
// done, whichever comes first. Zero or negative durations return immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
