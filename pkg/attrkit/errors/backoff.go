package errors

import (
	"math/rand/v2"
	"time"
)

// BackoffConfig configures exponential backoff between delivery attempts.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay regardless of attempt count.
	MaxDelay time.Duration

	// Factor is the multiplier applied after each attempt.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0) applied to each delay.
	Jitter float64
}

// DefaultBackoff is the standard delivery backoff: 5s doubling up to 5m
// with ±20% jitter. Tuned for flaky mobile network conditions.
var DefaultBackoff = BackoffConfig{
	InitialDelay: 5 * time.Second,
	MaxDelay:     5 * time.Minute,
	Factor:       2.0,
	Jitter:       0.2,
}

// Delay returns the backoff duration before the given retry attempt.
// Attempts are 1-based: Delay(1) is the delay after the first failure.
// The returned delay grows by Factor per attempt, is capped at MaxDelay,
// and has Jitter applied.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.Factor
		if delay >= float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
			break
		}
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	return applyJitter(time.Duration(delay), c.Jitter)
}

// applyJitter returns the delay with jitter applied: base +/- (base * jitter * random).
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
