package translate

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// RetryPolicy holds per-chunk retry configuration.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Jitter is the fraction of the computed delay added at random, 0 disables it.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseBackoff: defaultBackoffBase,
		MaxBackoff:  defaultBackoffMax,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBackoffBase
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultBackoffMax
	}
	return p
}

// Backoff calculates the delay before retry number attempt (0-based):
// base * 2^attempt, capped at MaxBackoff, plus jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.BaseBackoff) * math.Pow(2, float64(attempt))

	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * rand.Float64()
		if backoff > float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
		}
	}

	return time.Duration(backoff)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
