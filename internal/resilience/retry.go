package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls retry classification and backoff. The zero value is
// not usable; construct with DefaultRetryPolicy and override as needed.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts. ShouldRetry returns false
	// once attempt reaches this value.
	MaxRetries int

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff (before jitter).
	MaxDelay time.Duration

	// JitterFraction spreads delays by ±fraction to avoid thundering-herd
	// retries across subjects sharing a provider.
	JitterFraction float64

	// Sleep is the suspension primitive; injectable so tests run without
	// real timers. Nil means sleep on a timer, honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0,1); injectable for deterministic tests.
	Rand func() float64
}

// DefaultRetryPolicy returns the crawl engine's standard retry behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}
}

// ShouldRetry reports whether a failed call at the given attempt number
// (1-based) should be tried again.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return Retryable(Classify(err))
}

// Delay computes the backoff before retrying after the given attempt
// (1-based): min(MaxDelay, BaseDelay * 2^(attempt-1)) ± jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d += (r()*2 - 1) * d * p.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, exhausts retries, or hits a non-retryable
// error. It returns the number of attempts made and the last error.
// Context cancellation stops retries at the next suspension point.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, lastErr
		}
		if !p.ShouldRetry(lastErr, attempt) {
			return attempt, lastErr
		}

		delay := p.Delay(attempt)
		zap.L().Debug("retrying after backoff",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("class", string(Classify(lastErr))),
			zap.Error(lastErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
