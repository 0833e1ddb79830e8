package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the in-run retry ladder for a single page attempt:
// exponential backoff with additive jitter, bounded by an optional deadline.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. 0 means one attempt, no retries. Default: 3.
	MaxRetries int

	// BaseDelay seeds the schedule: the wait before retry n is
	// BaseDelay * 2^(n-1), capped at MaxDelay. Default: 1500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration. Default: 30s.
	MaxDelay time.Duration

	// JitterFraction adds up to this fraction of the computed delay as
	// random extra wait, so clients that fail in lockstep do not retry in
	// lockstep. Default: 0.25.
	JitterFraction float64

	// Deadline, when non-zero, bounds the retry schedule: no backoff sleep
	// is started that would end past it, so no retry begins after it. The
	// first attempt always runs and no attempt is interrupted in flight.
	Deadline time.Time

	// ShouldRetry optionally overrides the default retryability check.
	// If nil, IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnFirstFailure runs once, after the first failed attempt and before
	// the first retry. The fetch layer hooks resource recycling here.
	OnFirstFailure func(err error)

	// OnRetry is called before each retry sleep with the attempt number
	// (1 for the first retry), the error, and the chosen delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the retry configuration used for listing pages.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      1500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed retryable (via ShouldRetry or the default IsRetryable
// check). Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return zero, lastErr
		}

		// Don't retry non-retryable errors.
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		if attempt == 0 && cfg.OnFirstFailure != nil {
			cfg.OnFirstFailure(lastErr)
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := computeBackoff(attempt+1, cfg)
		if !cfg.Deadline.IsZero() && time.Now().Add(delay).After(cfg.Deadline) {
			// Sleeping would overrun the deadline; give the page up now
			// so the caller can defer it instead.
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// computeBackoff returns the delay before retry n (1-based): doubling from
// BaseDelay, capped at MaxDelay, plus additive jitter.
func computeBackoff(n int, cfg RetryConfig) time.Duration {
	delay := cfg.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}

	if cfg.JitterFraction > 0 {
		delay += time.Duration(rand.Float64() * cfg.JitterFraction * float64(delay))
	}
	return delay
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(operation string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		zap.L().Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
