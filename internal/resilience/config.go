package resilience

import (
	"time"
)

// FromRetryConfig converts raw config values to a RetryConfig, falling back
// to defaults for anything unset.
func FromRetryConfig(maxRetries, baseDelayMs, maxDelayMs int, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	if baseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromBreakerConfig converts raw config values to a BreakerConfig.
func FromBreakerConfig(windowSize int, errorRatio float64) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if windowSize > 0 {
		cfg.WindowSize = windowSize
	}
	if errorRatio > 0 {
		cfg.ErrorRatio = errorRatio
	}
	return cfg
}
