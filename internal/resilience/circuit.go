package resilience

import (
	"sync"
)

// BreakerConfig controls the sliding-window circuit breaker.
type BreakerConfig struct {
	// WindowSize is the number of most recent page outcomes considered.
	// Default: 8.
	WindowSize int

	// ErrorRatio is the fraction of errors within a full window at which
	// the breaker trips. Default: 0.5.
	ErrorRatio float64
}

// DefaultBreakerConfig returns sensible defaults for the harvest loop.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize: 8,
		ErrorRatio: 0.5,
	}
}

// Breaker tracks the error ratio over the last WindowSize outcomes. It trips
// when the window is full and the ratio meets or exceeds ErrorRatio; a
// sparse window never trips, so a run's first pages cannot abort it.
//
// The breaker holds no clocks and no open/half-open machinery: cooldown
// timing and the abort decision belong to the orchestrator, which resets
// the window after each cooldown. Nothing here is persisted; every run
// starts with a clean window.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	ring     []bool // true = error outcome
	head     int
	observed int
	errors   int
}

// NewBreaker creates a sliding-window breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 8
	}
	if cfg.ErrorRatio <= 0 || cfg.ErrorRatio > 1 {
		cfg.ErrorRatio = 0.5
	}
	return &Breaker{
		cfg:  cfg,
		ring: make([]bool, cfg.WindowSize),
	}
}

// Observe pushes one page outcome into the window, evicting the oldest once
// the window is full.
func (b *Breaker) Observe(failure bool) {
	b.ObserveN(failure, 1)
}

// ObserveN pushes n copies of an outcome. The orchestrator uses n=2 for
// backend-unavailable errors so a struggling backend fills the window about
// twice as fast as flaky transport.
func (b *Breaker) ObserveN(failure bool, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n; i++ {
		if b.observed == len(b.ring) {
			// Evict the slot we are about to overwrite.
			if b.ring[b.head] {
				b.errors--
			}
		} else {
			b.observed++
		}
		b.ring[b.head] = failure
		if failure {
			b.errors++
		}
		b.head = (b.head + 1) % len(b.ring)
	}
}

// Tripped reports whether the window is full and its error ratio has reached
// the configured threshold.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.observed < len(b.ring) {
		return false
	}
	return float64(b.errors) >= b.cfg.ErrorRatio*float64(len(b.ring))
}

// Reset clears the window. The orchestrator calls this after a cooldown so
// the backend gets a fresh chance.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.ring {
		b.ring[i] = false
	}
	b.head = 0
	b.observed = 0
	b.errors = 0
}

// Counters returns the current error count and number of observed outcomes
// for observability.
func (b *Breaker) Counters() (errors, observed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors, b.observed
}
