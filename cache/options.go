package cache

import (
	"time"

	"go.uber.org/zap"
)

type managerOptions struct {
	logger            *zap.Logger
	recorder          Recorder
	now               func() time.Time
	fallbackCapacity  int
	originCapacity    int
	refreshTimeout    time.Duration
	retryBase         time.Duration
	breaker           BreakerConfig
	warmupConcurrency int
}

func defaultManagerOptions() managerOptions {
	return managerOptions{
		logger:            zap.NewNop(),
		recorder:          nopRecorder{},
		now:               time.Now,
		fallbackCapacity:  1000,
		refreshTimeout:    30 * time.Second,
		retryBase:         100 * time.Millisecond,
		breaker:           DefaultBreakerConfig(),
		warmupConcurrency: 8,
	}
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithLogger sets the logger. The Manager logs under the "cache" name.
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the observer for cache operations.
func WithRecorder(r Recorder) Option {
	return func(o *managerOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock replaces the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFallbackCapacity caps the in-process fallback tier.
func WithFallbackCapacity(n int) Option {
	return func(o *managerOptions) { o.fallbackCapacity = n }
}

// WithOriginCapacity caps how many keys keep their fetch function for
// background refreshes. It defaults to the fallback capacity; the least
// recently used origin is forgotten first.
func WithOriginCapacity(n int) Option {
	return func(o *managerOptions) { o.originCapacity = n }
}

// WithRefreshTimeout bounds each fetch, sync or background.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// WithRetryBackoff sets the initial delay between fetch retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *managerOptions) {
		if d > 0 {
			o.retryBase = d
		}
	}
}

// WithBackendBreaker configures the circuit breaker around the backend.
func WithBackendBreaker(cfg BreakerConfig) Option {
	return func(o *managerOptions) { o.breaker = cfg }
}

// WithWarmupConcurrency limits how many warmup fetches run at once.
func WithWarmupConcurrency(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.warmupConcurrency = n
		}
	}
}
