package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Store is the backend contract guarded by GuardedStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteMatching(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// BreakerConfig controls when a failing backend is bypassed.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker. Zero disables the guard.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many calls may probe a half-open breaker.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig trips after five straight failures and retries after 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "cache-backend",
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenRequests:    1,
	}
}

// GuardedStore fails fast with gobreaker.ErrOpenState while the wrapped
// store is considered down.
type GuardedStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

type getResult struct {
	value []byte
	found bool
}

// NewGuardedStore wraps next. onChange, if non-nil, is called on every
// breaker transition while the breaker's lock is held; it must not call back
// into the store.
func NewGuardedStore(next Store, cfg BreakerConfig, onChange func(from, to string)) *GuardedStore {
	threshold := cfg.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onChange(from.String(), to.String())
		}
	}
	return &GuardedStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *GuardedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		v, ok, err := g.next.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := res.(getResult)
	return r.value, r.found, nil
}

func (g *GuardedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (g *GuardedStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Delete(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (g *GuardedStore) DeleteMatching(ctx context.Context, pattern string) ([]string, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.DeleteMatching(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	keys, _ := res.([]string)
	return keys, nil
}

func (g *GuardedStore) Ping(ctx context.Context) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Ping(ctx)
	})
	return err
}

func (g *GuardedStore) Close() error {
	return g.next.Close()
}

// State returns the breaker state name: closed, half-open or open.
func (g *GuardedStore) State() string {
	return g.cb.State().String()
}

// IsBreakerOpen reports whether err was returned without reaching the store
// because the breaker is open or saturated in half-open state.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
