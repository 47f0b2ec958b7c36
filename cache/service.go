package cache

import (
	"context"
	"errors"
	"fmt"
)

// FetchFn loads a value from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Get returns the cached value for key. A stale value is returned and a
// background refresh is started when the key has a registered origin.
// The error is non-nil only for an unknown strategy or an undecodable entry.
func Get[T any](ctx context.Context, m *Manager, key string, strategy StrategyID) (T, bool, error) {
	var zero T
	e, err := GetEntry[T](ctx, m, key, strategy)
	if errors.Is(err, ErrCacheMiss) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return e.Data, true, nil
}

// GetEntry is Get returning the full Entry, or ErrCacheMiss.
func GetEntry[T any](ctx context.Context, m *Manager, key string, strategy StrategyID) (Entry[T], error) {
	s, err := m.strategy(strategy)
	if err != nil {
		return Entry[T]{}, err
	}
	env, ok := m.get(ctx, key, s)
	if !ok {
		return Entry[T]{}, ErrCacheMiss
	}
	e, err := decodeEntry[T](env)
	if err != nil {
		return Entry[T]{}, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return e, nil
}

// Set stores value under key. Backend failures are absorbed; the error is
// non-nil only for an unknown strategy or a value that cannot be encoded.
func Set[T any](ctx context.Context, m *Manager, key string, value T, strategy StrategyID, metadata map[string]any) error {
	s, err := m.strategy(strategy)
	if err != nil {
		return err
	}
	return m.set(ctx, key, value, s, metadata)
}

// GetOrSet returns the cached value for key, calling fetch on a miss. A
// stale value is returned immediately while one shared background refresh
// runs. Concurrent misses for the same key share a single fetch. The only
// errors are those returned by fetch, ctx cancellation and an unknown strategy.
func GetOrSet[T any](ctx context.Context, m *Manager, key string, strategy StrategyID, fetch FetchFn[T]) (T, error) {
	var zero T
	s, err := m.strategy(strategy)
	if err != nil {
		return zero, err
	}

	res, err := m.getOrSet(ctx, key, s, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}

	if v, ok := res.value.(T); ok {
		return v, nil
	}
	e, err := decodeEntry[T](res.env)
	if err != nil {
		return zero, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return e.Data, nil
}
