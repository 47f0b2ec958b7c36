package cache

import (
	"context"
	"time"
)

// Backend is the shared key/value tier. Implementations may fail at any
// time; the Manager treats every error as the backend being unavailable.
type Backend interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value with the given time to live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteMatching removes every key matching a prefix or glob pattern and
	// returns the removed keys.
	DeleteMatching(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
