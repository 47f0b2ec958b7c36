package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed local store.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL bounds how long sturdyc keeps any entry. Per-call TTLs shorter than
	// this are enforced on read. It should be at least the longest strategy
	// window (ttl + stale-while-revalidate).
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                time.Hour + 15*time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

type localItem struct {
	value     []byte
	expiresAt time.Time
}

// LocalBackend is an in-process backend on top of a sturdyc client. It is
// used when no shared store is configured and in tests.
type LocalBackend struct {
	client *sturdyc.Client[localItem]
	ttl    time.Duration
	now    func() time.Time
}

// NewLocalBackend validates cfg and initializes the sturdyc client.
func NewLocalBackend(cfg Config) (*LocalBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[localItem](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &LocalBackend{client: client, ttl: cfg.TTL, now: time.Now}, nil
}

// MaxTTL is the longest time an entry can be kept.
func (b *LocalBackend) MaxTTL() time.Duration { return b.ttl }

// WithClock replaces the time source used to enforce per-entry TTLs.
func (b *LocalBackend) WithClock(now func() time.Time) *LocalBackend {
	b.now = now
	return b
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, ok := b.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !b.now().Before(it.expiresAt) {
		b.client.Delete(key)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set stores value for ttl, capped at the client TTL.
func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > b.ttl {
		ttl = b.ttl
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	b.client.Set(key, localItem{value: buf, expiresAt: b.now().Add(ttl)})
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) (bool, error) {
	_, ok := b.client.Get(key)
	b.client.Delete(key)
	return ok, nil
}

// DeleteMatching removes every key selected by pattern and returns them.
func (b *LocalBackend) DeleteMatching(_ context.Context, pattern string) ([]string, error) {
	m, err := CompileMatcher(pattern)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, key := range b.client.ScanKeys() {
		if m.Match(key) {
			b.client.Delete(key)
			removed = append(removed, key)
		}
	}
	return removed, nil
}

func (b *LocalBackend) Ping(context.Context) error { return nil }

func (b *LocalBackend) Close() error { return nil }

// Size returns the number of entries held by the client.
func (b *LocalBackend) Size() int {
	return b.client.Size()
}
