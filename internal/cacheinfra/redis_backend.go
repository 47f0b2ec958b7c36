package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared Redis backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// Prefix namespaces every key written by this process.
	Prefix string
	// ScanCount is the COUNT hint used while scanning for pattern deletes.
	ScanCount int64
	// DialTimeout overrides the client dial timeout when positive.
	DialTimeout time.Duration
}

// Validate checks the Redis configuration.
func (c RedisConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &ConfigError{Field: "URL", Message: "cannot be empty"}
	}
	if c.ScanCount < 0 {
		return &ConfigError{Field: "ScanCount", Message: "must be non-negative"}
	}
	return nil
}

// RedisBackend stores entries in Redis with native expiry.
type RedisBackend struct {
	client    redis.UniversalClient
	prefix    string
	scanCount int64
	owned     bool
}

// NewRedisBackend dials Redis lazily from cfg. The returned backend owns the
// client and closes it on Close.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, &ConfigError{Field: "URL", Message: err.Error()}
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	b := NewRedisBackendFromClient(redis.NewClient(opts), cfg.Prefix, cfg.ScanCount)
	b.owned = true
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client. The caller keeps
// ownership of client.
func NewRedisBackendFromClient(client redis.UniversalClient, prefix string, scanCount int64) *RedisBackend {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisBackend{client: client, prefix: prefix, scanCount: scanCount}
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.key(key), value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteMatching scans the prefix namespace and deletes the keys selected by
// pattern. Matching is done locally so glob semantics are the same as the
// in-process tiers.
func (b *RedisBackend) DeleteMatching(ctx context.Context, pattern string) ([]string, error) {
	m, err := CompileMatcher(pattern)
	if err != nil {
		return nil, err
	}

	match := escapeRedisGlob(b.prefix) + "*"
	if KindOf(pattern) == PatternPrefix {
		match = escapeRedisGlob(b.prefix+strings.TrimSuffix(pattern, "*")) + "*"
	}

	var (
		full    []string
		removed []string
	)
	iter := b.client.Scan(ctx, 0, match, b.scanCount).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), b.prefix)
		if m.Match(k) {
			full = append(full, iter.Val())
			removed = append(removed, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(full) == 0 {
		return nil, nil
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

func escapeRedisGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
