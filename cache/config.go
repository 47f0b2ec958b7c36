package cache

import (
	"time"

	"github.com/goliatone/go-cache-router/internal/cacheinfra"
)

// LocalConfig exposes the in-process backend options.
type LocalConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// RedisConfig exposes the Redis backend options.
type RedisConfig struct {
	URL         string
	Prefix      string
	ScanCount   int64
	DialTimeout time.Duration
}

// BreakerConfig controls when the Manager stops calling a failing backend.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultLocalConfig returns a LocalConfig populated with sensible defaults.
func DefaultLocalConfig() LocalConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	b := cacheinfra.DefaultBreakerConfig()
	return BreakerConfig(b)
}

// Validate checks whether the configuration values are valid.
func (c LocalConfig) Validate() error {
	return c.toInternal().Validate()
}

// Validate checks whether the configuration values are valid.
func (c RedisConfig) Validate() error {
	return c.toInternal().Validate()
}

// NewLocalBackend constructs the sturdyc backed in-process backend.
func NewLocalBackend(cfg LocalConfig) (Backend, error) {
	b, err := cacheinfra.NewLocalBackend(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewRedisBackend constructs the Redis backend.
func NewRedisBackend(cfg RedisConfig) (Backend, error) {
	b, err := cacheinfra.NewRedisBackend(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (c LocalConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func (c RedisConfig) toInternal() cacheinfra.RedisConfig {
	return cacheinfra.RedisConfig{
		URL:         c.URL,
		Prefix:      c.Prefix,
		ScanCount:   c.ScanCount,
		DialTimeout: c.DialTimeout,
	}
}

func (c BreakerConfig) toInternal() cacheinfra.BreakerConfig {
	return cacheinfra.BreakerConfig(c)
}

func convertFromInternal(cfg cacheinfra.Config) LocalConfig {
	return LocalConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
