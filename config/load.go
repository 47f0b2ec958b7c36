package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, for example
// QCACHE_CACHE_REDIS_URL for cache.redis.url.
const EnvPrefix = "QCACHE"

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static and always decode
		panic(err)
	}
	return cfg
}

// Load reads path (YAML) when non-empty, applies environment overrides and
// validates the result. Durations use Go syntax such as "300s" or "5m".
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", FormatJSON)

	v.SetDefault("cache.backend", BackendLocal)
	v.SetDefault("cache.redis.url", "")
	v.SetDefault("cache.redis.prefix", "qcache:")
	v.SetDefault("cache.redis.scan_count", 100)
	v.SetDefault("cache.redis.dial_timeout", 5*time.Second)
	v.SetDefault("cache.local.capacity", 10000)
	v.SetDefault("cache.local.num_shards", 10)
	v.SetDefault("cache.local.ttl", 75*time.Minute)
	v.SetDefault("cache.local.eviction_percentage", 10)
	v.SetDefault("cache.local.eviction_interval", time.Duration(0))
	v.SetDefault("cache.fallback_capacity", 1000)
	v.SetDefault("cache.origin_capacity", 0)
	v.SetDefault("cache.refresh_timeout", 30*time.Second)
	v.SetDefault("cache.warmup_concurrency", 8)
	v.SetDefault("cache.breaker.consecutive_failures", 5)
	v.SetDefault("cache.breaker.open_timeout", 10*time.Second)
	v.SetDefault("cache.breaker.half_open_requests", 1)

	v.SetDefault("router.timeout", 5*time.Second)
	v.SetDefault("router.max_retries", 2)
	v.SetDefault("router.backoff_initial", 50*time.Millisecond)
	v.SetDefault("router.backoff_max", time.Second)
	v.SetDefault("router.probe_on_failure", true)
	v.SetDefault("router.weights.affinity_bonus", 5.0)
	v.SetDefault("router.weights.load_penalty", 10.0)
	v.SetDefault("router.weights.latency_threshold_ms", 200.0)
	v.SetDefault("router.weights.latency_penalty", 3.0)
	v.SetDefault("router.weights.system_load_penalty", 5.0)
}
