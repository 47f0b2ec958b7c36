// Package config loads the cache and routing configuration from a YAML file
// and QCACHE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-cache-router/query"
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"

	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Pools  []PoolConfig `mapstructure:"pools"`
	Router RouterConfig `mapstructure:"router"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CacheConfig struct {
	// Backend is "local" or "redis".
	Backend           string           `mapstructure:"backend"`
	Redis             RedisConfig      `mapstructure:"redis"`
	Local             LocalConfig      `mapstructure:"local"`
	FallbackCapacity  int              `mapstructure:"fallback_capacity"`
	OriginCapacity    int              `mapstructure:"origin_capacity"`
	RefreshTimeout    time.Duration    `mapstructure:"refresh_timeout"`
	WarmupConcurrency int              `mapstructure:"warmup_concurrency"`
	Breaker           BreakerConfig    `mapstructure:"breaker"`
	Strategies        []StrategyConfig `mapstructure:"strategies"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Prefix      string        `mapstructure:"prefix"`
	ScanCount   int64         `mapstructure:"scan_count"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LocalConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	TTL                time.Duration `mapstructure:"ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests    uint32        `mapstructure:"half_open_requests"`
}

type StrategyConfig struct {
	ID                   string        `mapstructure:"id"`
	TTL                  time.Duration `mapstructure:"ttl"`
	StaleWhileRevalidate time.Duration `mapstructure:"stale_while_revalidate"`
	MaxRetries           int           `mapstructure:"max_retries"`
	WarmupEnabled        bool          `mapstructure:"warmup_enabled"`
	AnalyticsEnabled     bool          `mapstructure:"analytics_enabled"`
}

type PoolConfig struct {
	Name                string        `mapstructure:"name"`
	Role                string        `mapstructure:"role"`
	Driver              string        `mapstructure:"driver"`
	DSN                 string        `mapstructure:"dsn"`
	Priority            int           `mapstructure:"priority"`
	MaxConcurrentReads  int           `mapstructure:"max_concurrent_reads"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	Affinity            []string      `mapstructure:"affinity"`
	MaxOpenConns        int           `mapstructure:"max_open_conns"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `mapstructure:"conn_max_lifetime"`
	Breaker             BreakerConfig `mapstructure:"breaker"`
}

type RouterConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	ProbeOnFailure bool          `mapstructure:"probe_on_failure"`
	Weights        WeightsConfig `mapstructure:"weights"`
}

type WeightsConfig struct {
	AffinityBonus      float64 `mapstructure:"affinity_bonus"`
	LoadPenalty        float64 `mapstructure:"load_penalty"`
	LatencyThresholdMs float64 `mapstructure:"latency_threshold_ms"`
	LatencyPenalty     float64 `mapstructure:"latency_penalty"`
	SystemLoadPenalty  float64 `mapstructure:"system_load_penalty"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Log),
		validation.Field(&c.Cache),
		validation.Field(&c.Pools, validation.By(poolSet)),
		validation.Field(&c.Router),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In(FormatJSON, FormatConsole)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendLocal, BackendRedis)),
		validation.Field(&c.Redis, validation.When(c.Backend == BackendRedis, validation.By(redisRequired))),
		validation.Field(&c.FallbackCapacity, validation.Min(1)),
		validation.Field(&c.OriginCapacity, validation.Min(0)),
		validation.Field(&c.RefreshTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.WarmupConcurrency, validation.Min(0)),
		validation.Field(&c.Strategies, validation.By(uniqueStrategies)),
	)
}

func (c StrategyConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&c.StaleWhileRevalidate, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
}

func (c PoolConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Role, validation.Required, validation.In("primary", "replica")),
		validation.Field(&c.Driver, validation.Required, validation.In("postgres", "sqlite")),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxConcurrentReads, validation.Min(0)),
		validation.Field(&c.Affinity, validation.Each(validation.By(queryType))),
	)
}

func (c RouterConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.BackoffInitial, validation.Min(time.Duration(0))),
		validation.Field(&c.BackoffMax, validation.Min(c.BackoffInitial)),
	)
}

// AffinityTypes parses the configured affinity list.
func (c PoolConfig) AffinityTypes() ([]query.Type, error) {
	out := make([]query.Type, 0, len(c.Affinity))
	for _, s := range c.Affinity {
		t, err := query.ParseType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func redisRequired(v any) error {
	r, _ := v.(RedisConfig)
	if r.URL == "" {
		return errors.New("url is required for the redis backend")
	}
	return nil
}

func queryType(v any) error {
	s, _ := v.(string)
	_, err := query.ParseType(s)
	return err
}

func uniqueStrategies(v any) error {
	strategies, _ := v.([]StrategyConfig)
	seen := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// poolSet requires unique names and exactly one primary when pools exist.
func poolSet(v any) error {
	pools, _ := v.([]PoolConfig)
	if len(pools) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(pools))
	primaries := 0
	for _, p := range pools {
		if seen[p.Name] {
			return fmt.Errorf("duplicate pool %q", p.Name)
		}
		seen[p.Name] = true
		if p.Role == "primary" {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("exactly one primary pool is required, got %d", primaries)
	}
	return nil
}
