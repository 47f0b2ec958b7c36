package replica

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-cache-router/query"
)

// Role tells the router whether a pool accepts writes.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 2 * time.Second
)

// BreakerConfig controls the per pool circuit breaker. A zero
// ConsecutiveFailures disables it.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// PoolConfig describes one backing store.
type PoolConfig struct {
	Name     string
	Role     Role
	Priority int
	// MaxConcurrentReads caps in-flight reads. Zero means unlimited.
	MaxConcurrentReads  int
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	// Affinity lists the query types this pool is preferred for.
	Affinity []query.Type
	Breaker  BreakerConfig
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if c.Breaker.ConsecutiveFailures > 0 {
		if c.Breaker.OpenTimeout <= 0 {
			c.Breaker.OpenTimeout = 30 * time.Second
		}
		if c.Breaker.HalfOpenRequests == 0 {
			c.Breaker.HalfOpenRequests = 1
		}
	}
	return c
}

// Validate checks the configuration before defaults are applied.
func (c PoolConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Role, validation.Required, validation.In(RolePrimary, RoleReplica)),
		validation.Field(&c.MaxConcurrentReads, validation.Min(0)),
		validation.Field(&c.HealthCheckInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.HealthCheckTimeout, validation.Min(time.Duration(0))),
	)
}

// Prefers reports whether t is in the pool's affinity list.
func (c PoolConfig) Prefers(t query.Type) bool {
	for _, a := range c.Affinity {
		if a == t {
			return true
		}
	}
	return false
}
