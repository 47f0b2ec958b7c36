package cache

import (
	"errors"

	"github.com/goliatone/go-cache-router/internal/cacheinfra"
)

var (
	// ErrBackendUnavailable wraps every backend failure. The Manager absorbs
	// it; it is only visible in logs and Health.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")

	// ErrCacheMiss is returned by GetEntry when the key is absent or expired.
	ErrCacheMiss = errors.New("cache: miss")

	// ErrUnknownStrategy is returned for a strategy id not in the Manager's set.
	ErrUnknownStrategy = errors.New("cache: unknown strategy")

	// ErrInvalidKeyTemplate is returned by BuildKey for malformed templates or
	// missing parameters.
	ErrInvalidKeyTemplate = errors.New("cache: invalid key template")
)

// ConfigError represents a configuration validation error.
type ConfigError = cacheinfra.ConfigError
