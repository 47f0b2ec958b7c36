package cache

import (
	"context"
	"time"
)

// Health is a point in time snapshot of the Manager for observability.
type Health struct {
	BackendAvailable   bool
	BackendState       string
	LastBackendError   string
	LastBackendErrorAt time.Time
	FallbackSize       int
	FallbackCapacity   int
	FallbackEvictions  uint64
	InFlightRefreshes  int64
	RegisteredOrigins  int
}

// Health pings the backend and reports the state of both tiers.
func (m *Manager) Health(ctx context.Context) Health {
	h := Health{
		BackendState:      m.backend.State(),
		FallbackSize:      m.fallback.Len(),
		FallbackCapacity:  m.fallback.Capacity(),
		FallbackEvictions: m.fallback.Evictions(),
		InFlightRefreshes: m.inflight.Load(),
		RegisteredOrigins: m.origins.Len(),
	}

	if err := m.backend.Ping(ctx); err != nil {
		m.backendFailed("ping", "", err)
	} else {
		h.BackendAvailable = true
	}

	if f := m.lastErr.Load(); f != nil {
		h.LastBackendError = f.err.Error()
		h.LastBackendErrorAt = f.at
	}
	return h
}
