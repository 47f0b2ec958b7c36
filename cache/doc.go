// Package cache provides a two tier read-through cache with stale while
// revalidate semantics.
//
// # Overview
//
// A Manager sits in front of a shared Backend (Redis or an in-process
// sturdyc client) and a bounded LRU fallback tier that keeps serving when
// the backend is unreachable. Every entry is written under a Strategy that
// decides how long it is fresh and how long a stale copy may still be served:
//
//	fresh:   now < createdAt + TTL
//	stale:   now < createdAt + TTL + StaleWhileRevalidate
//	expired: otherwise
//
// A stale read returns immediately and starts at most one background refresh
// for that entry. Concurrent misses for the same key share a single fetch.
//
// # Basic Usage
//
//	backend, _ := cache.NewLocalBackend(cache.DefaultLocalConfig())
//	m, _ := cache.NewManager(backend, cache.DefaultStrategies(), cache.WithLogger(logger))
//
//	report, err := cache.GetOrSet(ctx, m, "report:daily", cache.Warm, func(ctx context.Context) (Report, error) {
//		return loadReport(ctx)
//	})
//
// # Keys
//
// BuildKey renders "{name}" templates and KeySerializer builds keys from a
// method name and its arguments. Function arguments are rendered by pointer
// and are only stable within one process.
//
// # Errors
//
// Backend failures are logged and absorbed; Health reports the most recent
// one. Only fetch errors, context cancellation, ErrUnknownStrategy and
// encoding failures reach callers.
package cache
