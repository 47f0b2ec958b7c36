package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-cache-router/internal/cacheinfra"
)

type loader func(ctx context.Context) (any, error)

// origin is the fetch last used for a key, kept so a stale Get can refresh.
type origin struct {
	strategy StrategyID
	load     loader
}

type backendFailure struct {
	err error
	at  time.Time
}

// flight tracks one running fetchAndStore. Invalidate marks it so its
// result is returned to callers but never stored.
type flight struct {
	mu          sync.Mutex
	invalidated bool
}

// flightResult is what a single fetch hands to every caller sharing it.
// value is the fetched value as returned by the loader; env is its stored
// form and is empty only when the value could not be encoded.
type flightResult struct {
	value any
	env   envelope
}

// Manager is a two tier read-through cache. The shared Backend is consulted
// first and the bounded in-process fallback second. Backend failures are
// logged and absorbed, never returned.
type Manager struct {
	id         string
	backend    *cacheinfra.GuardedStore
	fallback   *cacheinfra.Fallback[envelope]
	strategies StrategySet
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time

	refreshTimeout    time.Duration
	retryBase         time.Duration
	warmupConcurrency int

	flights   singleflight.Group
	running   *xsync.MapOf[string, *flight]
	origins   *lru.Cache[string, origin]
	scheduled *lru.Cache[string, int64]
	schedMu   sync.Mutex
	refreshes sync.WaitGroup
	inflight  atomic.Int64
	lastErr   atomic.Pointer[backendFailure]

	lifeMu    sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// ttlBounded is implemented by backends that cannot keep an entry longer
// than a fixed duration.
type ttlBounded interface {
	MaxTTL() time.Duration
}

// NewManager builds a Manager over backend using the given strategies.
func NewManager(backend Backend, strategies StrategySet, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, &ConfigError{Field: "Backend", Message: "cannot be nil"}
	}
	if len(strategies.order) == 0 {
		return nil, &ConfigError{Field: "Strategies", Message: "at least one strategy is required"}
	}

	if b, ok := backend.(ttlBounded); ok && b.MaxTTL() < strategies.MaxWindow() {
		return nil, &ConfigError{
			Field:   "Backend",
			Message: fmt.Sprintf("entry ttl %s is shorter than the longest strategy window %s", b.MaxTTL(), strategies.MaxWindow()),
		}
	}

	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fallback, err := cacheinfra.NewFallback[envelope](o.fallbackCapacity)
	if err != nil {
		return nil, err
	}
	originCap := o.originCapacity
	if originCap <= 0 {
		originCap = o.fallbackCapacity
	}
	origins, err := lru.New[string, origin](originCap)
	if err != nil {
		return nil, err
	}
	scheduled, err := lru.New[string, int64](originCap)
	if err != nil {
		return nil, err
	}

	logger := o.logger.Named("cache")
	m := &Manager{
		id:                uuid.NewString(),
		fallback:          fallback,
		strategies:        strategies,
		recorder:          o.recorder,
		logger:            logger,
		now:               o.now,
		refreshTimeout:    o.refreshTimeout,
		retryBase:         o.retryBase,
		warmupConcurrency: o.warmupConcurrency,
		running:           xsync.NewMapOf[string, *flight](),
		origins:           origins,
		scheduled:         scheduled,
	}
	m.backend = cacheinfra.NewGuardedStore(backend, o.breaker.toInternal(), func(from, to string) {
		logger.Warn("cache backend breaker changed state", zap.String("from", from), zap.String("to", to))
	})
	return m, nil
}

// ID identifies this Manager as the writer in entry metadata.
func (m *Manager) ID() string { return m.id }

// Strategies returns the strategy set the Manager was built with.
func (m *Manager) Strategies() StrategySet { return m.strategies }

func (m *Manager) strategy(id StrategyID) (Strategy, error) {
	return m.strategies.Get(id)
}

// lookup returns the first non-expired entry for key, backend first.
func (m *Manager) lookup(ctx context.Context, key string, s Strategy) (envelope, Freshness, bool) {
	now := m.now()

	if env, ok := m.readBackend(ctx, key); ok {
		if fr := s.Freshness(env.CreatedAt, now); fr != Expired {
			m.fallback.Put(key, env, s.ExpiredAt(env.CreatedAt), now)
			return env, fr, true
		}
	}

	if env, ok := m.fallback.Get(key, now); ok {
		if fr := s.Freshness(env.CreatedAt, now); fr != Expired {
			return env, fr, true
		}
		m.fallback.Remove(key)
	}

	return envelope{}, Expired, false
}

func (m *Manager) readBackend(ctx context.Context, key string) (envelope, bool) {
	raw, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.backendFailed("get", key, err)
		return envelope{}, false
	}
	if !ok {
		return envelope{}, false
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		m.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return envelope{}, false
	}
	return env, true
}

func (m *Manager) backendFailed(op, key string, err error) {
	m.lastErr.Store(&backendFailure{
		err: fmt.Errorf("%w: %s %q: %v", ErrBackendUnavailable, op, key, err),
		at:  m.now(),
	})
	if cacheinfra.IsBreakerOpen(err) {
		m.logger.Debug("cache backend skipped, breaker open", zap.String("op", op), zap.String("key", key))
		return
	}
	m.logger.Warn("cache backend call failed, using fallback tier",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func (m *Manager) record(key string, s Strategy, outcome Outcome, start time.Time) {
	if !s.AnalyticsEnabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cache recorder panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	m.recorder.Record(key, s.ID, outcome, time.Since(start))
}

func (m *Manager) get(ctx context.Context, key string, s Strategy) (envelope, bool) {
	start := time.Now()
	env, fr, ok := m.lookup(ctx, key, s)
	switch {
	case !ok:
		m.record(key, s, OutcomeMiss, start)
		return envelope{}, false
	case fr == Stale:
		m.record(key, s, OutcomeStale, start)
		m.scheduleRefresh(ctx, key, s, env, nil)
	default:
		m.record(key, s, OutcomeHit, start)
	}
	return env, true
}

func (m *Manager) set(ctx context.Context, key string, value any, s Strategy, metadata map[string]any) error {
	_, err := m.store(ctx, key, value, s, metadata)
	return err
}

// store writes value to the backend with the full strategy window as TTL and
// always to the fallback tier, whatever the backend outcome.
func (m *Manager) store(ctx context.Context, key string, value any, s Strategy, metadata map[string]any) (envelope, error) {
	meta := copyMetadata(metadata)
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta[MetadataWriter] = m.id

	now := m.now()
	env, err := newEnvelope(value, s.ID, now, meta)
	if err != nil {
		return envelope{}, fmt.Errorf("cache: encode value for %q: %w", key, err)
	}
	raw, err := env.encode()
	if err != nil {
		return envelope{}, fmt.Errorf("cache: encode entry for %q: %w", key, err)
	}

	if err := m.backend.Set(ctx, key, raw, s.Window()); err != nil {
		m.backendFailed("set", key, err)
	}
	m.fallback.Put(key, env, s.ExpiredAt(now), now)
	return env, nil
}

func (m *Manager) getOrSet(ctx context.Context, key string, s Strategy, load loader) (flightResult, error) {
	m.origins.Add(key, origin{strategy: s.ID, load: load})

	start := time.Now()
	env, fr, ok := m.lookup(ctx, key, s)
	if ok {
		if fr == Stale {
			m.record(key, s, OutcomeStale, start)
			m.scheduleRefresh(ctx, key, s, env, load)
		} else {
			m.record(key, s, OutcomeHit, start)
		}
		return flightResult{env: env}, nil
	}

	m.record(key, s, OutcomeMiss, start)
	res, err := m.loadSync(ctx, key, s, load)
	if err != nil {
		m.record(key, s, OutcomeError, start)
		return flightResult{}, err
	}
	return res, nil
}

// loadSync fetches key, sharing the fetch with any other caller already
// loading or refreshing it. The fetch itself is detached from ctx so one
// caller giving up does not fail the others.
func (m *Manager) loadSync(ctx context.Context, key string, s Strategy, load loader) (flightResult, error) {
	base := context.WithoutCancel(ctx)

	if !m.track() {
		// Closed: fetch for this caller only, nothing is stored.
		value, err := m.fetch(ctx, s, load)
		if err != nil {
			return flightResult{}, err
		}
		return flightResult{value: value}, nil
	}
	ch := m.flights.DoChan(key, func() (any, error) {
		return m.fetchAndStore(base, key, s, load)
	})

	select {
	case res := <-ch:
		m.refreshes.Done()
		if res.Err != nil {
			return flightResult{}, res.Err
		}
		return res.Val.(flightResult), nil
	case <-ctx.Done():
		go func() {
			<-ch
			m.refreshes.Done()
		}()
		return flightResult{}, ctx.Err()
	}
}

// scheduleRefresh starts one background refresh per entry generation. Later
// stale reads of the same generation join nothing and return immediately.
func (m *Manager) scheduleRefresh(ctx context.Context, key string, s Strategy, env envelope, load loader) {
	if load == nil {
		o, ok := m.origins.Get(key)
		if !ok {
			m.logger.Debug("stale entry has no registered origin", zap.String("key", key))
			return
		}
		load = o.load
	}

	generation := env.CreatedAt.UnixNano()
	m.schedMu.Lock()
	if prev, ok := m.scheduled.Peek(key); ok && prev == generation {
		m.schedMu.Unlock()
		return
	}
	m.scheduled.Add(key, generation)
	m.schedMu.Unlock()

	if !m.track() {
		return
	}
	base := context.WithoutCancel(ctx)
	m.inflight.Add(1)
	ch := m.flights.DoChan(key, func() (any, error) {
		return m.fetchAndStore(base, key, s, load)
	})

	go func() {
		defer m.refreshes.Done()
		defer m.inflight.Add(-1)

		res := <-ch
		if res.Err != nil {
			m.logger.Warn("background refresh failed, stale value kept",
				zap.String("key", key),
				zap.String("strategy", string(s.ID)),
				zap.Error(res.Err),
			)
			return
		}
		// Only a successful refresh releases its claim, so a failed one is
		// not retried on every stale read of the same generation.
		m.schedMu.Lock()
		if prev, ok := m.scheduled.Peek(key); ok && prev == generation {
			m.scheduled.Remove(key)
		}
		m.schedMu.Unlock()
		m.logger.Debug("background refresh stored", zap.String("key", key))
	}()
}

// track registers a fetch with Close. It reports false once Close started.
func (m *Manager) track() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return false
	}
	m.refreshes.Add(1)
	return true
}

func (m *Manager) fetchAndStore(base context.Context, key string, s Strategy, load loader) (any, error) {
	ctx, cancel := context.WithTimeout(base, m.refreshTimeout)
	defer cancel()

	f := &flight{}
	m.running.Store(key, f)
	defer m.running.Compute(key, func(cur *flight, loaded bool) (*flight, bool) {
		return cur, loaded && cur == f
	})

	value, err := m.fetch(ctx, s, load)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalidated {
		m.logger.Debug("fetch finished after invalidation, not stored", zap.String("key", key))
		return flightResult{value: value}, nil
	}
	env, err := m.store(ctx, key, value, s, nil)
	if err != nil {
		m.logger.Error("fetched value not cached", zap.String("key", key), zap.Error(err))
		return flightResult{value: value}, nil
	}
	return flightResult{value: value, env: env}, nil
}

// fetch calls load, retrying up to s.MaxRetries times with exponential backoff.
func (m *Manager) fetch(ctx context.Context, s Strategy, load loader) (any, error) {
	op := func() (any, error) { return safeLoad(ctx, load) }
	if s.MaxRetries <= 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryBase
	b.MaxInterval = 10 * m.retryBase

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.MaxRetries)+1),
	)
}

func safeLoad(ctx context.Context, load loader) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: fetch panicked: %v", r)
		}
	}()
	return load(ctx)
}

// Invalidate removes every entry matching pattern from both tiers and
// returns how many distinct keys were removed. Pattern is an exact key, a
// prefix ending in '*', or a glob. Backend failures are logged and the
// fallback tier is still cleared.
func (m *Manager) Invalidate(ctx context.Context, pattern string) int {
	matcher, err := cacheinfra.CompileMatcher(pattern)
	if err != nil {
		m.logger.Warn("invalid invalidation pattern", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}

	// Flights are marked before the tiers are cleared so a result stored
	// before the mark is removed below and one finishing after it is dropped.
	m.running.Range(func(k string, f *flight) bool {
		if matcher.Match(k) {
			f.mu.Lock()
			f.invalidated = true
			f.mu.Unlock()
			m.flights.Forget(k)
		}
		return true
	})

	removed := make(map[string]struct{})

	if cacheinfra.KindOf(pattern) == cacheinfra.PatternExact {
		ok, err := m.backend.Delete(ctx, pattern)
		if err != nil {
			m.backendFailed("delete", pattern, err)
		} else if ok {
			removed[pattern] = struct{}{}
		}
		if m.fallback.Remove(pattern) {
			removed[pattern] = struct{}{}
		}
	} else {
		keys, err := m.backend.DeleteMatching(ctx, pattern)
		if err != nil {
			m.backendFailed("delete-matching", pattern, err)
		}
		for _, k := range keys {
			removed[k] = struct{}{}
		}
		for _, k := range m.fallback.RemoveMatching(matcher) {
			removed[k] = struct{}{}
		}
	}

	for _, k := range m.origins.Keys() {
		if matcher.Match(k) {
			m.origins.Remove(k)
		}
	}
	m.schedMu.Lock()
	for _, k := range m.scheduled.Keys() {
		if matcher.Match(k) {
			m.scheduled.Remove(k)
		}
	}
	m.schedMu.Unlock()

	m.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int("removed", len(removed)))
	return len(removed)
}

// WaitRefreshes blocks until every fetch started so far has finished.
func (m *Manager) WaitRefreshes() {
	m.refreshes.Wait()
}

// Close stops new fetches from being tracked, waits for in-flight ones and
// closes the backend. Later misses are fetched without being cached.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.lifeMu.Lock()
		m.closed = true
		m.lifeMu.Unlock()
		m.refreshes.Wait()
		err = m.backend.Close()
	})
	return err
}
