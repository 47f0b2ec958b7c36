package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/cache"
)

// Analytics is a snapshot of the recorded operations for one key.
type Analytics struct {
	Key          string
	Strategy     cache.StrategyID
	Hits         uint64
	Stale        uint64
	Misses       uint64
	Errors       uint64
	AvgLatency   time.Duration
	HitRatePct   float64
	LastAccessed time.Time
}

// AvgLatencyMs is the rolling average latency in milliseconds.
func (a Analytics) AvgLatencyMs() float64 {
	return float64(a.AvgLatency) / float64(time.Millisecond)
}

// StrategySummary aggregates every key recorded under one strategy.
type StrategySummary struct {
	Hits       uint64
	Misses     uint64
	Errors     uint64
	HitRatePct float64
}

// Summary aggregates every recorded operation.
type Summary struct {
	TrackedKeys int
	DroppedKeys uint64
	Hits        uint64
	Stale       uint64
	Misses      uint64
	Errors      uint64
	HitRatePct  float64
	ByStrategy  map[cache.StrategyID]StrategySummary
}

type keyStats struct {
	mu           sync.Mutex
	strategy     cache.StrategyID
	hits         uint64
	stale        uint64
	misses       uint64
	errors       uint64
	avgLatency   float64
	samples      uint64
	lastAccessed time.Time
}

func (s *keyStats) snapshot(key string) Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Analytics{
		Key:          key,
		Strategy:     s.strategy,
		Hits:         s.hits,
		Stale:        s.stale,
		Misses:       s.misses,
		Errors:       s.errors,
		AvgLatency:   time.Duration(s.avgLatency),
		HitRatePct:   hitRate(s.hits, s.misses),
		LastAccessed: s.lastAccessed,
	}
}

// Monitor records cache outcomes per key. It implements cache.Recorder and
// never panics or blocks the caller for longer than a map update.
type Monitor struct {
	logger  *zap.Logger
	metrics *metrics
	alpha   float64
	maxKeys int
	now     func() time.Time

	keys    *xsync.MapOf[string, *keyStats]
	dropped atomic.Uint64

	// totals for keys beyond maxKeys are still counted here
	totals *xsync.MapOf[cache.StrategyID, *keyStats]
}

var _ cache.Recorder = (*Monitor)(nil)

// New builds a Monitor. It fails only when metric registration fails.
func New(opts ...Option) (*Monitor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		logger:  o.logger.Named("monitor"),
		metrics: m,
		alpha:   o.alpha,
		maxKeys: o.maxKeys,
		now:     o.now,
		keys:    xsync.NewMapOf[string, *keyStats](),
		totals:  xsync.NewMapOf[cache.StrategyID, *keyStats](),
	}, nil
}

// Record implements cache.Recorder.
func (m *Monitor) Record(key string, strategy cache.StrategyID, outcome cache.Outcome, latency time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor record panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()

	now := m.now()
	m.metrics.operations.WithLabelValues(string(strategy), string(outcome)).Inc()
	m.metrics.duration.WithLabelValues(string(strategy)).Observe(latency.Seconds())

	total, _ := m.totals.LoadOrCompute(strategy, func() *keyStats { return &keyStats{strategy: strategy} })
	m.apply(total, strategy, outcome, latency, now)

	stats, ok := m.keys.Load(key)
	if !ok {
		if m.keys.Size() >= m.maxKeys {
			if m.dropped.Add(1) == 1 {
				m.logger.Warn("monitor key limit reached, new keys are not tracked", zap.Int("max_keys", m.maxKeys))
			}
			return
		}
		stats, _ = m.keys.LoadOrCompute(key, func() *keyStats { return &keyStats{strategy: strategy} })
	}
	m.apply(stats, strategy, outcome, latency, now)
}

func (m *Monitor) apply(s *keyStats, strategy cache.StrategyID, outcome cache.Outcome, latency time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strategy = strategy
	s.lastAccessed = now
	switch outcome {
	case cache.OutcomeHit:
		s.hits++
	case cache.OutcomeStale:
		s.hits++
		s.stale++
	case cache.OutcomeMiss:
		s.misses++
	case cache.OutcomeError:
		s.errors++
	}

	sample := float64(latency)
	if s.samples == 0 {
		s.avgLatency = sample
	} else {
		s.avgLatency = m.alpha*sample + (1-m.alpha)*s.avgLatency
	}
	s.samples++
}

// Analytics returns the snapshot for key.
func (m *Monitor) Analytics(key string) (Analytics, bool) {
	s, ok := m.keys.Load(key)
	if !ok {
		return Analytics{}, false
	}
	return s.snapshot(key), true
}

// All returns a snapshot of every tracked key, sorted by key.
func (m *Monitor) All() []Analytics {
	out := make([]Analytics, 0, m.keys.Size())
	m.keys.Range(func(key string, s *keyStats) bool {
		out = append(out, s.snapshot(key))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TopKeysByHitRate returns up to n keys with the highest hit rate. Keys
// without any hit or miss are left out. Ties are broken by lookup count,
// then key.
func (m *Monitor) TopKeysByHitRate(n int) []Analytics {
	all := m.All()
	out := all[:0]
	for _, a := range all {
		if a.Hits+a.Misses > 0 {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HitRatePct != out[j].HitRatePct {
			return out[i].HitRatePct > out[j].HitRatePct
		}
		li, lj := out[i].Hits+out[i].Misses, out[j].Hits+out[j].Misses
		if li != lj {
			return li > lj
		}
		return out[i].Key < out[j].Key
	})
	return limit(out, n)
}

// SlowestKeys returns up to n keys with the highest rolling latency.
func (m *Monitor) SlowestKeys(n int) []Analytics {
	out := m.All()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AvgLatency != out[j].AvgLatency {
			return out[i].AvgLatency > out[j].AvgLatency
		}
		return out[i].Key < out[j].Key
	})
	return limit(out, n)
}

// Summary aggregates every recorded operation, including operations on
// keys that were not tracked individually.
func (m *Monitor) Summary() Summary {
	sum := Summary{
		TrackedKeys: m.keys.Size(),
		DroppedKeys: m.dropped.Load(),
		ByStrategy:  make(map[cache.StrategyID]StrategySummary),
	}
	m.totals.Range(func(id cache.StrategyID, s *keyStats) bool {
		a := s.snapshot("")
		sum.Hits += a.Hits
		sum.Stale += a.Stale
		sum.Misses += a.Misses
		sum.Errors += a.Errors
		sum.ByStrategy[id] = StrategySummary{
			Hits:       a.Hits,
			Misses:     a.Misses,
			Errors:     a.Errors,
			HitRatePct: a.HitRatePct,
		}
		return true
	})
	sum.HitRatePct = hitRate(sum.Hits, sum.Misses)
	return sum
}

// Reset discards all recorded analytics. Prometheus counters are not reset.
func (m *Monitor) Reset() {
	m.keys.Clear()
	m.totals.Clear()
	m.dropped.Store(0)
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}

func limit(in []Analytics, n int) []Analytics {
	if n >= 0 && len(in) > n {
		return in[:n]
	}
	return in
}
