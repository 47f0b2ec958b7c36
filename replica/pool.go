package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/query"
)

// State is the probe driven health state of a pool.
type State string

const (
	Healthy   State = "healthy"
	Unhealthy State = "unhealthy"
)

// latencyAlpha weights the newest sample in the rolling latency average.
const latencyAlpha = 0.2

// Status is a point in time snapshot of a pool.
type Status struct {
	Name               string
	Role               Role
	Priority           int
	Affinity           []query.Type
	MaxConcurrentReads int
	CurrentReads       int
	// IsHealthy is true when the last probe succeeded and the breaker is not open.
	IsHealthy         bool
	ProbeState        State
	BreakerState      string
	AvgLatency        time.Duration
	TotalQueries      uint64
	ErrorCount        uint64
	LastHealthCheckAt time.Time
	LastHealthError   string
}

// AvgLatencyMs is the rolling average query latency in milliseconds.
func (s Status) AvgLatencyMs() float64 {
	return float64(s.AvgLatency) / float64(time.Millisecond)
}

// Utilization is CurrentReads over MaxConcurrentReads, or 0 when unlimited.
func (s Status) Utilization() float64 {
	if s.MaxConcurrentReads <= 0 {
		return 0
	}
	return float64(s.CurrentReads) / float64(s.MaxConcurrentReads)
}

// Saturated reports whether a new read would exceed MaxConcurrentReads.
func (s Status) Saturated() bool {
	return s.MaxConcurrentReads > 0 && s.CurrentReads >= s.MaxConcurrentReads
}

// HealthEvent describes a health transition of one pool.
type HealthEvent struct {
	Pool   string
	From   State
	To     State
	Err    error
	At     time.Time
	Source string // "probe" or "breaker"
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// Pool wraps one Executor with health state, load accounting and a circuit
// breaker. All status mutations are guarded by mu.
type Pool struct {
	cfg     PoolConfig
	exec    Executor
	logger  *zap.Logger
	now     func() time.Time
	breaker *gobreaker.CircuitBreaker

	mu           sync.Mutex
	probeHealthy bool
	currentReads int
	avgLatency   float64
	samples      uint64
	total        uint64
	errors       uint64
	lastCheck    time.Time
	lastErr      error

	probing atomic.Bool

	obsMu     sync.RWMutex
	observers []func(HealthEvent)
}

// NewPool validates cfg and builds a Pool. The pool starts healthy.
func NewPool(cfg PoolConfig, exec Executor, opts ...PoolOption) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("replica: pool %q: %w", cfg.Name, err)
	}
	if exec == nil {
		return nil, fmt.Errorf("replica: pool %q: executor is required", cfg.Name)
	}

	p := &Pool{
		cfg:          cfg.withDefaults(),
		exec:         exec,
		logger:       zap.NewNop(),
		now:          time.Now,
		probeHealthy: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("replica").With(zap.String("pool", cfg.Name))

	if threshold := p.cfg.Breaker.ConsecutiveFailures; threshold > 0 {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: p.cfg.Breaker.HalfOpenRequests,
			Timeout:     p.cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			// called with the breaker's lock held
			OnStateChange: func(_ string, from, to gobreaker.State) {
				go p.breakerChanged(from, to)
			},
		})
	}
	return p, nil
}

func (p *Pool) Name() string { return p.cfg.Name }

func (p *Pool) Role() Role { return p.cfg.Role }

// Config returns the pool configuration with defaults applied.
func (p *Pool) Config() PoolConfig { return p.cfg }

func (p *Pool) IsPrimary() bool { return p.cfg.Role == RolePrimary }

func (p *Pool) Prefers(t query.Type) bool { return p.cfg.Prefers(t) }

// Observe registers fn for every health transition of this pool.
func (p *Pool) Observe(fn func(HealthEvent)) {
	if fn == nil {
		return
	}
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Pool) emit(ev HealthEvent) {
	p.obsMu.RLock()
	observers := append([]func(HealthEvent){}, p.observers...)
	p.obsMu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("health observer panicked", zap.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}

func (p *Pool) breakerState() gobreaker.State {
	if p.breaker == nil {
		return gobreaker.StateClosed
	}
	return p.breaker.State()
}

func (p *Pool) breakerChanged(from, to gobreaker.State) {
	p.logger.Warn("pool breaker changed state", zap.String("from", from.String()), zap.String("to", to.String()))

	wasOpen, isOpen := from == gobreaker.StateOpen, to == gobreaker.StateOpen
	if wasOpen == isOpen {
		return
	}

	p.mu.Lock()
	probe := p.probeHealthy
	p.mu.Unlock()
	if !probe {
		return
	}

	ev := HealthEvent{Pool: p.cfg.Name, From: Healthy, To: Unhealthy, At: p.now(), Source: "breaker"}
	if wasOpen {
		ev.From, ev.To = Unhealthy, Healthy
	}
	p.emit(ev)
}

// Status returns a snapshot of the pool.
func (p *Pool) Status() Status {
	bs := p.breakerState()

	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Name:               p.cfg.Name,
		Role:               p.cfg.Role,
		Priority:           p.cfg.Priority,
		Affinity:           append([]query.Type(nil), p.cfg.Affinity...),
		MaxConcurrentReads: p.cfg.MaxConcurrentReads,
		CurrentReads:       p.currentReads,
		IsHealthy:          p.probeHealthy && bs != gobreaker.StateOpen,
		ProbeState:         Unhealthy,
		BreakerState:       bs.String(),
		AvgLatency:         time.Duration(p.avgLatency),
		TotalQueries:       p.total,
		ErrorCount:         p.errors,
		LastHealthCheckAt:  p.lastCheck,
	}
	if p.probeHealthy {
		st.ProbeState = Healthy
	}
	if p.lastErr != nil {
		st.LastHealthError = p.lastErr.Error()
	}
	return st
}

// IsHealthy reports whether the pool may receive reads.
func (p *Pool) IsHealthy() bool {
	if p.breakerState() == gobreaker.StateOpen {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probeHealthy
}

// Execute runs q regardless of the read limit. It is used for writes and
// for reads that must see the primary.
func (p *Pool) Execute(ctx context.Context, q string, params ...any) (Rows, error) {
	return p.run(ctx, false, q, params)
}

// ExecuteRead runs q if the pool is below MaxConcurrentReads and returns
// ErrPoolSaturated otherwise.
func (p *Pool) ExecuteRead(ctx context.Context, q string, params ...any) (Rows, error) {
	return p.run(ctx, true, q, params)
}

type execResult struct {
	rows Rows
	err  error
}

// run counts the query in currentReads until the executor returns. The
// executor runs in its own goroutine; when ctx ends first the caller gets
// ctx.Err() and the counter is released once the executor finishes.
func (p *Pool) run(ctx context.Context, enforceLimit bool, q string, params []any) (Rows, error) {
	p.mu.Lock()
	if enforceLimit && p.cfg.MaxConcurrentReads > 0 && p.currentReads >= p.cfg.MaxConcurrentReads {
		p.mu.Unlock()
		return nil, ErrPoolSaturated
	}
	p.currentReads++
	p.mu.Unlock()

	done := make(chan execResult, 1)
	start := time.Now()
	go func() {
		var res execResult
		defer func() {
			if r := recover(); r != nil {
				res = execResult{err: fmt.Errorf("replica: pool %q executor panicked: %v", p.cfg.Name, r)}
			}
			p.finish(time.Since(start), res.err)
			done <- res
		}()
		res.rows, res.err = p.call(ctx, q, params)
	}()

	select {
	case res := <-done:
		return res.rows, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) call(ctx context.Context, q string, params []any) (Rows, error) {
	if p.breaker == nil {
		return p.exec.Execute(ctx, q, params...)
	}
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.exec.Execute(ctx, q, params...)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := out.(Rows)
	return rows, nil
}

func (p *Pool) finish(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentReads--
	p.total++
	if err != nil && !errors.Is(err, context.Canceled) {
		p.errors++
	}

	sample := float64(latency)
	if p.samples == 0 {
		p.avgLatency = sample
	} else {
		p.avgLatency = latencyAlpha*sample + (1-latencyAlpha)*p.avgLatency
	}
	p.samples++
}

// Probe pings the store once. It returns ran=false without pinging when a
// previous probe is still in flight.
func (p *Pool) Probe(ctx context.Context) (ran bool, err error) {
	if !p.probing.CompareAndSwap(false, true) {
		p.logger.Debug("health probe skipped, previous probe in flight")
		return false, nil
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer p.probing.Store(false)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("replica: pool %q ping panicked: %v", p.cfg.Name, r)
			}
		}()
		done <- p.exec.Ping(pctx)
	}()

	select {
	case err = <-done:
	case <-pctx.Done():
		err = fmt.Errorf("replica: pool %q health probe timed out after %s: %w", p.cfg.Name, p.cfg.HealthCheckTimeout, pctx.Err())
	}

	if ctx.Err() != nil {
		// Cancelled by the caller, not a verdict on the store.
		return true, err
	}
	p.recordProbe(err)
	return true, err
}

func (p *Pool) recordProbe(err error) {
	now := p.now()

	p.mu.Lock()
	was := p.probeHealthy
	p.probeHealthy = err == nil
	p.lastCheck = now
	p.lastErr = err
	p.mu.Unlock()

	if was == (err == nil) {
		return
	}

	ev := HealthEvent{Pool: p.cfg.Name, From: Healthy, To: Unhealthy, Err: err, At: now, Source: "probe"}
	if err == nil {
		ev.From, ev.To = Unhealthy, Healthy
		p.logger.Info("pool recovered")
	} else {
		p.logger.Warn("pool marked unhealthy", zap.Error(err))
	}
	p.emit(ev)
}

// Run probes the pool immediately and then every HealthCheckInterval until
// ctx is done.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	_, _ = p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Probe(ctx)
		}
	}
}
