package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/query"
	"github.com/goliatone/go-cache-router/replica"
)

// Candidate is one scored pool of a routing decision.
type Candidate struct {
	Pool  string
	Score float64
}

// Decision explains where a query would be sent.
type Decision struct {
	Type query.Type
	Rule string
	Pool string
	// Fallback is true when no read candidate was available and the
	// healthy primary was used instead.
	Fallback   bool
	Candidates []Candidate
}

// Router classifies queries and dispatches them to the best pool of a
// replica.Set, retrying failed attempts on a freshly selected pool.
type Router struct {
	set        *replica.Set
	classifier *query.Classifier
	weights    Weights
	load       LoadSource
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	timeout        time.Duration
	maxRetries     int
	backoffInitial time.Duration
	backoffMax     time.Duration
	probeOnFailure bool
}

// New builds a Router over set. It fails only when metric registration fails.
func New(set *replica.Set, opts ...Option) (*Router, error) {
	if set == nil {
		return nil, errors.New("router: replica set is required")
	}

	r := &Router{
		set:            set,
		classifier:     query.NewClassifier(),
		weights:        DefaultWeights(),
		logger:         zap.NewNop(),
		timeout:        DefaultTimeout,
		maxRetries:     DefaultMaxRetries,
		backoffInitial: 50 * time.Millisecond,
		backoffMax:     time.Second,
		probeOnFailure: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("router")

	m, err := newMetrics(r.registerer)
	if err != nil {
		return nil, err
	}
	r.metrics = m
	return r, nil
}

// Classifier returns the classifier used by the Router.
func (r *Router) Classifier() *query.Classifier { return r.classifier }

func (r *Router) execOptions(opts []ExecOption) execOptions {
	eo := execOptions{timeout: r.timeout, retries: r.maxRetries}
	for _, opt := range opts {
		opt(&eo)
	}
	return eo
}

// Route classifies q and selects a pool without executing anything.
func (r *Router) Route(q string, opts ...ExecOption) (Decision, error) {
	eo := r.execOptions(opts)
	t, rule := r.classify(q, eo.forceWrite)
	dec, _, err := r.choose(t, rule, eo.forceWrite)
	return dec, err
}

func (r *Router) classify(q string, force bool) (query.Type, string) {
	if force {
		return query.Write, "force-write"
	}
	return r.classifier.Explain(q)
}

// choose picks the pool for one attempt. Primary bound traffic always goes
// to the primary, even when its last probe failed.
func (r *Router) choose(t query.Type, rule string, force bool) (Decision, *replica.Pool, error) {
	dec := Decision{Type: t, Rule: rule}
	primary := r.set.Primary()

	if force || t.RequiresPrimary() {
		dec.Pool = primary.Name()
		dec.Candidates = []Candidate{{Pool: primary.Name(), Score: r.score(primary, primary.Status(), t)}}
		return dec, primary, nil
	}

	var (
		best      *replica.Pool
		bestScore float64
	)
	for _, p := range r.set.Pools() {
		st := p.Status()
		if !st.IsHealthy || st.Saturated() {
			continue
		}
		s := r.score(p, st, t)
		dec.Candidates = append(dec.Candidates, Candidate{Pool: p.Name(), Score: s})
		if best == nil || s > bestScore {
			best, bestScore = p, s
		}
	}

	if best == nil {
		if !primary.IsHealthy() {
			return dec, nil, ErrNoHealthyBackend
		}
		best = primary
		dec.Fallback = true
	}
	dec.Pool = best.Name()
	return dec, best, nil
}

func (r *Router) score(p *replica.Pool, st replica.Status, t query.Type) float64 {
	w := r.weights
	s := float64(st.Priority)
	if p.Prefers(t) {
		s += w.AffinityBonus
	}
	s -= w.LoadPenalty * st.Utilization()
	if w.LatencyThresholdMs > 0 && st.AvgLatencyMs() > w.LatencyThresholdMs {
		s -= w.LatencyPenalty
	}
	if r.load != nil {
		if u, ok := r.load.Utilization(p.Name()); ok {
			s -= w.SystemLoadPenalty * clamp(u, 0, 1)
		}
	}
	return s
}

// Execute classifies q, sends it to the best pool and retries failures
// with exponential backoff, selecting a pool again on every attempt.
// Callers see rows, ErrNoHealthyBackend, or a *QueryExecutionFailedError.
func (r *Router) Execute(ctx context.Context, q string, params []any, opts ...ExecOption) (replica.Rows, error) {
	eo := r.execOptions(opts)
	t, rule := r.classify(q, eo.forceWrite)
	typ := t.String()

	var (
		attempts int
		lastPool string
	)
	op := func() (replica.Rows, error) {
		dec, pool, err := r.choose(t, rule, eo.forceWrite)
		if err != nil {
			r.metrics.queries.WithLabelValues("", typ, outcomeNoBackend).Inc()
			return nil, backoff.Permanent(err)
		}

		attempts++
		if attempts > 1 {
			r.metrics.retries.WithLabelValues(typ).Inc()
			r.logger.Debug("retrying query", zap.String("type", typ), zap.String("pool", dec.Pool), zap.Int("attempt", attempts))
		}
		lastPool = pool.Name()

		unlimited := eo.forceWrite || t.RequiresPrimary() || dec.Fallback
		rows, err := r.attempt(ctx, pool, t, unlimited, eo.timeout, q, params)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return rows, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoffInitial
	b.MaxInterval = r.backoffMax

	rows, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(eo.retries)+1),
	)
	if err == nil {
		return rows, nil
	}

	if attempts == 0 && errors.Is(err, ErrNoHealthyBackend) {
		r.logger.Warn("no healthy backend for query", zap.String("type", typ))
		return nil, err
	}

	r.logger.Warn("query failed",
		zap.String("type", typ),
		zap.String("pool", lastPool),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return nil, &QueryExecutionFailedError{Type: t, Attempts: attempts, Pool: lastPool, Err: err}
}

// attempt runs one try on pool. unlimited bypasses the pool's read limit.
func (r *Router) attempt(ctx context.Context, pool *replica.Pool, t query.Type, unlimited bool, timeout time.Duration, q string, params []any) (replica.Rows, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		rows replica.Rows
		err  error
	)
	if unlimited {
		rows, err = pool.Execute(actx, q, params...)
	} else {
		rows, err = pool.ExecuteRead(actx, q, params...)
	}
	r.metrics.duration.WithLabelValues(pool.Name()).Observe(time.Since(start).Seconds())

	typ := t.String()
	switch {
	case err == nil:
		r.metrics.queries.WithLabelValues(pool.Name(), typ, outcomeOK).Inc()
		return rows, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		r.metrics.queries.WithLabelValues(pool.Name(), typ, outcomeTimeout).Inc()
		err = fmt.Errorf("%w after %s on pool %q: %w", ErrQueryTimeout, timeout, pool.Name(), err)
	default:
		r.metrics.queries.WithLabelValues(pool.Name(), typ, outcomeError).Inc()
	}

	if r.probeOnFailure && !errors.Is(err, replica.ErrPoolSaturated) {
		go func() { _, _ = pool.Probe(context.WithoutCancel(ctx)) }()
	}
	return nil, err
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
