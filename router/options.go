package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/query"
)

// Weights tune pool scoring:
//
//	score = priority + affinity - load - latency - system load
type Weights struct {
	// AffinityBonus is added when the pool prefers the query type.
	AffinityBonus float64
	// LoadPenalty is scaled by CurrentReads/MaxConcurrentReads.
	LoadPenalty float64
	// LatencyPenalty is deducted once the rolling latency exceeds
	// LatencyThresholdMs. A zero threshold disables it.
	LatencyThresholdMs float64
	LatencyPenalty     float64
	// SystemLoadPenalty is scaled by the LoadSource utilization.
	SystemLoadPenalty float64
}

func DefaultWeights() Weights {
	return Weights{
		AffinityBonus:      5,
		LoadPenalty:        10,
		LatencyThresholdMs: 200,
		LatencyPenalty:     3,
		SystemLoadPenalty:  5,
	}
}

// LoadSource reports external utilization (0..1) per pool, for example
// from a scaling controller. ok is false when nothing is known.
type LoadSource interface {
	Utilization(pool string) (value float64, ok bool)
}

// LoadFunc adapts a function to LoadSource.
type LoadFunc func(pool string) (float64, bool)

func (f LoadFunc) Utilization(pool string) (float64, bool) { return f(pool) }

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
)

// Option configures a Router.
type Option func(*Router)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClassifier(c *query.Classifier) Option {
	return func(r *Router) {
		if c != nil {
			r.classifier = c
		}
	}
}

func WithWeights(w Weights) Option {
	return func(r *Router) { r.weights = w }
}

// WithDefaultTimeout sets the per attempt timeout used when a call does not
// pass WithTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDefaultRetries sets how many times a failed query is retried when a
// call does not pass WithMaxRetries.
func WithDefaultRetries(n int) Option {
	return func(r *Router) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff between retries.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(r *Router) {
		if initial > 0 {
			r.backoffInitial = initial
		}
		if maxDelay >= r.backoffInitial {
			r.backoffMax = maxDelay
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Router) { r.registerer = reg }
}

func WithLoadSource(src LoadSource) Option {
	return func(r *Router) { r.load = src }
}

// WithProbeOnFailure controls whether a failed attempt triggers an
// immediate health probe of the pool that failed.
func WithProbeOnFailure(enabled bool) Option {
	return func(r *Router) { r.probeOnFailure = enabled }
}

type execOptions struct {
	forceWrite bool
	timeout    time.Duration
	retries    int
}

// ExecOption adjusts a single Execute or Route call.
type ExecOption func(*execOptions)

// WithForceWrite sends the query to the primary whatever its classification.
func WithForceWrite() ExecOption {
	return func(o *execOptions) { o.forceWrite = true }
}

// WithTimeout bounds each attempt of this call.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets the retry count of this call. Zero disables retries.
func WithMaxRetries(n int) ExecOption {
	return func(o *execOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}
