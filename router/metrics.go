package router

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-cache-router/internal/promreg"
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomeNoBackend = "no_backend"
)

type metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	queries, err := promreg.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_queries_total",
			Help: "Query attempts by pool, query type and outcome",
		},
		[]string{"pool", "type", "outcome"},
	))
	if err != nil {
		return nil, err
	}

	duration, err := promreg.Register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_query_duration_seconds",
			Help:    "Duration of query attempts by pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	))
	if err != nil {
		return nil, err
	}

	retries, err := promreg.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_retries_total",
			Help: "Retried query attempts by query type",
		},
		[]string{"type"},
	))
	if err != nil {
		return nil, err
	}

	return &metrics{queries: queries, duration: duration, retries: retries}, nil
}
