package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-cache-router/internal/promreg"
)

type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	ops, err := promreg.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache lookups by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	))
	if err != nil {
		return nil, err
	}

	dur, err := promreg.Register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Latency of cache lookups by strategy",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"strategy"},
	))
	if err != nil {
		return nil, err
	}

	return &metrics{operations: ops, duration: dur}, nil
}
