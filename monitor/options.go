package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultAlpha   = 0.2
	DefaultMaxKeys = 10000
)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	alpha      float64
	maxKeys    int
	now        func() time.Time
}

func defaultOptions() options {
	return options{
		logger:  zap.NewNop(),
		alpha:   DefaultAlpha,
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
	}
}

// Option configures a Monitor.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers the monitor's Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAlpha sets the smoothing factor of the rolling latency average.
// Values outside (0, 1] are ignored.
func WithAlpha(alpha float64) Option {
	return func(o *options) {
		if alpha > 0 && alpha <= 1 {
			o.alpha = alpha
		}
	}
}

// WithMaxKeys caps the number of keys tracked individually.
func WithMaxKeys(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxKeys = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
