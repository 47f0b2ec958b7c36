package replica

import "github.com/prometheus/client_golang/prometheus"

// Collector exports the status of every pool in a Set.
type Collector struct {
	set *Set

	healthy      *prometheus.Desc
	currentReads *prometheus.Desc
	maxReads     *prometheus.Desc
	latency      *prometheus.Desc
	queries      *prometheus.Desc
	errors       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(set *Set) *Collector {
	labels := []string{"pool", "role"}
	return &Collector{
		set:          set,
		healthy:      prometheus.NewDesc("replica_pool_healthy", "Whether the pool accepts reads (1) or not (0)", labels, nil),
		currentReads: prometheus.NewDesc("replica_pool_current_reads", "In-flight queries on the pool", labels, nil),
		maxReads:     prometheus.NewDesc("replica_pool_max_concurrent_reads", "Configured read limit, 0 when unlimited", labels, nil),
		latency:      prometheus.NewDesc("replica_pool_latency_seconds", "Rolling average query latency", labels, nil),
		queries:      prometheus.NewDesc("replica_pool_queries_total", "Queries executed on the pool", labels, nil),
		errors:       prometheus.NewDesc("replica_pool_errors_total", "Failed queries on the pool", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.currentReads
	ch <- c.maxReads
	ch <- c.latency
	ch <- c.queries
	ch <- c.errors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.set.StatusAll() {
		role := string(st.Role)
		healthy := 0.0
		if st.IsHealthy {
			healthy = 1
		}
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy, st.Name, role)
		ch <- prometheus.MustNewConstMetric(c.currentReads, prometheus.GaugeValue, float64(st.CurrentReads), st.Name, role)
		ch <- prometheus.MustNewConstMetric(c.maxReads, prometheus.GaugeValue, float64(st.MaxConcurrentReads), st.Name, role)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, st.AvgLatency.Seconds(), st.Name, role)
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(st.TotalQueries), st.Name, role)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(st.ErrorCount), st.Name, role)
	}
}
