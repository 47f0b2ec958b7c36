// Package monitor aggregates cache lookup outcomes into per key analytics.
//
// A Monitor is passed to cache.NewManager with cache.WithRecorder. It keeps
// hit, miss and error counts, a rolling latency average and a hit rate for
// every key, and exports totals to Prometheus when a registerer is given.
// Analytics never influence cache behaviour.
package monitor
