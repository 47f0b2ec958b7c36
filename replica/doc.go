// Package replica tracks the health and load of the backing stores a
// router dispatches queries to.
//
// Each Pool wraps an Executor. It counts in-flight queries, keeps a rolling
// latency average and runs a periodic ping probe. A probe that would overlap
// a previous one still in flight is skipped. Pools start healthy, become
// unhealthy on a failed or timed out probe, and recover on the next
// successful one. An optional circuit breaker takes a pool out of rotation
// after consecutive query failures.
//
// A Set holds every pool, exactly one of which is the primary.
package replica
