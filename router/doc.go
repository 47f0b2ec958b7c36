// Package router dispatches queries across the pools of a replica.Set.
//
// Every query is classified with a query.Classifier. WRITE and
// READ_CRITICAL queries always go to the primary. Other reads go to the
// healthy, non saturated pool with the highest score:
//
//	priority + affinity bonus - load penalty - latency penalty - system load penalty
//
// Ties go to the pool registered first. When no read candidate exists the
// healthy primary is used, otherwise ErrNoHealthyBackend is returned.
//
// Each attempt is bounded by a timeout. Failed attempts are retried with
// exponential backoff, choosing the pool again on each retry so a pool that
// became unhealthy is skipped. Once retries are exhausted the caller gets a
// *QueryExecutionFailedError wrapping the last error.
package router
