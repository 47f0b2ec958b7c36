package replica

import "context"

// Rows is the result of one query: one map per row keyed by column name.
type Rows = []map[string]any

// Executor is the raw query primitive of one backing store.
type Executor interface {
	Execute(ctx context.Context, query string, params ...any) (Rows, error)
	Ping(ctx context.Context) error
}
