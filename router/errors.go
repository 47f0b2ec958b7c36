package router

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-cache-router/query"
)

var (
	// ErrNoHealthyBackend is returned when no pool can take a read and the
	// primary is unhealthy.
	ErrNoHealthyBackend = errors.New("router: no healthy backend")
	// ErrQueryTimeout marks an attempt that ran past its timeout.
	ErrQueryTimeout = errors.New("router: query timed out")
)

// QueryExecutionFailedError is returned once every attempt has failed. It
// unwraps to the error of the last attempt.
type QueryExecutionFailedError struct {
	Type     query.Type
	Attempts int
	Pool     string
	Err      error
}

func (e *QueryExecutionFailedError) Error() string {
	return fmt.Sprintf("router: %s query failed after %d attempt(s), last pool %q: %v", e.Type, e.Attempts, e.Pool, e.Err)
}

func (e *QueryExecutionFailedError) Unwrap() error { return e.Err }
