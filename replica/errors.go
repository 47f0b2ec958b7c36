package replica

import "errors"

var (
	ErrNoPrimary     = errors.New("replica: exactly one primary pool is required")
	ErrDuplicatePool = errors.New("replica: duplicate pool name")
	ErrUnknownPool   = errors.New("replica: unknown pool")
	ErrPoolSaturated = errors.New("replica: pool at max concurrent reads")
)
