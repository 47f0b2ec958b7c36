package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-cache-router/cache"
	"github.com/goliatone/go-cache-router/internal/cacheinfra"
	"github.com/goliatone/go-cache-router/replica"
)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Op names a FakeBackend operation for fault injection and call counts.
type Op string

const (
	OpGet            Op = "get"
	OpSet            Op = "set"
	OpDelete         Op = "delete"
	OpDeleteMatching Op = "delete_matching"
	OpPing           Op = "ping"
)

var allOps = []Op{OpGet, OpSet, OpDelete, OpDeleteMatching, OpPing}

type fakeItem struct {
	value     []byte
	expiresAt time.Time
}

// FakeBackend is an in-memory cache.Backend that honours TTLs against an
// injectable clock and fails on demand.
type FakeBackend struct {
	mu       sync.Mutex
	data     map[string]fakeItem
	now      func() time.Time
	failures map[Op]error
	calls    map[Op]int
	closed   bool
}

var _ cache.Backend = (*FakeBackend)(nil)

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		data:     make(map[string]fakeItem),
		now:      time.Now,
		failures: make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// WithClock makes TTLs expire against now.
func (b *FakeBackend) WithClock(now func() time.Time) *FakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// FailOn makes every call of op return err until cleared.
func (b *FakeBackend) FailOn(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// FailAll makes every operation return err.
func (b *FakeBackend) FailAll(err error) {
	for _, op := range allOps {
		b.FailOn(op, err)
	}
}

func (b *FakeBackend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[Op]error)
}

// Calls returns how many times op was called, failed calls included.
func (b *FakeBackend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Keys returns the live keys, sorted.
func (b *FakeBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	keys := make([]string, 0, len(b.data))
	for k, it := range b.data {
		if now.Before(it.expiresAt) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *FakeBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBackend) begin(op Op) error {
	b.calls[op]++
	return b.failures[op]
}

func (b *FakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpGet); err != nil {
		return nil, false, err
	}
	it, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	if !b.now().Before(it.expiresAt) {
		delete(b.data, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (b *FakeBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpSet); err != nil {
		return err
	}
	b.data[key] = fakeItem{value: append([]byte(nil), value...), expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *FakeBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpDelete); err != nil {
		return false, err
	}
	_, ok := b.data[key]
	delete(b.data, key)
	return ok, nil
}

func (b *FakeBackend) DeleteMatching(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpDeleteMatching); err != nil {
		return nil, err
	}
	m, err := cacheinfra.CompileMatcher(pattern)
	if err != nil {
		return nil, err
	}
	var removed []string
	for k := range b.data {
		if m.Match(k) {
			delete(b.data, k)
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (b *FakeBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begin(OpPing)
}

func (b *FakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Call is one recorded FakeExecutor.Execute call.
type Call struct {
	Query  string
	Params []any
}

// FakeExecutor is a scripted replica.Executor.
type FakeExecutor struct {
	mu       sync.Mutex
	rows     replica.Rows
	latency  time.Duration
	failNext []error
	failAll  error
	pingErr  error
	calls    []Call
	pings    int
}

var _ replica.Executor = (*FakeExecutor)(nil)

func NewFakeExecutor() *FakeExecutor { return &FakeExecutor{} }

// SetRows sets the rows every successful Execute returns.
func (e *FakeExecutor) SetRows(rows replica.Rows) *FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = rows
	return e
}

// SetLatency delays every Execute by d, or until ctx is done.
func (e *FakeExecutor) SetLatency(d time.Duration) *FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
	return e
}

// FailNext makes the next len(errs) Execute calls fail in order.
func (e *FakeExecutor) FailNext(errs ...error) *FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = append(e.failNext, errs...)
	return e
}

// FailAlways makes every Execute fail with err; nil clears it.
func (e *FakeExecutor) FailAlways(err error) *FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAll = err
	return e
}

func (e *FakeExecutor) SetPingError(err error) *FakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingErr = err
	return e
}

func (e *FakeExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

func (e *FakeExecutor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *FakeExecutor) PingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pings
}

func (e *FakeExecutor) Execute(ctx context.Context, q string, params ...any) (replica.Rows, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Query: q, Params: append([]any(nil), params...)})
	latency := e.latency
	var err error
	if len(e.failNext) > 0 {
		err, e.failNext = e.failNext[0], e.failNext[1:]
	} else {
		err = e.failAll
	}
	rows := e.rows
	e.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *FakeExecutor) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pings++
	return e.pingErr
}
