package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-cache-router/query"
)

type mockExecutor struct {
	mu        sync.Mutex
	rows      Rows
	execErr   error
	pingErr   error
	execGate  chan struct{}
	pingGate  chan struct{}
	panicExec bool
	execs     int
	pings     int
}

func (m *mockExecutor) Execute(ctx context.Context, q string, params ...any) (Rows, error) {
	m.mu.Lock()
	m.execs++
	gate, rows, err, boom := m.execGate, m.rows, m.execErr, m.panicExec
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if boom {
		panic("driver bug")
	}
	return rows, err
}

func (m *mockExecutor) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.pings++
	gate, err := m.pingGate, m.pingErr
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (m *mockExecutor) setPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *mockExecutor) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func newPool(t *testing.T, cfg PoolConfig, exec Executor) *Pool {
	t.Helper()
	p, err := NewPool(cfg, exec)
	require.NoError(t, err)
	return p
}

func primaryConfig() PoolConfig {
	return PoolConfig{Name: "primary", Role: RolePrimary, Priority: 10}
}

func TestNewPoolValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  PoolConfig
		exec Executor
	}{
		{name: "missing name", cfg: PoolConfig{Role: RolePrimary}, exec: &mockExecutor{}},
		{name: "bad role", cfg: PoolConfig{Name: "x", Role: "leader"}, exec: &mockExecutor{}},
		{name: "negative limit", cfg: PoolConfig{Name: "x", Role: RoleReplica, MaxConcurrentReads: -1}, exec: &mockExecutor{}},
		{name: "nil executor", cfg: primaryConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.cfg, tt.exec)
			assert.Error(t, err)
		})
	}
}

func TestPoolDefaults(t *testing.T) {
	p := newPool(t, primaryConfig(), &mockExecutor{})
	assert.Equal(t, DefaultHealthCheckInterval, p.Config().HealthCheckInterval)
	assert.Equal(t, DefaultHealthCheckTimeout, p.Config().HealthCheckTimeout)
	assert.True(t, p.IsHealthy(), "pools start healthy")
	assert.Equal(t, Healthy, p.Status().ProbeState)
}

func TestExecuteTracksCurrentReads(t *testing.T) {
	gate := make(chan struct{})
	exec := &mockExecutor{execGate: gate, rows: Rows{{"id": 1}}}
	p := newPool(t, primaryConfig(), exec)

	done := make(chan Rows)
	go func() {
		rows, err := p.Execute(context.Background(), "SELECT 1")
		assert.NoError(t, err)
		done <- rows
	}()

	require.Eventually(t, func() bool { return p.Status().CurrentReads == 1 }, time.Second, time.Millisecond)
	close(gate)
	rows := <-done

	assert.Equal(t, Rows{{"id": 1}}, rows)
	st := p.Status()
	assert.Equal(t, 0, st.CurrentReads)
	assert.Equal(t, uint64(1), st.TotalQueries)
	assert.Zero(t, st.ErrorCount)
}

func TestExecuteTimeoutReleasesAfterCompletion(t *testing.T) {
	gate := make(chan struct{})
	p := newPool(t, primaryConfig(), &mockExecutor{execGate: gate})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, "SELECT pg_sleep(10)")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Status().CurrentReads, "abandoned query still runs")

	close(gate)
	require.Eventually(t, func() bool { return p.Status().CurrentReads == 0 }, time.Second, time.Millisecond)
}

func TestExecuteReadRespectsLimit(t *testing.T) {
	gate := make(chan struct{})
	cfg := PoolConfig{Name: "r1", Role: RoleReplica, MaxConcurrentReads: 1}
	p := newPool(t, cfg, &mockExecutor{execGate: gate})

	go func() { _, _ = p.ExecuteRead(context.Background(), "SELECT 1") }()
	require.Eventually(t, func() bool { return p.Status().Saturated() }, time.Second, time.Millisecond)
	assert.InDelta(t, 1.0, p.Status().Utilization(), 0.001)

	_, err := p.ExecuteRead(context.Background(), "SELECT 2")
	assert.ErrorIs(t, err, ErrPoolSaturated)

	close(gate)
	_, err = p.Execute(context.Background(), "SELECT 3")
	assert.NoError(t, err, "Execute ignores the read limit")
}

func TestExecuteCountsErrorsAndRecoversPanics(t *testing.T) {
	exec := &mockExecutor{execErr: errors.New("syntax error")}
	p := newPool(t, primaryConfig(), exec)

	_, err := p.Execute(context.Background(), "SELEC 1")
	assert.EqualError(t, err, "syntax error")

	exec.mu.Lock()
	exec.execErr, exec.panicExec = nil, true
	exec.mu.Unlock()

	_, err = p.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	st := p.Status()
	assert.Equal(t, uint64(2), st.ErrorCount)
	assert.Equal(t, 0, st.CurrentReads)
}

func TestProbeTransitions(t *testing.T) {
	exec := &mockExecutor{}
	p := newPool(t, PoolConfig{Name: "r1", Role: RoleReplica}, exec)

	var (
		mu     sync.Mutex
		events []HealthEvent
	)
	p.Observe(func(ev HealthEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ran, err := p.Probe(context.Background())
	require.True(t, ran)
	require.NoError(t, err)

	exec.setPingErr(errors.New("connection refused"))
	_, err = p.Probe(context.Background())
	require.Error(t, err)
	assert.False(t, p.IsHealthy())
	st := p.Status()
	assert.Equal(t, Unhealthy, st.ProbeState)
	assert.Equal(t, "connection refused", st.LastHealthError)
	assert.False(t, st.LastHealthCheckAt.IsZero())

	exec.setPingErr(nil)
	_, err = p.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, p.IsHealthy())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, Healthy, events[0].From)
	assert.Equal(t, Unhealthy, events[0].To)
	assert.Equal(t, "probe", events[0].Source)
	assert.Error(t, events[0].Err)
	assert.Equal(t, Unhealthy, events[1].From)
	assert.Equal(t, Healthy, events[1].To)
}

func TestProbeTimeoutAndOverlapSkip(t *testing.T) {
	gate := make(chan struct{})
	exec := &mockExecutor{pingGate: gate}
	cfg := PoolConfig{Name: "r1", Role: RoleReplica, HealthCheckTimeout: 10 * time.Millisecond}
	p := newPool(t, cfg, exec)

	ran, err := p.Probe(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, p.IsHealthy(), "a timed out probe marks the pool unhealthy")

	ran, err = p.Probe(context.Background())
	assert.False(t, ran, "overlapping probe is skipped")
	assert.NoError(t, err)
	assert.Equal(t, 1, exec.pingCount())

	close(gate)
	require.Eventually(t, func() bool {
		ran, err := p.Probe(context.Background())
		return ran && err == nil
	}, time.Second, time.Millisecond)
	assert.True(t, p.IsHealthy())
}

func TestProbeCancelledByCallerKeepsState(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	exec := &mockExecutor{pingGate: gate}
	p := newPool(t, PoolConfig{Name: "r1", Role: RoleReplica, HealthCheckTimeout: time.Minute}, exec)

	events := 0
	p.Observe(func(HealthEvent) { events++ })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for exec.pingCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	ran, err := p.Probe(ctx)
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.IsHealthy())
	assert.True(t, p.Status().LastHealthCheckAt.IsZero())
	assert.Zero(t, events)
}

func TestBreakerTakesPoolOutOfRotation(t *testing.T) {
	exec := &mockExecutor{execErr: errors.New("too many connections")}
	cfg := PoolConfig{
		Name:    "r1",
		Role:    RoleReplica,
		Breaker: BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour},
	}
	p := newPool(t, cfg, exec)

	for i := 0; i < 2; i++ {
		_, err := p.Execute(context.Background(), "SELECT 1")
		require.Error(t, err)
	}

	assert.False(t, p.IsHealthy())
	st := p.Status()
	assert.Equal(t, "open", st.BreakerState)
	assert.Equal(t, Healthy, st.ProbeState)
}

func TestSetRegistration(t *testing.T) {
	primary := newPool(t, primaryConfig(), &mockExecutor{})
	r1 := newPool(t, PoolConfig{Name: "r1", Role: RoleReplica}, &mockExecutor{})
	r2 := newPool(t, PoolConfig{Name: "r2", Role: RoleReplica, Affinity: []query.Type{query.ReadAnalytical}}, &mockExecutor{})

	_, err := NewSet(r1, r2)
	assert.ErrorIs(t, err, ErrNoPrimary)

	_, err = NewSet(primary, newPool(t, PoolConfig{Name: "p2", Role: RolePrimary}, &mockExecutor{}))
	assert.ErrorIs(t, err, ErrNoPrimary)

	_, err = NewSet(primary, r1, newPool(t, PoolConfig{Name: "r1", Role: RoleReplica}, &mockExecutor{}))
	assert.ErrorIs(t, err, ErrDuplicatePool)

	set, err := NewSet(r1, primary, r2)
	require.NoError(t, err)
	assert.Same(t, primary, set.Primary())

	names := []string{}
	for _, st := range set.StatusAll() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"r1", "primary", "r2"}, names)

	got, err := set.Pool("r2")
	require.NoError(t, err)
	assert.True(t, got.Prefers(query.ReadAnalytical))

	_, err = set.Pool("nope")
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestSetStartRunsProbeLoops(t *testing.T) {
	pexec := &mockExecutor{}
	rexec := &mockExecutor{pingErr: errors.New("down")}
	primary := newPool(t, PoolConfig{Name: "primary", Role: RolePrimary, HealthCheckInterval: 5 * time.Millisecond}, pexec)
	replica := newPool(t, PoolConfig{Name: "r1", Role: RoleReplica, HealthCheckInterval: 5 * time.Millisecond}, rexec)

	set, err := NewSet(primary, replica)
	require.NoError(t, err)

	events := make(chan HealthEvent, 8)
	set.Observe(func(ev HealthEvent) { events <- ev })

	set.Start(context.Background())
	set.Start(context.Background())
	defer set.Stop()

	select {
	case ev := <-events:
		assert.Equal(t, "r1", ev.Pool)
		assert.Equal(t, Unhealthy, ev.To)
	case <-time.After(time.Second):
		t.Fatal("expected a health event")
	}

	require.Eventually(t, func() bool { return pexec.pingCount() >= 3 }, time.Second, time.Millisecond)

	set.Stop()
	n := pexec.pingCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, pexec.pingCount(), "no probes after Stop")
}

func TestCollector(t *testing.T) {
	primary := newPool(t, primaryConfig(), &mockExecutor{})
	r1 := newPool(t, PoolConfig{Name: "r1", Role: RoleReplica}, &mockExecutor{})
	set, err := NewSet(primary, r1)
	require.NoError(t, err)

	assert.Equal(t, 12, testutil.CollectAndCount(NewCollector(set)))
	assert.Equal(t, 2, testutil.CollectAndCount(NewCollector(set), "replica_pool_healthy"))
}
