package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeBackendTTLAndFaults(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(time.Unix(0, 0))
	b := NewFakeBackend().WithClock(clock.Now)

	if err := b.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if v, ok, _ := b.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Errorf("Get() = %q, %v", v, ok)
	}

	clock.Advance(time.Minute)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}

	boom := errors.New("boom")
	b.FailAll(boom)
	if err := b.Ping(ctx); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	b.ClearFailures()
	if err := b.Ping(ctx); err != nil {
		t.Errorf("expected failures cleared, got %v", err)
	}
	if b.Calls(OpPing) != 2 || b.Calls(OpGet) != 2 {
		t.Errorf("unexpected call counts ping=%d get=%d", b.Calls(OpPing), b.Calls(OpGet))
	}
}

func TestFakeBackendDeleteMatching(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBackend()
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_ = b.Set(ctx, k, []byte(k), time.Minute)
	}

	removed, err := b.DeleteMatching(ctx, "user:*")
	if err != nil {
		t.Fatalf("DeleteMatching() failed: %v", err)
	}
	if len(removed) != 2 || removed[0] != "user:1" {
		t.Errorf("unexpected removed keys %v", removed)
	}
	if keys := b.Keys(); len(keys) != 1 || keys[0] != "order:1" {
		t.Errorf("unexpected remaining keys %v", keys)
	}
}

func TestFakeExecutorScript(t *testing.T) {
	ctx := context.Background()
	first := errors.New("first")
	e := NewFakeExecutor().SetRows([]map[string]any{{"id": 1}}).FailNext(first)

	if _, err := e.Execute(ctx, "SELECT 1"); !errors.Is(err, first) {
		t.Errorf("expected scripted error, got %v", err)
	}
	rows, err := e.Execute(ctx, "SELECT ?", 7)
	if err != nil || len(rows) != 1 {
		t.Errorf("Execute() = %v, %v", rows, err)
	}

	calls := e.Calls()
	if len(calls) != 2 || calls[1].Params[0] != 7 {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestFakeExecutorLatencyHonoursContext(t *testing.T) {
	e := NewFakeExecutor().SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := e.Execute(ctx, "SELECT 1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
