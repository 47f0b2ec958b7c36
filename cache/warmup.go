package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WarmupTask preloads one key.
type WarmupTask struct {
	Key      string
	Strategy StrategyID
	Fetch    func(ctx context.Context) (any, error)
}

// Task builds a WarmupTask from a typed fetch function.
func Task[T any](key string, strategy StrategyID, fetch FetchFn[T]) WarmupTask {
	return WarmupTask{
		Key:      key,
		Strategy: strategy,
		Fetch: func(ctx context.Context) (any, error) {
			return fetch(ctx)
		},
	}
}

// WarmupReport describes the outcome of a Warmup call. Keys appear in
// exactly one of Loaded, Skipped or Failed.
type WarmupReport struct {
	Loaded  []string
	Skipped []string
	Failed  map[string]error
}

// Err joins every task failure, or returns nil.
func (r WarmupReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("warmup %q: %w", k, r.Failed[k]))
	}
	return errors.Join(errs...)
}

// Warmup runs every task concurrently and caches each successful result.
// A failing task never affects the others. Tasks whose strategy does not
// allow warmup are skipped.
func (m *Manager) Warmup(ctx context.Context, tasks []WarmupTask) WarmupReport {
	report := WarmupReport{Failed: make(map[string]error)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.warmupConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			loaded, err := m.warm(ctx, task)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed[task.Key] = err
			case loaded:
				report.Loaded = append(report.Loaded, task.Key)
			default:
				report.Skipped = append(report.Skipped, task.Key)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Loaded)
	sort.Strings(report.Skipped)

	m.logger.Info("cache warmup finished",
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
	)
	return report
}

func (m *Manager) warm(ctx context.Context, task WarmupTask) (bool, error) {
	if task.Fetch == nil {
		return false, errors.New("cache: warmup task has no fetch function")
	}
	s, err := m.strategy(task.Strategy)
	if err != nil {
		return false, err
	}
	if !s.WarmupEnabled {
		return false, nil
	}

	m.origins.Add(task.Key, origin{strategy: s.ID, load: task.Fetch})
	if _, err := m.loadSync(ctx, task.Key, s, task.Fetch); err != nil {
		m.logger.Warn("cache warmup task failed", zap.String("key", task.Key), zap.Error(err))
		return false, err
	}
	return true, nil
}
