package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/cache"
	"github.com/goliatone/go-cache-router/config"
	"github.com/goliatone/go-cache-router/internal/promreg"
	"github.com/goliatone/go-cache-router/internal/sqlexec"
	"github.com/goliatone/go-cache-router/monitor"
	"github.com/goliatone/go-cache-router/replica"
	"github.com/goliatone/go-cache-router/repositorycache"
	"github.com/goliatone/go-cache-router/router"
)

// ExecutorFactory opens the executor behind one configured pool.
type ExecutorFactory func(cfg config.PoolConfig) (replica.Executor, error)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the root logger. When unset the container builds one from
// the log section of the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer registers every component's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) { c.registerer = reg }
}

// WithBackend replaces the backend described by the configuration. The
// container still closes it.
func WithBackend(b cache.Backend) Option {
	return func(c *Container) { c.backend = b }
}

// WithLoadSource feeds per-pool system utilization into router scoring.
func WithLoadSource(src router.LoadSource) Option {
	return func(c *Container) { c.loadSource = src }
}

// WithExecutorFactory replaces the default SQL executors.
func WithExecutorFactory(f ExecutorFactory) Option {
	return func(c *Container) {
		if f != nil {
			c.executorFactory = f
		}
	}
}

// Container wires the cache, monitor, replica pools and router described by
// a config.Config. The pools and the router are only built when the
// configuration lists pools.
type Container struct {
	cfg             *config.Config
	logger          *zap.Logger
	registerer      prometheus.Registerer
	executorFactory ExecutorFactory
	loadSource      router.LoadSource

	backend       cache.Backend
	manager       *cache.Manager
	monitor       *monitor.Monitor
	keySerializer cache.KeySerializer
	set           *replica.Set
	router        *router.Router
	executors     []replica.Executor

	closeOnce sync.Once
	closeErr  error
}

// NewContainer builds every component described by cfg. A nil cfg uses
// config.Default. On error everything already opened is closed.
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("di: invalid configuration: %w", err)
	}

	c := &Container{
		cfg:             cfg,
		executorFactory: SQLExecutorFactory,
		keySerializer:   cache.NewDefaultKeySerializer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}

	if err := c.build(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default: a local
// backend, the built-in strategies and no pools.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

func (c *Container) build() error {
	strategies, err := c.strategies()
	if err != nil {
		return err
	}

	if c.backend == nil {
		if c.backend, err = c.openBackend(strategies.MaxWindow()); err != nil {
			return err
		}
	}

	c.monitor, err = monitor.New(
		monitor.WithLogger(c.logger),
		monitor.WithRegisterer(c.registerer),
	)
	if err != nil {
		return err
	}

	cc := c.cfg.Cache
	c.manager, err = cache.NewManager(c.backend, strategies,
		cache.WithLogger(c.logger),
		cache.WithRecorder(c.monitor),
		cache.WithFallbackCapacity(cc.FallbackCapacity),
		cache.WithOriginCapacity(cc.OriginCapacity),
		cache.WithRefreshTimeout(cc.RefreshTimeout),
		cache.WithWarmupConcurrency(cc.WarmupConcurrency),
		cache.WithBackendBreaker(cache.BreakerConfig{
			Name:                "cache-backend",
			ConsecutiveFailures: cc.Breaker.ConsecutiveFailures,
			OpenTimeout:         cc.Breaker.OpenTimeout,
			HalfOpenRequests:    cc.Breaker.HalfOpenRequests,
		}),
	)
	if err != nil {
		return err
	}

	if len(c.cfg.Pools) == 0 {
		c.logger.Info("no pools configured, query routing disabled")
		return nil
	}
	return c.buildRouting()
}

func (c *Container) strategies() (cache.StrategySet, error) {
	if len(c.cfg.Cache.Strategies) == 0 {
		return cache.DefaultStrategies(), nil
	}
	list := make([]cache.Strategy, 0, len(c.cfg.Cache.Strategies))
	for _, s := range c.cfg.Cache.Strategies {
		list = append(list, cache.Strategy{
			ID:                   cache.StrategyID(s.ID),
			TTL:                  s.TTL,
			StaleWhileRevalidate: s.StaleWhileRevalidate,
			MaxRetries:           s.MaxRetries,
			WarmupEnabled:        s.WarmupEnabled,
			AnalyticsEnabled:     s.AnalyticsEnabled,
		})
	}
	return cache.NewStrategySet(list...)
}

// openBackend builds the configured backend. The local backend keeps entries
// for at least window, the longest strategy window.
func (c *Container) openBackend(window time.Duration) (cache.Backend, error) {
	cc := c.cfg.Cache
	switch cc.Backend {
	case config.BackendRedis:
		return cache.NewRedisBackend(cache.RedisConfig{
			URL:         cc.Redis.URL,
			Prefix:      cc.Redis.Prefix,
			ScanCount:   cc.Redis.ScanCount,
			DialTimeout: cc.Redis.DialTimeout,
		})
	default:
		ttl := cc.Local.TTL
		if ttl < window {
			c.logger.Info("raising local backend ttl to the longest strategy window",
				zap.Duration("configured", ttl),
				zap.Duration("window", window),
			)
			ttl = window
		}
		return cache.NewLocalBackend(cache.LocalConfig{
			Capacity:           cc.Local.Capacity,
			NumShards:          cc.Local.NumShards,
			TTL:                ttl,
			EvictionPercentage: cc.Local.EvictionPercentage,
			EvictionInterval:   cc.Local.EvictionInterval,
		})
	}
}

func (c *Container) buildRouting() error {
	pools := make([]*replica.Pool, 0, len(c.cfg.Pools))
	for _, pc := range c.cfg.Pools {
		affinity, err := pc.AffinityTypes()
		if err != nil {
			return fmt.Errorf("di: pool %q: %w", pc.Name, err)
		}

		exec, err := c.executorFactory(pc)
		if err != nil {
			return fmt.Errorf("di: pool %q: %w", pc.Name, err)
		}
		c.executors = append(c.executors, exec)

		pool, err := replica.NewPool(replica.PoolConfig{
			Name:                pc.Name,
			Role:                replica.Role(pc.Role),
			Priority:            pc.Priority,
			MaxConcurrentReads:  pc.MaxConcurrentReads,
			HealthCheckInterval: pc.HealthCheckInterval,
			HealthCheckTimeout:  pc.HealthCheckTimeout,
			Affinity:            affinity,
			Breaker: replica.BreakerConfig{
				ConsecutiveFailures: pc.Breaker.ConsecutiveFailures,
				OpenTimeout:         pc.Breaker.OpenTimeout,
				HalfOpenRequests:    pc.Breaker.HalfOpenRequests,
			},
		}, exec, replica.WithPoolLogger(c.logger))
		if err != nil {
			return err
		}
		pools = append(pools, pool)
	}

	set, err := replica.NewSet(pools...)
	if err != nil {
		return err
	}
	c.set = set
	set.Observe(func(ev replica.HealthEvent) {
		c.logger.Info("pool health changed",
			zap.String("pool", ev.Pool),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)),
			zap.String("source", ev.Source),
		)
	})

	if _, err := promreg.Register(c.registerer, replica.NewCollector(set)); err != nil {
		return fmt.Errorf("di: register pool collector: %w", err)
	}

	rc := c.cfg.Router
	w := rc.Weights
	c.router, err = router.New(set,
		router.WithLogger(c.logger),
		router.WithRegisterer(c.registerer),
		router.WithDefaultTimeout(rc.Timeout),
		router.WithDefaultRetries(rc.MaxRetries),
		router.WithBackoff(rc.BackoffInitial, rc.BackoffMax),
		router.WithProbeOnFailure(rc.ProbeOnFailure),
		router.WithLoadSource(c.loadSource),
		router.WithWeights(router.Weights{
			AffinityBonus:      w.AffinityBonus,
			LoadPenalty:        w.LoadPenalty,
			LatencyThresholdMs: w.LatencyThresholdMs,
			LatencyPenalty:     w.LatencyPenalty,
			SystemLoadPenalty:  w.SystemLoadPenalty,
		}),
	)
	return err
}

// SQLExecutorFactory opens a bun backed executor for cfg.
func SQLExecutorFactory(cfg config.PoolConfig) (replica.Executor, error) {
	db, err := sqlexec.Open(sqlexec.Options{
		Driver:          sqlexec.Driver(cfg.Driver),
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	return sqlexec.New(db), nil
}

// Start begins the pool health checks. It is a no-op without pools.
func (c *Container) Start(ctx context.Context) {
	if c.set != nil {
		c.set.Start(ctx)
	}
}

// Close stops the health checks, waits for background refreshes and
// releases the backend and every executor that can be closed.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.set != nil {
			c.set.Stop()
		}
		if c.manager != nil {
			errs = append(errs, c.manager.Close())
		} else if c.backend != nil {
			errs = append(errs, c.backend.Close())
		}
		for _, exec := range c.executors {
			if closer, ok := exec.(io.Closer); ok {
				errs = append(errs, closer.Close())
			}
		}
		c.closeErr = errors.Join(errs...)
		if c.logger != nil {
			_ = c.logger.Sync()
		}
	})
	return c.closeErr
}

// Warmup preloads entries through the manager, bounded by timeout when it
// is positive.
func (c *Container) Warmup(ctx context.Context, tasks []cache.WarmupTask, timeout time.Duration) cache.WarmupReport {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.manager.Warmup(ctx, tasks)
}

func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) Logger() *zap.Logger { return c.logger }

func (c *Container) Manager() *cache.Manager { return c.manager }

func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }

// Set returns the replica set, nil when no pools are configured.
func (c *Container) Set() *replica.Set { return c.set }

// Router returns the query router, nil when no pools are configured.
func (c *Container) Router() *router.Router { return c.router }

// NewCachedRepository wraps base with the container's manager and key
// serializer.
//
//	users := di.NewCachedRepository[User](container, base)
func NewCachedRepository[T any](container *Container, base repository.Repository[T], opts ...repositorycache.Option) *repositorycache.CachedRepository[T] {
	opts = append([]repositorycache.Option{repositorycache.WithLogger(container.logger)}, opts...)
	return repositorycache.New(base, container.manager, container.keySerializer, opts...)
}
