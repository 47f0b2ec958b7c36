package repositorycache

import (
	"context"
	"fmt"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-cache-router/cache"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult is the cached form of a List call.
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	namespace string
	strategy  cache.StrategyID
	logger    *zap.Logger
}

// WithNamespace sets the key namespace. It defaults to the snake_case name
// of the record type.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithStrategy sets the strategy used by reads. It defaults to cache.Warm.
func WithStrategy(id cache.StrategyID) Option {
	return func(o *options) {
		if id != "" {
			o.strategy = id
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// CachedRepository decorates a base repository with a cache.Manager. Reads
// outside a transaction are cached under the namespace; successful writes
// invalidate the keys they can affect.
type CachedRepository[T any] struct {
	base          repository.Repository[T]
	manager       *cache.Manager
	keySerializer cache.KeySerializer
	namespace     string
	strategy      cache.StrategyID
	logger        *zap.Logger
}

// New wraps base. A nil keySerializer uses cache.NewDefaultKeySerializer.
func New[T any](base repository.Repository[T], manager *cache.Manager, keySerializer cache.KeySerializer, opts ...Option) *CachedRepository[T] {
	o := options{
		namespace: namespaceOf[T](),
		strategy:  cache.Warm,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	return &CachedRepository[T]{
		base:          base,
		manager:       manager,
		keySerializer: keySerializer,
		namespace:     o.namespace,
		strategy:      o.strategy,
		logger:        o.logger.Named("repositorycache").With(zap.String("namespace", o.namespace)),
	}
}

// Namespace is the prefix of every key this repository writes.
func (c *CachedRepository[T]) Namespace() string { return c.namespace }

func (c *CachedRepository[T]) key(method string, args ...any) string {
	return c.namespace + cache.KeySeparator + c.keySerializer.SerializeKey(method, args...)
}

// readThrough serves key from the cache, falling back to fetch. ctx may
// override the strategy or bypass the cache entirely.
func readThrough[T, V any](ctx context.Context, c *CachedRepository[T], key string, fetch cache.FetchFn[V]) (V, error) {
	if bypassed(ctx) {
		return fetch(ctx)
	}
	return cache.GetOrSet(ctx, c.manager, key, strategyFromContext(ctx, c.strategy), fetch)
}

func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.key("Get", criteria), func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	})
}

func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.key("GetByID", id, criteria), func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
}

func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := readThrough(ctx, c, c.key("List", criteria), func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return readThrough(ctx, c, c.key("Count", criteria), func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.key("GetByIdentifier", identifier, criteria), func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
}

// Writes delegate to the base repository and invalidate only when the
// base call succeeded.

func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	return c.afterCreate(ctx)(c.base.Create(ctx, record, criteria...))
}

func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return c.afterCreate(ctx)(c.base.CreateTx(ctx, tx, record, criteria...))
}

func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return c.afterCreateMany(ctx)(c.base.CreateMany(ctx, records, criteria...))
}

func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return c.afterCreateMany(ctx)(c.base.CreateManyTx(ctx, tx, records, criteria...))
}

// GetOrCreate may insert, so it invalidates like Create.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	return c.afterCreate(ctx)(c.base.GetOrCreate(ctx, record))
}

func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	return c.afterCreate(ctx)(c.base.GetOrCreateTx(ctx, tx, record))
}

func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return c.afterWrite(ctx)(c.base.Update(ctx, record, criteria...))
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return c.afterWrite(ctx)(c.base.UpdateTx(ctx, tx, record, criteria...))
}

func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return c.afterWriteMany(ctx)(c.base.UpdateMany(ctx, records, criteria...))
}

func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return c.afterWriteMany(ctx)(c.base.UpdateManyTx(ctx, tx, records, criteria...))
}

func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return c.afterWrite(ctx)(c.base.Upsert(ctx, record, criteria...))
}

func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return c.afterWrite(ctx)(c.base.UpsertTx(ctx, tx, record, criteria...))
}

func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return c.afterWriteMany(ctx)(c.base.UpsertMany(ctx, records, criteria...))
}

func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return c.afterWriteMany(ctx)(c.base.UpsertManyTx(ctx, tx, records, criteria...))
}

func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	return c.afterDelete(ctx, record, c.base.Delete(ctx, record))
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.afterDelete(ctx, record, c.base.DeleteTx(ctx, tx, record))
}

// ForceDelete bypasses soft delete in the base repository.
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	return c.afterDelete(ctx, record, c.base.ForceDelete(ctx, record))
}

func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return c.afterDelete(ctx, record, c.base.ForceDeleteTx(ctx, tx, record))
}

// DeleteMany and DeleteWhere do not know which records went away, so they
// drop the whole namespace.
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.afterCriteriaDelete(ctx, c.base.DeleteMany(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.afterCriteriaDelete(ctx, c.base.DeleteManyTx(ctx, tx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return c.afterCriteriaDelete(ctx, c.base.DeleteWhere(ctx, criteria...))
}

func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return c.afterCriteriaDelete(ctx, c.base.DeleteWhereTx(ctx, tx, criteria...))
}

// Reads inside a transaction, raw queries and Handlers are never cached.

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// invalidate drops every key under the namespace that starts with the
// given method and args.
func (c *CachedRepository[T]) invalidate(ctx context.Context, method string, args ...any) {
	prefix := c.namespace + cache.KeySeparator + method
	for _, a := range args {
		prefix += cache.KeySeparator + cache.FormatKeyValue(a)
	}
	pattern := prefix + cache.KeySeparator + "*"
	if n := c.manager.Invalidate(ctx, pattern); n > 0 {
		c.logger.Debug("invalidated cached reads", zap.String("pattern", pattern), zap.Int("keys", n))
	}
}

func (c *CachedRepository[T]) afterCreate(ctx context.Context) func(T, error) (T, error) {
	return func(record T, err error) (T, error) {
		if err == nil {
			c.dropQueries(ctx)
		}
		return record, err
	}
}

func (c *CachedRepository[T]) afterCreateMany(ctx context.Context) func([]T, error) ([]T, error) {
	return func(records []T, err error) ([]T, error) {
		if err == nil {
			c.dropQueries(ctx)
		}
		return records, err
	}
}

func (c *CachedRepository[T]) afterWrite(ctx context.Context) func(T, error) (T, error) {
	return func(record T, err error) (T, error) {
		if err == nil {
			c.dropRecord(ctx, record)
		}
		return record, err
	}
}

func (c *CachedRepository[T]) afterWriteMany(ctx context.Context) func([]T, error) ([]T, error) {
	return func(records []T, err error) ([]T, error) {
		if err == nil {
			for _, r := range records {
				c.dropRecord(ctx, r)
			}
		}
		return records, err
	}
}

func (c *CachedRepository[T]) afterDelete(ctx context.Context, record T, err error) error {
	if err == nil {
		c.dropRecord(ctx, record)
	}
	return err
}

func (c *CachedRepository[T]) afterCriteriaDelete(ctx context.Context, err error) error {
	if err == nil {
		n := c.manager.Invalidate(ctx, c.namespace+cache.KeySeparator+"*")
		c.logger.Debug("invalidated namespace", zap.Int("keys", n))
	}
	return err
}

// dropQueries drops the List and Count results a new record can change.
func (c *CachedRepository[T]) dropQueries(ctx context.Context) {
	c.invalidate(ctx, "List")
	c.invalidate(ctx, "Count")
}

// dropRecord drops the keyed reads of record, every Get result and the
// List and Count results.
func (c *CachedRepository[T]) dropRecord(ctx context.Context, record T) {
	if id, ok := fieldString(record, "ID", "Id"); ok {
		c.invalidate(ctx, "GetByID", id)
	}
	if ident, ok := fieldString(record, "Identifier", "Name", "Code"); ok {
		c.invalidate(ctx, "GetByIdentifier", ident)
	}
	c.invalidate(ctx, "Get")
	c.dropQueries(ctx)
}

// fieldString reads the first exported field found among names.
func fieldString(record any, names ...string) (string, bool) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", false
	}
	for _, name := range names {
		f := v.FieldByName(name)
		if f.IsValid() && f.CanInterface() {
			return fmt.Sprintf("%v", f.Interface()), true
		}
	}
	return "", false
}
