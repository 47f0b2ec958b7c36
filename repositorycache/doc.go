// Package repositorycache decorates go-repository-bun repositories with a
// cache.Manager.
//
// # Overview
//
// CachedRepository wraps a base repository. Reads made outside a transaction
// go through cache.GetOrSet, so they get the Manager's freshness windows,
// stale-while-revalidate refreshes and shared fetches. Writes are delegated
// to the base repository and, when they succeed, drop the cached reads they
// can affect.
//
// # Basic Usage
//
//	manager, _ := cache.NewManager(backend, cache.DefaultStrategies())
//	users := repositorycache.New[User](base, manager, nil,
//		repositorycache.WithStrategy(cache.Hot),
//	)
//
//	user, err := users.GetByID(ctx, "user-123")
//	list, total, err := users.List(ctx)
//
// # Keys
//
// Every key is the repository namespace, the method name and the serialized
// arguments joined by cache.KeySeparator:
//
//	user::GetByID::user-123::slice:nil
//
// The namespace defaults to the snake_case name of the record type and can
// be set with WithNamespace. Two repositories over the same Manager must use
// different namespaces.
//
// # Cached vs Pass-through Operations
//
// Cached: Get, GetByID, GetByIdentifier, List, Count.
//
// Pass-through: every *Tx read, Raw, RawTx and Handlers. Writes are
// pass-through too, followed by invalidation.
//
// # Invalidation
//
//   - Create, CreateMany and GetOrCreate drop List and Count results.
//   - Update, Upsert, Delete and ForceDelete (and their Many and Tx forms)
//     also drop the record's GetByID and GetByIdentifier entries and every
//     Get result. The ID is read from an ID field, the identifier from an
//     Identifier, Name or Code field.
//   - DeleteMany and DeleteWhere drop the whole namespace.
//
// Invalidation of a Tx write happens when the write returns, before the
// transaction commits. A concurrent read may cache the pre-commit state.
//
// # Per-call Control
//
// WithCacheStrategy selects a different strategy for reads made with a
// context, WithoutCache skips the cache entirely:
//
//	ctx = repositorycache.WithCacheStrategy(ctx, cache.Realtime)
//	ctx = repositorycache.WithoutCache(ctx)
package repositorycache
