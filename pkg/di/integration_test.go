package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/goliatone/go-cache-router/cache"
	"github.com/goliatone/go-cache-router/pkg/testsupport"
	"github.com/goliatone/go-cache-router/replica"
	"github.com/goliatone/go-cache-router/repositorycache"
)

type User struct {
	ID       string `json:"id" bun:"id,pk"`
	Name     string `json:"name" bun:"name"`
	Email    string `json:"email" bun:"email"`
	CreateTs int64  `json:"create_ts" bun:"create_ts"`
}

// memoryUsers is an in-memory user store that counts calls per method.
// Methods it does not override panic through the nil embedded interface.
type memoryUsers struct {
	repository.Repository[User]

	mu    sync.RWMutex
	users map[string]User
	calls map[string]int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]User{}, calls: map[string]int{}}
}

func (m *memoryUsers) count(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *memoryUsers) getCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (m *memoryUsers) put(u User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *memoryUsers) GetByID(_ context.Context, id string, _ ...repository.SelectCriteria) (User, error) {
	m.count("GetByID")
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, errors.New("user not found")
	}
	return u, nil
}

func (m *memoryUsers) List(_ context.Context, _ ...repository.SelectCriteria) ([]User, int, error) {
	m.count("List")
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

func (m *memoryUsers) Count(_ context.Context, _ ...repository.SelectCriteria) (int, error) {
	m.count("Count")
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *memoryUsers) Create(_ context.Context, u User, _ ...repository.InsertCriteria) (User, error) {
	m.count("Create")
	if u.CreateTs == 0 {
		u.CreateTs = time.Now().Unix()
	}
	m.put(u)
	return u, nil
}

func (m *memoryUsers) Update(_ context.Context, u User, _ ...repository.UpdateCriteria) (User, error) {
	m.count("Update")
	m.put(u)
	return u, nil
}

func (m *memoryUsers) Delete(_ context.Context, u User) error {
	m.count("Delete")
	m.mu.Lock()
	delete(m.users, u.ID)
	m.mu.Unlock()
	return nil
}

func (m *memoryUsers) DeleteMany(_ context.Context, _ ...repository.DeleteCriteria) error {
	m.count("DeleteMany")
	m.mu.Lock()
	m.users = map[string]User{}
	m.mu.Unlock()
	return nil
}

func (m *memoryUsers) Raw(context.Context, string, ...any) ([]User, error) {
	m.count("Raw")
	return nil, errors.New("raw queries not supported")
}

func (m *memoryUsers) Handlers() repository.ModelHandlers[User] {
	return repository.ModelHandlers[User]{}
}

func newTestContainer(t *testing.T) (*Container, *testsupport.FakeBackend) {
	t.Helper()
	backend := testsupport.NewFakeBackend()
	c, err := NewContainerWithDefaults(WithLogger(zaptest.NewLogger(t)), WithBackend(backend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, backend
}

func TestEndToEndCachedRepositoryFlow(t *testing.T) {
	c, _ := newTestContainer(t)
	base := newMemoryUsers()
	users := NewCachedRepository[User](c, base)
	ctx := context.Background()

	_, err := users.Create(ctx, User{ID: "u1", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := users.GetByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)
	}
	assert.Equal(t, 1, base.getCallCount("GetByID"), "repeated reads are served from the cache")

	_, err = users.Update(ctx, User{ID: "u1", Name: "Alice Smith", Email: "alice@example.com"})
	require.NoError(t, err)

	got, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", got.Name)
	assert.Equal(t, 2, base.getCallCount("GetByID"), "update invalidates the cached read")

	summary := c.Monitor().Summary()
	assert.Equal(t, uint64(2), summary.Misses)
	assert.Equal(t, uint64(2), summary.Hits)
	assert.Equal(t, 1, summary.TrackedKeys)
}

func TestListAndCountInvalidatedByCreate(t *testing.T) {
	c, _ := newTestContainer(t)
	base := newMemoryUsers()
	users := NewCachedRepository[User](c, base)
	ctx := context.Background()

	_, err := users.Create(ctx, User{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	count, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, total, err := users.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = users.Create(ctx, User{ID: "u2", Name: "Bob"})
	require.NoError(t, err)

	count, err = users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	records, total, err := users.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, base.getCallCount("Count"))
	assert.Equal(t, 2, base.getCallCount("List"))
}

func TestDeleteManyClearsNamespace(t *testing.T) {
	c, backend := newTestContainer(t)
	base := newMemoryUsers()
	users := NewCachedRepository[User](c, base)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		_, err := users.Create(ctx, User{ID: id, Name: id})
		require.NoError(t, err)
		_, err = users.GetByID(ctx, id)
		require.NoError(t, err)
	}
	require.NotEmpty(t, backend.Keys())

	require.NoError(t, users.DeleteMany(ctx))
	assert.Empty(t, backend.Keys())

	_, err := users.GetByID(repositorycache.WithCacheStrategy(ctx, cache.Realtime), "u1")
	require.Error(t, err)
}

func TestWriteMethodPassThrough(t *testing.T) {
	c, _ := newTestContainer(t)
	base := newMemoryUsers()
	users := NewCachedRepository[User](c, base)
	ctx := context.Background()

	_, err := users.Create(ctx, User{ID: "u1", Name: "Alice"})
	require.NoError(t, err)
	_, err = users.Update(ctx, User{ID: "u1", Name: "Alicia"})
	require.NoError(t, err)
	require.NoError(t, users.Delete(ctx, User{ID: "u1"}))

	assert.Equal(t, 1, base.getCallCount("Create"))
	assert.Equal(t, 1, base.getCallCount("Update"))
	assert.Equal(t, 1, base.getCallCount("Delete"))

	_, err = users.Raw(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, 1, base.getCallCount("Raw"))
	assert.NotNil(t, users.Handlers())
}

func TestErrorPropagation(t *testing.T) {
	c, backend := newTestContainer(t)
	users := NewCachedRepository[User](c, newMemoryUsers(),
		repositorycache.WithStrategy(cache.Realtime),
	)

	_, err := users.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user not found")
	assert.Empty(t, backend.Keys(), "failed reads are not cached")
	assert.Equal(t, uint64(1), c.Monitor().Summary().Errors)
}

func TestRepositoriesShareContainerByNamespace(t *testing.T) {
	c, backend := newTestContainer(t)
	ctx := context.Background()

	userBase := newMemoryUsers()
	userBase.users["1"] = User{ID: "1", Name: "Alice"}
	users := NewCachedRepository[User](c, userBase)
	archived := NewCachedRepository[User](c, newMemoryUsers(),
		repositorycache.WithNamespace("archived_user"),
		repositorycache.WithStrategy(cache.Realtime),
	)

	_, err := users.GetByID(ctx, "1")
	require.NoError(t, err)
	_, err = archived.GetByID(ctx, "1")
	require.Error(t, err, "same key in another namespace is not shared")

	assert.Equal(t, "user", users.Namespace())
	assert.Equal(t, "archived_user", archived.Namespace())
	for _, k := range backend.Keys() {
		assert.Regexp(t, `^user::`, k)
	}
}

func TestRoutedQueryResultsAreCached(t *testing.T) {
	execs := newExecutorSet()
	c, err := NewContainer(poolsConfig(),
		WithLogger(zaptest.NewLogger(t)),
		WithBackend(testsupport.NewFakeBackend()),
		WithExecutorFactory(execs.factory),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	const q = "SELECT region, SUM(total) FROM orders GROUP BY region"
	load := func(ctx context.Context) (replica.Rows, error) {
		return c.Router().Execute(ctx, q, nil)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rows, err := cache.GetOrSet(ctx, c.Manager(), "report:regions", cache.Hot, load)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "replica-1", rows[0]["pool"])
	}
	assert.Equal(t, 1, execs.get("replica-1").CallCount())
	assert.Equal(t, 0, execs.get("primary").CallCount())
}

func TestConcurrentReadsThroughContainer(t *testing.T) {
	c, _ := newTestContainer(t)
	base := newMemoryUsers()
	base.users["u1"] = User{ID: "u1", Name: "Alice"}
	users := NewCachedRepository[User](c, base)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := users.GetByID(context.Background(), "u1")
			assert.NoError(t, err)
			assert.Equal(t, "Alice", got.Name)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, base.getCallCount("GetByID"), 25)
	assert.GreaterOrEqual(t, base.getCallCount("GetByID"), 1)
}
