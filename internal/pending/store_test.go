package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory redisClient. Key expiry is not modelled.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	pingErr error
	setErr  error
	delErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func toBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = toBytes(value)
	f.ttls[key] = expiration
	return true, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = toBytes(value)
	f.ttls[key] = expiration
	return nil
}

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, errKeyNotFound
	}
	return v, nil
}

func (f *fakeRedis) GetDel(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, errKeyNotFound
	}
	delete(f.data, key)
	return v, nil
}

func (f *fakeRedis) DelIfEqual(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	if string(f.data[key]) == value {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeRedis) Ping(context.Context) error { return f.pingErr }

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) keys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func newTestRedisStore(t *testing.T) (*RedisStore, *fakeRedis) {
	t.Helper()
	client := newFakeRedis()
	store, err := NewRedisStore(context.Background(), client, "test:", time.Minute)
	require.NoError(t, err)
	return store, client
}

func entry(owner, token string) transfer.PendingEntry {
	return transfer.PendingEntry{
		Token:     token,
		OwnerID:   owner,
		Metadata:  `{"coin":"xla"}`,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// storeContract exercises the behaviour every PendingStore must share.
func storeContract(t *testing.T, store transfer.PendingStore) {
	ctx := context.Background()

	got, err := store.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Create(ctx, entry("alice", "tok-a")))
	assert.ErrorIs(t, store.Create(ctx, entry("alice", "tok-b")), transfer.ErrOwnerHasPending)
	require.NoError(t, store.Create(ctx, entry("bob", "tok-c")))

	got, err = store.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-a", got.Token)
	assert.True(t, got.CreatedAt.Equal(entry("alice", "tok-a").CreatedAt))

	got, err = store.FindByToken(ctx, "tok-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, `{"coin":"xla"}`, got.Metadata)

	got, err = store.FindByToken(ctx, "tok-b")
	require.NoError(t, err)
	assert.Nil(t, got)

	taken, err := store.Take(ctx, "tok-a")
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, "alice", taken.OwnerID)

	taken, err = store.Take(ctx, "tok-a")
	require.NoError(t, err)
	assert.Nil(t, taken, "an entry is handed out once")

	got, err = store.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The owner is free again.
	require.NoError(t, store.Create(ctx, entry("alice", "tok-d")))

	got, err = store.FindByOwner(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
}

// takeOnce races n callers for one entry.
func takeOnce(t *testing.T, store transfer.PendingStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, entry("carol", "tok-race")))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.Take(ctx, "tok-race")
			if err == nil && got != nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

// stageOnce races n Stage calls for one owner through a registry.
func stageOnce(t *testing.T, store transfer.PendingStore) {
	ctx := context.Background()
	reg := transfer.NewRegistry(store, time.Minute)

	var staged, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Stage(ctx, "dave", fmt.Sprintf("payload-%d", i))
			if err == nil {
				atomic.AddInt32(&staged, 1)
				return
			}
			if transfer.KindOf(err) == transfer.PendingTransactionConflict {
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), staged)
	assert.Equal(t, int32(15), conflicts)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	storeContract(t, store)
	assert.Equal(t, 2, store.Len())
	takeOnce(t, NewMemoryStore())
	stageOnce(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t)
	storeContract(t, store)

	store, _ = newTestRedisStore(t)
	takeOnce(t, store)

	store, _ = newTestRedisStore(t)
	stageOnce(t, store)
}

func TestRedisStoreKeys(t *testing.T) {
	ctx := context.Background()
	store, client := newTestRedisStore(t)

	require.NoError(t, store.Create(ctx, entry("alice", "tok-a")))
	assert.Equal(t, []byte("tok-a"), client.data["test:owner:alice"])
	assert.Contains(t, string(client.data["test:token:tok-a"]), `"owner_id":"alice"`)
	assert.Equal(t, 2*time.Minute, client.ttls["test:owner:alice"])
	assert.Equal(t, 2*time.Minute, client.ttls["test:token:tok-a"])

	_, err := store.Take(ctx, "tok-a")
	require.NoError(t, err)
	assert.Zero(t, client.keys())
}

func TestRedisStoreReleasesClaimOnFailedWrite(t *testing.T) {
	ctx := context.Background()
	store, client := newTestRedisStore(t)
	client.setErr = errors.New("READONLY")

	assert.Error(t, store.Create(ctx, entry("alice", "tok-a")))
	assert.Zero(t, client.keys())

	client.setErr = nil
	assert.NoError(t, store.Create(ctx, entry("alice", "tok-b")))
}

func TestRedisStoreOrphanedClaim(t *testing.T) {
	ctx := context.Background()
	store, client := newTestRedisStore(t)
	client.data["test:owner:alice"] = []byte("tok-gone")

	got, err := store.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, client.keys(), "orphaned claim is cleared")
}

func TestRedisStoreTakeKeepsEntryWhenReleaseFails(t *testing.T) {
	ctx := context.Background()
	store, client := newTestRedisStore(t)
	require.NoError(t, store.Create(ctx, entry("alice", "tok-a")))

	client.delErr = errors.New("connection reset")
	taken, err := store.Take(ctx, "tok-a")
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, "alice", taken.OwnerID)
}

func TestNewRedisStoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisStore(ctx, nil, "", time.Minute)
	assert.Error(t, err)

	_, err = NewRedisStore(ctx, newFakeRedis(), "", 0)
	assert.Error(t, err)

	client := newFakeRedis()
	client.pingErr = errors.New("refused")
	_, err = NewRedisStore(ctx, client, "", time.Minute)
	assert.Error(t, err)

	store, err := NewRedisStore(ctx, newFakeRedis(), "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "tipbot:pending:owner:x", store.ownerKey("x"))
}

func TestRegistryOverStores(t *testing.T) {
	stores := map[string]func(t *testing.T) transfer.PendingStore{
		"memory": func(*testing.T) transfer.PendingStore { return NewMemoryStore() },
		"redis": func(t *testing.T) transfer.PendingStore {
			s, _ := newTestRedisStore(t)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			reg := transfer.NewRegistry(open(t), time.Minute, transfer.WithClock(func() time.Time { return now }))

			token, err := reg.Stage(ctx, "alice", "payload")
			require.NoError(t, err)

			_, err = reg.Stage(ctx, "alice", "again")
			assert.Equal(t, transfer.PendingTransactionConflict, transfer.KindOf(err))

			now = now.Add(59 * time.Second)
			require.NoError(t, reg.Consume(ctx, "alice", token, func(_ context.Context, metadata string) error {
				assert.Equal(t, "payload", metadata)
				return nil
			}))

			token, err = reg.Stage(ctx, "alice", "later")
			require.NoError(t, err)
			now = now.Add(time.Minute)
			err = reg.Consume(ctx, "alice", token, func(context.Context, string) error { return nil })
			assert.Equal(t, transfer.PendingTransactionExpiredOrUnknown, transfer.KindOf(err))
		})
	}
}
