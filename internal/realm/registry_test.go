package realm_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/realm"
	"github.com/SirClappington/restq/internal/storage"
)

func TestRegistry_GetCaches(t *testing.T) {
	ctx := context.Background()
	reg := realm.NewRegistry(storage.NewMemoryStore())

	a, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	b, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, ok := reg.Lookup("beta")
	assert.False(t, ok)

	_, err = reg.Get(ctx, "..")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestRegistry_ConcurrentGetBuildsOnce(t *testing.T) {
	ctx := context.Background()
	reg := realm.NewRegistry(storage.NewMemoryStore())

	const n = 32
	got := make([]*realm.Realm, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rlm, err := reg.Get(ctx, "shared")
			assert.NoError(t, err)
			got[i] = rlm
		}()
	}
	wg.Wait()

	for _, rlm := range got {
		assert.Same(t, got[0], rlm)
	}
	assert.Len(t, reg.Current(), 1)
}

func TestRegistry_DefaultLeaseTime(t *testing.T) {
	ctx := context.Background()
	reg := realm.NewRegistry(storage.NewMemoryStore(), realm.WithRealmDefaultLeaseTime(45*time.Second))

	rlm, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 45, rlm.Config().DefaultLeaseTime)
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := realm.NewRegistry(store)

	rlm, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, rlm.Add(ctx, "j", "0", nil, nil))

	require.NoError(t, reg.Delete(ctx, "alpha"))
	_, ok := reg.Lookup("alpha")
	assert.False(t, ok)
	_, ok, err = store.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, reg.Delete(ctx, "alpha"), domain.ErrNotFound)

	fresh, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.NotSame(t, rlm, fresh)
	assert.Zero(t, fresh.Status().TotalJobs)
	assert.Empty(t, fresh.QueueIDs())
}

func TestRegistry_CurrentAndStatus(t *testing.T) {
	ctx := context.Background()
	reg := realm.NewRegistry(storage.NewMemoryStore())
	for _, id := range []string{"b", "a", "c"} {
		_, err := reg.Get(ctx, id)
		require.NoError(t, err)
	}
	rlm, _ := reg.Lookup("b")
	require.NoError(t, rlm.Add(ctx, "j", "0", nil, []string{"t"}))

	var ids []string
	for _, r := range reg.Current() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	st := reg.Status()
	require.Len(t, st, 3)
	assert.Equal(t, domain.RealmStatus{TotalJobs: 1, TotalTags: 1, Queues: map[string]int{"0": 1}}, st["b"])
	assert.Equal(t, domain.RealmStatus{Queues: map[string]int{}}, st["a"])
}

func TestRegistry_Attach(t *testing.T) {
	ctx := context.Background()

	old := storage.NewMemoryStore()
	reg := realm.NewRegistry(old)
	_, err := reg.Get(ctx, "stale")
	require.NoError(t, err)

	next := storage.NewMemoryStore()
	require.NoError(t, next.Save(ctx, "one", domain.RealmConfig{
		DefaultLeaseTime: 30,
		Queues:           []domain.QueueConfig{{ID: "0", LeaseTime: 5}},
	}))
	require.NoError(t, next.Save(ctx, "two", domain.RealmConfig{DefaultLeaseTime: 60}))

	require.NoError(t, reg.Attach(ctx, next))
	assert.Same(t, next, reg.Store())

	_, ok := reg.Lookup("stale")
	assert.False(t, ok)

	one, ok := reg.Lookup("one")
	require.True(t, ok)
	assert.Equal(t, []string{"0"}, one.QueueIDs())
	assert.Equal(t, 30, one.Config().DefaultLeaseTime)

	_, ok = reg.Lookup("two")
	assert.True(t, ok)
}

func TestRegistry_SetConfigRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first := realm.NewRegistry(storage.NewMemoryStore())
	require.NoError(t, first.SetConfigRoot(ctx, root))
	rlm, err := first.Get(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, rlm.Add(ctx, "j", "3", []byte(`{}`), nil))
	require.NoError(t, rlm.SetQueueLeaseTime(ctx, "3", 7*time.Second))

	require.FileExists(t, filepath.Join(root, "alpha"+storage.FileExt))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("not a realm"), 0o644))

	// A second process pointing at the same directory sees the realm's
	// queues but none of its jobs.
	second := realm.NewRegistry(storage.NewMemoryStore())
	require.NoError(t, second.SetConfigRoot(ctx, root))

	loaded, ok := second.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, rlm.Config(), loaded.Config())
	assert.Zero(t, loaded.Status().TotalJobs)
	assert.Len(t, second.Current(), 1)
}

func TestRegistry_DeletedHandleCannotWriteBack(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := realm.NewRegistry(store)

	stale, err := reg.Get(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, stale.Add(ctx, "j", "0", nil, nil))
	require.NoError(t, reg.Delete(ctx, "alpha"))

	assert.ErrorIs(t, stale.Add(ctx, "k", "1", nil, nil), domain.ErrNotFound)
	assert.ErrorIs(t, stale.SetQueueLeaseTime(ctx, "2", time.Second), domain.ErrNotFound)
	assert.ErrorIs(t, stale.SetDefaultLeaseTime(ctx, time.Second), domain.ErrNotFound)
	assert.Empty(t, stale.Pull(10))
	assert.Zero(t, stale.Status().TotalJobs)

	_, ok, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)
}

// pausingStore blocks the first Load after it has read the store, until
// resume is closed.
type pausingStore struct {
	*storage.MemoryStore
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func (s *pausingStore) Load(ctx context.Context, id string) (domain.RealmConfig, bool, error) {
	cfg, ok, err := s.MemoryStore.Load(ctx, id)
	s.once.Do(func() {
		close(s.paused)
		<-s.resume
	})
	return cfg, ok, err
}

func TestRegistry_DeleteDuringFirstGet(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{
		MemoryStore: storage.NewMemoryStore(),
		paused:      make(chan struct{}),
		resume:      make(chan struct{}),
	}
	require.NoError(t, store.Save(ctx, "alpha", domain.RealmConfig{
		DefaultLeaseTime: 30,
		Queues:           []domain.QueueConfig{{ID: "old", LeaseTime: 5}},
	}))
	reg := realm.NewRegistry(store, realm.WithRealmDefaultLeaseTime(time.Minute))

	type result struct {
		rlm *realm.Realm
		err error
	}
	done := make(chan result, 1)
	go func() {
		rlm, err := reg.Get(ctx, "alpha")
		done <- result{rlm, err}
	}()

	<-store.paused
	require.NoError(t, reg.Delete(ctx, "alpha"))
	close(store.resume)

	res := <-done
	require.NoError(t, res.err)
	assert.Empty(t, res.rlm.QueueIDs(), "config read before the delete is not cached")
	assert.Equal(t, 60, res.rlm.Config().DefaultLeaseTime)

	cached, ok := reg.Lookup("alpha")
	require.True(t, ok)
	assert.Same(t, res.rlm, cached)

	stored, ok, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cached.Config(), stored)
}
