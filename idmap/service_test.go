package idmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingStore lets every caller miss on its first Find so that they all try to insert.
type racingStore struct {
	*MemoryStore
	callers int
	ready   sync.WaitGroup
	misses  sync.Map
	inserts atomic.Int32
}

func newRacingStore(callers int) *racingStore {
	s := &racingStore{MemoryStore: NewMemoryStore(), callers: callers}
	s.ready.Add(callers)
	return s
}

func (s *racingStore) Find(ctx context.Context, sourceType, sourceID string) (string, bool, error) {
	if _, loaded := s.misses.LoadOrStore(ctx.Value(callerKey{}), true); !loaded {
		s.ready.Done()
		s.ready.Wait()
		return "", false, nil
	}
	return s.MemoryStore.Find(ctx, sourceType, sourceID)
}

func (s *racingStore) Insert(ctx context.Context, sourceType, sourceID, targetID string) error {
	s.inserts.Add(1)
	return s.MemoryStore.Insert(ctx, sourceType, sourceID, targetID)
}

type callerKey struct{}

type failingStore struct{}

func (failingStore) Find(ctx context.Context, sourceType, sourceID string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (failingStore) Insert(ctx context.Context, sourceType, sourceID, targetID string) error {
	return errors.New("connection refused")
}

type countingStore struct {
	*MemoryStore
	finds atomic.Int32
}

func (s *countingStore) Find(ctx context.Context, sourceType, sourceID string) (string, bool, error) {
	s.finds.Add(1)
	return s.MemoryStore.Find(ctx, sourceType, sourceID)
}

func TestResolveIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryStore(), Options{})
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "author", "1")
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, "author", "1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := svc.Resolve(ctx, "genre", "1")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestConcurrentResolveLeavesOneMapping(t *testing.T) {
	const callers = 8
	store := newRacingStore(callers)

	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// a service per caller so that nothing but the store arbitrates
			svc := NewService(store, Options{})
			ctx := context.WithValue(context.Background(), callerKey{}, i)
			id, err := svc.Resolve(ctx, "book", "42")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Count())
	assert.EqualValues(t, callers, store.inserts.Load())
	stored, found, err := store.MemoryStore.Find(context.Background(), "book", "42")
	require.NoError(t, err)
	require.True(t, found)
	for _, id := range ids {
		assert.Equal(t, stored, id)
	}
}

func TestResolveUsesCache(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, Options{MaximumSize: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Resolve(ctx, "genre", "7")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, store.finds.Load())

	// evict "7" by touching two other keys
	for _, id := range []string{"8", "9"} {
		_, err := svc.Resolve(ctx, "genre", id)
		require.NoError(t, err)
	}
	before := store.finds.Load()
	_, err := svc.Resolve(ctx, "genre", "7")
	require.NoError(t, err)
	assert.Equal(t, before+1, store.finds.Load())
}

func TestPerTypeCacheCanBeDisabled(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, Options{PerType: map[string]int{"comment": -1}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Resolve(ctx, "comment", "1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, store.finds.Load())
}

func TestLookup(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, Options{})
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "author", "1")
	assert.ErrorIs(t, err, ErrNotMapped)
	assert.Equal(t, 0, store.Count())

	id, err := svc.Resolve(ctx, "author", "1")
	require.NoError(t, err)
	found, err := svc.Lookup(ctx, "author", "1")
	require.NoError(t, err)
	assert.Equal(t, id, found)
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	svc := NewService(failingStore{}, Options{})
	_, err := svc.Resolve(context.Background(), "author", "1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = svc.Lookup(context.Background(), "author", "1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPurge(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, Options{NewID: sequence()})
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "author", "1")
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	svc.Purge()
	second, err := svc.Resolve(ctx, "author", "1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func sequence() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}
