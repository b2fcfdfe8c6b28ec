package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/memory"
	"github.com/JakeFAU/frontier-crawler/internal/snapshot/local"
)

const testKey = "www.example.go.kr"

func newSnapshots(t *testing.T) *local.Store {
	t.Helper()
	s, err := local.New(local.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func seedState(t *testing.T) crawler.State {
	t.Helper()
	p, err := crawler.NewPage("https://example.com/next")
	require.NoError(t, err)
	raw, err := crawler.Encode(p)
	require.NoError(t, err)
	return crawler.State{
		Queue:      []string{string(raw)},
		Processing: []string{"https://example.com/stuck"},
		Visited:    []string{"https://example.com/", "https://example.com/stuck-before"},
	}
}

func saveState(t *testing.T, snaps crawler.SnapshotStore, state crawler.State) {
	t.Helper()
	data, err := crawler.EncodeState(state)
	require.NoError(t, err)
	require.NoError(t, snaps.Save(context.Background(), testKey, data))
}

func TestRestoreWithoutSnapshotStartsFresh(t *testing.T) {
	store := memory.New("w1")
	c := New(store, newSnapshots(t), testKey, zap.NewNop())

	outcome, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, outcome)
	assert.Empty(t, store.LockHolder())
}

func TestRestoreSkipsWhenStoreActive(t *testing.T) {
	ctx := context.Background()
	store := memory.New("w1")
	require.NoError(t, store.MarkVisited(ctx, testKey, "https://example.com/"))
	snaps := newSnapshots(t)
	saveState(t, snaps, seedState(t))

	outcome, err := New(store, snaps, testKey, zap.NewNop()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedActive, outcome)

	ok, err := snaps.Exists(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, ok, "snapshot must be kept when restore is skipped")
}

func TestRestoreLoadsSnapshotAndDeletesIt(t *testing.T) {
	ctx := context.Background()
	store := memory.New("w1")
	snaps := newSnapshots(t)
	want := seedState(t)
	saveState(t, snaps, want)

	outcome, err := New(store, snaps, testKey, zap.NewNop()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestored, outcome)

	got, err := store.Snapshot(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, want.Queue, got.Queue)
	assert.ElementsMatch(t, want.Processing, got.Processing)
	assert.ElementsMatch(t, want.Visited, got.Visited)

	ok, err := snaps.Exists(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, store.LockHolder(), "lock must be released")
}

func TestRestoreFailureKeepsSnapshot(t *testing.T) {
	cases := map[string]struct {
		snapshot func(t *testing.T, snaps crawler.SnapshotStore)
		store    func(m *memory.Store) crawler.FrontierStore
	}{
		"corrupt snapshot": {
			snapshot: func(t *testing.T, snaps crawler.SnapshotStore) {
				require.NoError(t, snaps.Save(context.Background(), testKey, []byte(`{"queue": [`)))
			},
			store: func(m *memory.Store) crawler.FrontierStore { return m },
		},
		"store rejects restore": {
			snapshot: func(t *testing.T, snaps crawler.SnapshotStore) { saveState(t, snaps, seedState(t)) },
			store:    func(m *memory.Store) crawler.FrontierStore { return &partialRestoreStore{Store: m} },
		},
		"store rejects clear": {
			snapshot: func(t *testing.T, snaps crawler.SnapshotStore) { saveState(t, snaps, seedState(t)) },
			store:    func(m *memory.Store) crawler.FrontierStore { return &clearFailStore{Store: m} },
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := memory.New("w1")
			snaps := newSnapshots(t)
			tc.snapshot(t, snaps)

			outcome, err := New(tc.store(mem), snaps, testKey, zap.NewNop()).Restore(ctx)
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, outcome)

			ok, err := snaps.Exists(ctx, testKey)
			require.NoError(t, err)
			assert.True(t, ok, "snapshot must be kept")
			assert.Empty(t, mem.LockHolder())
			empty, err := mem.IsEmpty(ctx, testKey)
			require.NoError(t, err)
			assert.True(t, empty, "a failed restore must not leave partial state")
		})
	}
}

func TestRestoreLosesRaceWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	store := memory.New("w1")
	other := store.WithOwner("w2")
	ok, err := other.AcquireRestoreLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	snaps := newSnapshots(t)
	saveState(t, snaps, seedState(t))

	outcome, err := New(store, snaps, testKey, zap.NewNop()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLostRace, outcome)
	assert.Equal(t, "w2", store.LockHolder(), "loser must not release the winner's lock")
}

func TestConcurrentRestoreHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.New("w0")
	snaps := newSnapshots(t)
	want := seedState(t)
	saveState(t, snaps, want)

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < workers; i++ {
		handle := store.WithOwner(string(rune('a' + i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := New(handle, snaps, testKey, zap.NewNop()).Restore(ctx)
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeRestored], "outcomes: %v", outcomes)
	got, err := store.Snapshot(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, want.Queue, got.Queue, "state must be restored exactly once")
}

func TestRestorePropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	snaps := newSnapshots(t)
	saveState(t, snaps, seedState(t))
	store := &unavailableStore{Store: memory.New("w1")}

	_, err := New(store, snaps, testKey, zap.NewNop()).Restore(ctx)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

func TestPersistWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.New("w1")
	snaps := newSnapshots(t)
	p, err := crawler.NewPage("https://example.com/")
	require.NoError(t, err)
	require.NoError(t, store.Push(ctx, testKey, p))
	require.NoError(t, store.MarkVisited(ctx, testKey, "https://example.com/old"))

	c := New(store, snaps, testKey, zap.NewNop())
	require.NoError(t, c.Persist(ctx))

	data, err := snaps.Load(ctx, testKey)
	require.NoError(t, err)
	state, err := crawler.DecodeState(data)
	require.NoError(t, err)
	require.Len(t, state.Queue, 1)
	assert.Equal(t, []string{"https://example.com/old"}, state.Visited)

	// A second worker restores exactly what was persisted.
	fresh := memory.New("w2")
	outcome, err := New(fresh, snaps, testKey, zap.NewNop()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestored, outcome)
	n, err := fresh.QueueLength(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- fakes ---

type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) IsEmpty(context.Context, string) (bool, error) {
	return false, errors.Join(crawler.ErrStoreUnavailable, errors.New("dial tcp: connection refused"))
}

// partialRestoreStore writes part of the state and then fails, like a
// connection dropped between restore chunks.
type partialRestoreStore struct {
	*memory.Store
}

func (s *partialRestoreStore) RestoreFrom(ctx context.Context, key string, state crawler.State) error {
	for _, url := range state.Visited[:1] {
		if err := s.Store.MarkVisited(ctx, key, url); err != nil {
			return err
		}
	}
	return fmt.Errorf("redis restore after 3 attempts: %w", crawler.ErrStoreUnavailable)
}

type clearFailStore struct {
	*memory.Store
}

func (clearFailStore) Clear(context.Context, string) error {
	return fmt.Errorf("redis clear after 3 attempts: %w", crawler.ErrStoreUnavailable)
}
