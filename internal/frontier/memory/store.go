// Package memory provides an in-process frontier store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

type frontier struct {
	queue      []string
	processing map[string]struct{}
	visited    map[string]struct{}
	failed     map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{
		processing: make(map[string]struct{}),
		visited:    make(map[string]struct{}),
		failed:     make(map[string]struct{}),
	}
}

// Store implements crawler.FrontierStore with the same semantics as the Redis
// store, minus durability and sharing across processes.
type Store struct {
	mu        sync.Mutex
	frontiers map[string]*frontier
	lockOwner string
	owner     string
}

// New creates an empty Store. owner identifies the restore lock holder.
func New(owner string) *Store {
	if owner == "" {
		owner = "memory"
	}
	return &Store{
		frontiers: make(map[string]*frontier),
		owner:     owner,
	}
}

// WithOwner returns a handle sharing this store's data but holding a different
// lock identity, which lets tests model several workers on one frontier.
func (s *Store) WithOwner(owner string) *Handle {
	return &Handle{Store: s, owner: owner}
}

// Handle is a Store view with its own lock owner.
type Handle struct {
	*Store
	owner string
}

// AcquireRestoreLock takes the shared lock for this handle's owner.
func (h *Handle) AcquireRestoreLock(_ context.Context) (bool, error) {
	return h.acquire(h.owner), nil
}

// ReleaseRestoreLock releases the shared lock if this handle owns it.
func (h *Handle) ReleaseRestoreLock(_ context.Context) error {
	return h.release(h.owner)
}

func (s *Store) get(key string) *frontier {
	f, ok := s.frontiers[key]
	if !ok {
		f = newFrontier()
		s.frontiers[key] = f
	}
	return f
}

// Push appends item to the tail of the key's queue.
func (s *Store) Push(ctx context.Context, key string, item crawler.Item) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push canceled: %w", err)
	}
	data, err := crawler.Encode(item)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	f.queue = append(f.queue, string(data))
	return nil
}

// PushRaw appends an undecoded entry, mirroring what a foreign writer could leave in Redis.
func (s *Store) PushRaw(key, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	f.queue = append(f.queue, raw)
}

// Pop removes the head of the key's queue.
func (s *Store) Pop(ctx context.Context, key string) (crawler.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pop canceled: %w", err)
	}
	s.mu.Lock()
	f := s.get(key)
	if len(f.queue) == 0 {
		s.mu.Unlock()
		return nil, crawler.ErrQueueEmpty
	}
	raw := f.queue[0]
	f.queue = f.queue[1:]
	s.mu.Unlock()

	item, err := crawler.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("pop %q: %w", raw, err)
	}
	return item, nil
}

// MarkProcessing records url as claimed.
func (s *Store) MarkProcessing(_ context.Context, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(key).processing[url] = struct{}{}
	return nil
}

// MarkVisited moves url from processing to visited.
func (s *Store) MarkVisited(_ context.Context, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	f.visited[url] = struct{}{}
	delete(f.processing, url)
	return nil
}

// MarkFailed moves url from processing to visited and failed.
func (s *Store) MarkFailed(_ context.Context, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	f.failed[url] = struct{}{}
	f.visited[url] = struct{}{}
	delete(f.processing, url)
	return nil
}

// Release drops the processing claim on url.
func (s *Store) Release(_ context.Context, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.get(key).processing, url)
	return nil
}

// IsVisited reports membership in the visited set.
func (s *Store) IsVisited(_ context.Context, key, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key).visited[url]
	return ok, nil
}

// IsProcessing reports membership in the processing set.
func (s *Store) IsProcessing(_ context.Context, key, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key).processing[url]
	return ok, nil
}

// QueueLength returns the number of pending items.
func (s *Store) QueueLength(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.get(key).queue)), nil
}

// Stats counts every collection of the key.
func (s *Store) Stats(_ context.Context, key string) (crawler.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	return crawler.Stats{
		Key:        key,
		Queued:     int64(len(f.queue)),
		Processing: int64(len(f.processing)),
		Visited:    int64(len(f.visited)),
		Failed:     int64(len(f.failed)),
	}, nil
}

// IsEmpty reports whether queue, processing and visited are all empty.
func (s *Store) IsEmpty(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	return len(f.queue) == 0 && len(f.processing) == 0 && len(f.visited) == 0, nil
}

// Clear drops every collection of the key.
func (s *Store) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frontiers, key)
	return nil
}

// Snapshot copies the key's state.
func (s *Store) Snapshot(_ context.Context, key string) (crawler.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(key)
	return crawler.State{
		Queue:      append([]string{}, f.queue...),
		Processing: members(f.processing),
		Visited:    members(f.visited),
		Failed:     members(f.failed),
	}, nil
}

// RestoreFrom replaces the key's state with state.
func (s *Store) RestoreFrom(_ context.Context, key string, state crawler.State) error {
	f := newFrontier()
	f.queue = append([]string{}, state.Queue...)
	for _, u := range state.Processing {
		f.processing[u] = struct{}{}
	}
	for _, u := range state.Visited {
		f.visited[u] = struct{}{}
	}
	for _, u := range state.Failed {
		f.failed[u] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontiers[key] = f
	return nil
}

// AcquireRestoreLock takes the lock if nobody holds it.
func (s *Store) AcquireRestoreLock(_ context.Context) (bool, error) {
	return s.acquire(s.owner), nil
}

// ReleaseRestoreLock releases the lock if this store owns it.
func (s *Store) ReleaseRestoreLock(_ context.Context) error {
	return s.release(s.owner)
}

// LockHolder returns the current lock owner, or "" when free.
func (s *Store) LockHolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockOwner
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) acquire(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockOwner != "" {
		return false
	}
	s.lockOwner = owner
	return true
}

func (s *Store) release(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockOwner != owner {
		return crawler.ErrLockNotHeld
	}
	s.lockOwner = ""
	return nil
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

var (
	_ crawler.FrontierStore = (*Store)(nil)
	_ crawler.FrontierStore = (*Handle)(nil)
)
