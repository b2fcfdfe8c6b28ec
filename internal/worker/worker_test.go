package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/memory"
)

const testKey = "www.example.go.kr"

func newTestWorker(t *testing.T, store crawler.FrontierStore, deps Dependencies, cfg Config) *Worker {
	t.Helper()
	cfg.Key = testKey
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	cfg.EmptyWait = time.Millisecond
	cfg.StoreBackoff = time.Millisecond
	if deps.Downloader == nil {
		deps.Downloader = &fakeDownloader{}
	}
	if deps.Sink == nil {
		deps.Sink = &fakeSink{}
	}
	w, err := New(store, deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return w
}

func mustLink(t *testing.T, raw, parent string) crawler.Link {
	t.Helper()
	l, err := crawler.NewLink(raw, parent)
	require.NoError(t, err)
	return l
}

func mustPage(t *testing.T, raw string) crawler.Page {
	t.Helper()
	p, err := crawler.NewPage(raw)
	require.NoError(t, err)
	return p
}

func TestWorker_SeedsCrawlsAndDrains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	root := "https://example.com/"
	pages := newFakePages()
	pages.discover[root] = []crawler.Item{
		mustLink(t, "https://example.com/a", root),
		mustLink(t, "https://example.com/b", root),
		mustLink(t, "https://other.org/out", root),
	}
	pages.discover["https://example.com/a"] = []crawler.Item{
		mustLink(t, "https://example.com/", "https://example.com/a"),
	}
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{
		Pages: pages,
		Seeds: fakeSeeds{root, "not a url"},
		Scope: hostScope("example.com"),
		Sink:  sink,
	}, Config{Seed: true})

	require.NoError(t, w.Run(ctx))

	assert.ElementsMatch(t,
		[]string{root, "https://example.com/a", "https://example.com/b"},
		pages.visitedURLs())
	stats, err := store.Stats(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, crawler.Stats{Key: testKey, Visited: 3}, stats)
	assert.Len(t, sink.all(), 3)
	for _, o := range sink.all() {
		assert.Equal(t, crawler.OutcomeVisited, o.Status)
		assert.Equal(t, testKey, o.Key)
	}
}

func TestWorker_DedupGuardSkipsVisitedAndClaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	require.NoError(t, store.MarkVisited(ctx, testKey, "https://example.com/done"))
	require.NoError(t, store.MarkProcessing(ctx, testKey, "https://example.com/busy"))
	for _, u := range []string{"https://example.com/done", "https://example.com/busy", "https://example.com/new", "https://example.com/new"} {
		require.NoError(t, store.Push(ctx, testKey, mustPage(t, u)))
	}
	pages := newFakePages()

	w := newTestWorker(t, store, Dependencies{Pages: pages}, Config{})
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []string{"https://example.com/new"}, pages.visitedURLs(),
		"the collaborator must only see the unclaimed item, once")
	busy, err := store.IsProcessing(ctx, testKey, "https://example.com/busy")
	require.NoError(t, err)
	assert.True(t, busy, "another worker's claim must be left alone")
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	flaky := "https://example.com/flaky"
	pages := newFakePages()
	pages.failures[flaky] = 2
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Seeds: fakeSeeds{flaky}, Sink: sink}, Config{Seed: true, MaxAttempts: 3})
	require.NoError(t, w.Run(ctx))

	calls := pages.allCalls()
	require.Len(t, calls, 3)
	for i, item := range calls {
		assert.Equal(t, i, item.Attempts(), "re-pushed item must carry the bumped attempt")
	}
	statuses := sink.statuses()
	assert.Equal(t, []crawler.OutcomeStatus{crawler.OutcomeRetried, crawler.OutcomeRetried, crawler.OutcomeVisited}, statuses)

	stats, err := store.Stats(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, crawler.Stats{Key: testKey, Visited: 1}, stats)
}

func TestWorker_AbandonsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	broken := "https://example.com/broken"
	pages := newFakePages()
	pages.failures[broken] = 100

	w := newTestWorker(t, store, Dependencies{Pages: pages, Seeds: fakeSeeds{broken}}, Config{Seed: true, MaxAttempts: 3})
	require.NoError(t, w.Run(ctx))

	assert.Len(t, pages.allCalls(), 3)
	stats, err := store.Stats(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, crawler.Stats{Key: testKey, Visited: 1, Failed: 1}, stats)
}

func TestWorker_DiscardsMalformedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	store.PushRaw(testKey, `{"type":"video","url":"https://example.com/v"}`)
	store.PushRaw(testKey, `garbage`)
	require.NoError(t, store.Push(ctx, testKey, mustPage(t, "https://example.com/ok")))
	pages := newFakePages()

	w := newTestWorker(t, store, Dependencies{Pages: pages}, Config{})
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []string{"https://example.com/ok"}, pages.visitedURLs())
}

func TestWorker_RoutesFilesToDownloader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	parent := "https://example.com/list"
	probed := mustLink(t, "https://example.com/download?id=3", parent)
	direct, err := crawler.NewFileDownload("https://example.com/report.pdf", parent, "7")
	require.NoError(t, err)
	event, err := crawler.NewEvent("location.href='/download?id=9'", "<a>", parent)
	require.NoError(t, err)
	for _, item := range []crawler.Item{probed, direct, event} {
		require.NoError(t, store.Push(ctx, testKey, item))
	}

	pages := newFakePages()
	downloader := &fakeDownloader{}
	prober := fakeProber{"https://example.com/download?id=3": true, "https://example.com/download?id=9": true}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Downloader: downloader, Prober: prober}, Config{})
	require.NoError(t, w.Run(ctx))

	files := downloader.all()
	require.Len(t, files, 2)
	assert.Equal(t, "https://example.com/download?id=3", files[0].URL)
	assert.Equal(t, parent, files[0].Parent)
	assert.Equal(t, direct, files[1])
	assert.Equal(t, []string{event.Key()}, pages.visitedURLs(), "events always go to the page processor")
}

func TestWorker_RecoversCollaboratorPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	pages := newFakePages()
	pages.panicOn = "https://example.com/explode"
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Seeds: fakeSeeds{"https://example.com/explode"}, Sink: sink},
		Config{Seed: true, MaxAttempts: 1})
	require.NoError(t, w.Run(ctx))

	outcomes := sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, crawler.OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "collaborator panic")
}

func TestWorker_CancellationRequeuesWithoutConsumingAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.New("w1")
	slow := "https://example.com/slow"
	require.NoError(t, store.Push(ctx, testKey, mustPage(t, slow)))
	pages := newFakePages()
	pages.block = true

	w := newTestWorker(t, store, Dependencies{Pages: pages}, Config{})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(pages.allCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	require.ErrorIs(t, runErr, context.Canceled)

	bg := context.Background()
	state, err := store.Snapshot(bg, testKey)
	require.NoError(t, err)
	assert.Empty(t, state.Processing)
	assert.Empty(t, state.Visited)
	require.Len(t, state.Queue, 1)
	item, err := crawler.Decode([]byte(state.Queue[0]))
	require.NoError(t, err)
	assert.Equal(t, slow, item.Key())
	assert.Equal(t, 0, item.Attempts())
}

func TestWorker_BacksOffWhileStoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: memory.New("w1"), popFailures: 3}
	require.NoError(t, store.Push(ctx, testKey, mustPage(t, "https://example.com/")))
	pages := newFakePages()

	w := newTestWorker(t, store, Dependencies{Pages: pages}, Config{})
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []string{"https://example.com/"}, pages.visitedURLs())
	assert.Zero(t, store.remainingPopFailures())
}

func TestWorker_StuckClaimIsMarkedFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: memory.New("w1"), failMarkVisited: true}
	require.NoError(t, store.Push(ctx, testKey, mustPage(t, "https://example.com/")))
	pages := newFakePages()
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Sink: sink}, Config{})
	require.NoError(t, w.Run(ctx))

	stats, err := store.Stats(ctx, testKey)
	require.NoError(t, err)
	assert.Zero(t, stats.Processing, "claims must never be left behind")
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, []crawler.OutcomeStatus{crawler.OutcomeFailed}, sink.statuses(),
		"sinks must agree with the store")
	assert.Contains(t, sink.all()[0].Error, "mark visited")
}

func TestWorker_FailedRetryPushMarksItemFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: memory.New("w1"), failRetryPush: true}
	flaky := "https://example.com/flaky"
	require.NoError(t, store.Push(ctx, testKey, mustPage(t, flaky)))
	pages := newFakePages()
	pages.failures[flaky] = 1
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Sink: sink}, Config{MaxAttempts: 3})
	require.NoError(t, w.Run(ctx))

	assert.Len(t, pages.allCalls(), 1)
	state, err := store.Snapshot(ctx, testKey)
	require.NoError(t, err)
	assert.Empty(t, state.Queue)
	assert.Empty(t, state.Processing)
	assert.Equal(t, []string{flaky}, state.Failed, "an item that cannot be re-pushed must stay visible")
	assert.Equal(t, []crawler.OutcomeStatus{crawler.OutcomeFailed}, sink.statuses())
}

func TestWorker_FailedRequeueMarksItemFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: memory.New("w1"), claimFailures: 1, failAllPush: true}
	target := "https://example.com/"
	require.NoError(t, store.Store.Push(ctx, testKey, mustPage(t, target)))
	pages := newFakePages()
	sink := &fakeSink{}

	w := newTestWorker(t, store, Dependencies{Pages: pages, Sink: sink}, Config{})
	require.NoError(t, w.Run(ctx))

	assert.Empty(t, pages.allCalls())
	failed, err := store.Snapshot(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []string{target}, failed.Failed)
	assert.Equal(t, []crawler.OutcomeStatus{crawler.OutcomeFailed}, sink.statuses())
}

func TestWorker_SeedingWaitsOutStoreOutage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: memory.New("w1"), isVisitedFailures: 2}
	pages := newFakePages()

	w := newTestWorker(t, store, Dependencies{Pages: pages, Seeds: fakeSeeds{"https://example.com/"}}, Config{Seed: true})
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []string{"https://example.com/"}, pages.visitedURLs())
	stats, err := store.Stats(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, crawler.Stats{Key: testKey, Visited: 1}, stats)
}

func TestWorker_SeedingStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := &flakyStore{Store: memory.New("w1"), isVisitedFailures: 1 << 30}
	w := newTestWorker(t, store, Dependencies{Pages: newFakePages(), Seeds: fakeSeeds{"https://example.com/"}}, Config{Seed: true})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("seeding did not stop after cancellation")
	}
}

func TestWorker_SeedSkipsVisited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New("w1")
	require.NoError(t, store.MarkVisited(ctx, testKey, "https://example.com/"))
	pages := newFakePages()

	w := newTestWorker(t, store, Dependencies{Pages: pages, Seeds: fakeSeeds{"https://example.com/", "https://example.com/fresh"}}, Config{Seed: true})
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []string{"https://example.com/fresh"}, pages.visitedURLs())
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	store := memory.New("w1")
	pages := newFakePages()
	dl := &fakeDownloader{}

	_, err := New(nil, Dependencies{Pages: pages, Downloader: dl}, Config{Key: "k"}, nil)
	require.Error(t, err)
	_, err = New(store, Dependencies{Downloader: dl}, Config{Key: "k"}, nil)
	require.Error(t, err)
	_, err = New(store, Dependencies{Pages: pages}, Config{Key: "k"}, nil)
	require.Error(t, err)
	_, err = New(store, Dependencies{Pages: pages, Downloader: dl}, Config{}, nil)
	require.Error(t, err)
	_, err = New(store, Dependencies{Pages: pages, Downloader: dl}, Config{Key: "k", Seed: true}, nil)
	require.Error(t, err)
	w, err := New(store, Dependencies{Pages: pages, Downloader: dl}, Config{Key: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, w.cfg.MaxAttempts)
}

// --- fakes ---

type fakePages struct {
	mu       sync.Mutex
	calls    []crawler.Item
	discover map[string][]crawler.Item
	failures map[string]int
	panicOn  string
	block    bool
}

func newFakePages() *fakePages {
	return &fakePages{
		discover: map[string][]crawler.Item{},
		failures: map[string]int{},
	}
}

func (f *fakePages) Process(ctx context.Context, item crawler.Item, frontier crawler.Frontier) error {
	key := item.Key()
	f.mu.Lock()
	f.calls = append(f.calls, item)
	fail := f.failures[key] > 0
	if fail {
		f.failures[key]--
	}
	found := f.discover[key]
	f.mu.Unlock()

	if key == f.panicOn {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return fmt.Errorf("render: %w", ctx.Err())
	}
	if fail {
		return errors.New("render failed")
	}
	for _, d := range found {
		if err := frontier.Enqueue(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePages) allCalls() []crawler.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Item(nil), f.calls...)
}

func (f *fakePages) visitedURLs() []string {
	var out []string
	for _, item := range f.allCalls() {
		out = append(out, item.Key())
	}
	return out
}

type fakeDownloader struct {
	mu    sync.Mutex
	files []crawler.FileDownload
}

func (f *fakeDownloader) Download(_ context.Context, file crawler.FileDownload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return nil
}

func (f *fakeDownloader) all() []crawler.FileDownload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.FileDownload(nil), f.files...)
}

type fakeProber map[string]bool

func (f fakeProber) IsFile(_ context.Context, url string) (bool, error) {
	return f[url], nil
}

type fakeSeeds []string

func (f fakeSeeds) Seeds(context.Context) ([]string, error) {
	return f, nil
}

type hostScope string

func (h hostScope) InScope(url string) bool {
	return strings.HasPrefix(url, "https://"+string(h)+"/")
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes []crawler.Outcome
}

func (f *fakeSink) Record(_ context.Context, o crawler.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeSink) all() []crawler.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Outcome(nil), f.outcomes...)
}

func (f *fakeSink) statuses() []crawler.OutcomeStatus {
	var out []crawler.OutcomeStatus
	for _, o := range f.all() {
		out = append(out, o.Status)
	}
	return out
}

type flakyStore struct {
	*memory.Store
	mu                sync.Mutex
	popFailures       int
	isVisitedFailures int
	claimFailures     int
	failMarkVisited   bool
	failRetryPush     bool
	failAllPush       bool
}

func (f *flakyStore) Push(ctx context.Context, key string, item crawler.Item) error {
	if f.failAllPush || (f.failRetryPush && item.Attempts() > 0) {
		return fmt.Errorf("redis push after 3 attempts: %w", crawler.ErrStoreUnavailable)
	}
	return f.Store.Push(ctx, key, item)
}

func (f *flakyStore) IsVisited(ctx context.Context, key, url string) (bool, error) {
	if f.take(&f.isVisitedFailures) {
		return false, fmt.Errorf("redis is_visited after 3 attempts: %w", crawler.ErrStoreUnavailable)
	}
	return f.Store.IsVisited(ctx, key, url)
}

func (f *flakyStore) MarkProcessing(ctx context.Context, key, url string) error {
	if f.take(&f.claimFailures) {
		return fmt.Errorf("redis mark_processing after 3 attempts: %w", crawler.ErrStoreUnavailable)
	}
	return f.Store.MarkProcessing(ctx, key, url)
}

// take consumes one injected failure from counter.
func (f *flakyStore) take(counter *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (f *flakyStore) Pop(ctx context.Context, key string) (crawler.Item, error) {
	f.mu.Lock()
	if f.popFailures > 0 {
		f.popFailures--
		f.mu.Unlock()
		return nil, fmt.Errorf("redis pop after 3 attempts: %w", crawler.ErrStoreUnavailable)
	}
	f.mu.Unlock()
	return f.Store.Pop(ctx, key)
}

func (f *flakyStore) MarkVisited(ctx context.Context, key, url string) error {
	if f.failMarkVisited {
		return fmt.Errorf("redis mark_visited after 3 attempts: %w", crawler.ErrStoreUnavailable)
	}
	return f.Store.MarkVisited(ctx, key, url)
}

func (f *flakyStore) remainingPopFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popFailures
}
