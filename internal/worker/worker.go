// Package worker implements the per-process crawl loop over a shared frontier.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// Key namespaces the frontier shared by all workers of one crawl.
	Key string
	// Seed makes this worker enqueue the seed URLs before crawling.
	Seed bool
	// PolitenessDelay is slept after every dispatched item.
	PolitenessDelay time.Duration
	// EmptyWait is slept when a pop raced with a push and found nothing.
	EmptyWait time.Duration
	// StoreBackoff is slept after the store reports itself unavailable.
	StoreBackoff time.Duration
	// MaxAttempts bounds how many times one item is dispatched.
	MaxAttempts int
}

// Dependencies are the collaborators a Worker dispatches to. Pages and
// Downloader are required; the rest fall back to permissive defaults.
type Dependencies struct {
	Pages      crawler.PageProcessor
	Downloader crawler.Downloader
	Prober     crawler.Prober
	Scope      crawler.Scope
	Categories crawler.CategoryMatcher
	Seeds      crawler.SeedSource
	Sink       crawler.OutcomeSink
	Clock      crawler.Clock
}

// Worker pops items from the frontier, dispatches them and records the result.
type Worker struct {
	store  crawler.FrontierStore
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(store crawler.FrontierStore, deps Dependencies, cfg Config, logger *zap.Logger) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("frontier store is required")
	}
	if deps.Pages == nil {
		return nil, fmt.Errorf("page processor is required")
	}
	if deps.Downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("crawl key is required")
	}
	if cfg.Seed && deps.Seeds == nil {
		return nil, fmt.Errorf("seed source is required for a seed worker")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.EmptyWait <= 0 {
		cfg.EmptyWait = time.Second
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 5 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:  store,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.String("crawl_key", cfg.Key)),
	}, nil
}

// Run seeds the frontier if configured, then crawls until the queue is drained
// or ctx ends. A drained queue returns nil; cancellation returns ctx's error.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.Seed {
		if err := w.seed(ctx); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		item, err := w.store.Pop(ctx, w.cfg.Key)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrQueueEmpty):
			drained, waitErr := w.waitForWork(ctx)
			if drained {
				w.logger.Info("frontier drained, stopping")
				return nil
			}
			if waitErr != nil {
				return waitErr
			}
			continue
		case errors.Is(err, crawler.ErrMalformedItem):
			w.logger.Warn("discarding malformed queue entry", zap.Error(err))
			metrics.ObserveDiscarded("unknown", "malformed")
			continue
		case ctx.Err() != nil:
			return fmt.Errorf("crawl interrupted: %w", ctx.Err())
		default:
			if waitErr := w.backoff(ctx, "pop", err); waitErr != nil {
				return waitErr
			}
			continue
		}

		if w.handle(ctx, item) {
			if err := crawler.Sleep(ctx, w.cfg.PolitenessDelay); err != nil {
				return fmt.Errorf("crawl interrupted: %w", err)
			}
		}
	}
}

// waitForWork decides between termination and retry after an empty pop.
func (w *Worker) waitForWork(ctx context.Context) (bool, error) {
	n, err := w.store.QueueLength(ctx, w.cfg.Key)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("crawl interrupted: %w", ctx.Err())
		}
		return false, w.backoff(ctx, "queue_length", err)
	}
	if n == 0 {
		return true, nil
	}
	w.logger.Debug("queue refilled concurrently, waiting", zap.Int64("queued", n))
	if err := crawler.Sleep(ctx, w.cfg.EmptyWait); err != nil {
		return false, fmt.Errorf("crawl interrupted: %w", err)
	}
	return false, nil
}

func (w *Worker) backoff(ctx context.Context, op string, err error) error {
	w.logger.Error("frontier store unavailable, backing off",
		zap.String("op", op),
		zap.Duration("backoff", w.cfg.StoreBackoff),
		zap.Error(err),
	)
	if sleepErr := crawler.Sleep(ctx, w.cfg.StoreBackoff); sleepErr != nil {
		return fmt.Errorf("crawl interrupted: %w", sleepErr)
	}
	return nil
}

func (w *Worker) seed(ctx context.Context) error {
	urls, err := w.deps.Seeds.Seeds(ctx)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	var pushed int
	for _, raw := range urls {
		page, err := crawler.NewPage(raw)
		if err != nil {
			w.logger.Warn("skipping invalid seed", zap.String("url", raw), zap.Error(err))
			continue
		}
		if w.deps.Scope != nil && !w.deps.Scope.InScope(page.Key()) {
			w.logger.Warn("skipping out-of-scope seed", zap.String("url", page.Key()))
			continue
		}
		// A store outage is waited out seed by seed, like any other store call of the loop.
		for {
			ok, err := w.seedOne(ctx, page)
			if err == nil {
				if ok {
					pushed++
				}
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("crawl interrupted: %w", ctx.Err())
			}
			if waitErr := w.backoff(ctx, "seed", err); waitErr != nil {
				return waitErr
			}
		}
	}
	w.logger.Info("seeded frontier", zap.Int("seeds", len(urls)), zap.Int("pushed", pushed))
	return nil
}

// seedOne pushes page unless it was already visited. It reports whether it pushed.
func (w *Worker) seedOne(ctx context.Context, page crawler.Page) (bool, error) {
	visited, err := w.store.IsVisited(ctx, w.cfg.Key, page.Key())
	if err != nil {
		return false, fmt.Errorf("check seed %s: %w", page.Key(), err)
	}
	if visited {
		return false, nil
	}
	if err := w.store.Push(ctx, w.cfg.Key, page); err != nil {
		return false, fmt.Errorf("push seed %s: %w", page.Key(), err)
	}
	return true, nil
}

// handle runs one popped item through the guard, claim, dispatch and
// resolution steps. It reports whether a collaborator was invoked.
func (w *Worker) handle(ctx context.Context, item crawler.Item) bool {
	key := w.cfg.Key
	url := item.Key()
	logger := w.logger.With(zap.String("url", url), zap.String("kind", string(item.Kind())))

	seen, err := w.seen(ctx, url)
	if err != nil {
		logger.Error("dedup check failed, returning item to queue", zap.Error(err))
		w.requeue(ctx, item, logger)
		return false
	}
	if seen {
		logger.Debug("skipping already claimed or visited item")
		metrics.ObserveDiscarded(string(item.Kind()), "duplicate")
		return false
	}

	if err := w.store.MarkProcessing(ctx, key, url); err != nil {
		logger.Error("claim failed, returning item to queue", zap.Error(err))
		w.requeue(ctx, item, logger)
		return false
	}

	start := w.deps.Clock.Now()
	dispatchErr := w.dispatch(ctx, item)
	duration := w.deps.Clock.Now().Sub(start)

	// Resolution must land even when shutdown cancels ctx mid-dispatch.
	resolveCtx := context.WithoutCancel(ctx)
	status, err := w.resolve(resolveCtx, ctx.Err() != nil, item, dispatchErr, logger)
	if err != nil {
		logger.Error("resolution failed", zap.Error(err))
		w.releaseStuckClaim(resolveCtx, url, logger)
		// The store never saw the intended transition; sinks must not claim it did.
		status = crawler.OutcomeFailed
		if dispatchErr == nil {
			dispatchErr = err
		}
	}
	w.record(resolveCtx, item, status, dispatchErr, duration, logger)
	return true
}

func (w *Worker) seen(ctx context.Context, url string) (bool, error) {
	visited, err := w.store.IsVisited(ctx, w.cfg.Key, url)
	if err != nil || visited {
		return visited, err
	}
	return w.store.IsProcessing(ctx, w.cfg.Key, url)
}

func (w *Worker) resolve(
	ctx context.Context,
	interrupted bool,
	item crawler.Item,
	dispatchErr error,
	logger *zap.Logger,
) (crawler.OutcomeStatus, error) {
	key := w.cfg.Key
	url := item.Key()
	switch {
	case dispatchErr == nil:
		if err := w.store.MarkVisited(ctx, key, url); err != nil {
			return crawler.OutcomeVisited, fmt.Errorf("mark visited: %w", err)
		}
		logger.Info("item visited")
		return crawler.OutcomeVisited, nil
	case interrupted:
		logger.Info("dispatch interrupted, returning item to queue", zap.Error(dispatchErr))
		return w.returnToQueue(ctx, item, logger)
	case item.Attempts()+1 < w.cfg.MaxAttempts:
		next := item.WithAttempt(item.Attempts() + 1)
		logger.Warn("dispatch failed, retrying",
			zap.Int("attempt", next.Attempts()),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Error(dispatchErr),
		)
		return w.returnToQueue(ctx, next, logger)
	default:
		logger.Error("dispatch failed, abandoning item",
			zap.Int("attempts", item.Attempts()+1),
			zap.Error(dispatchErr),
		)
		if err := w.store.MarkFailed(ctx, key, url); err != nil {
			return crawler.OutcomeFailed, fmt.Errorf("mark failed: %w", err)
		}
		return crawler.OutcomeFailed, nil
	}
}

// returnToQueue drops the claim and pushes item back. When the push fails the
// URL is marked failed instead so it stays visible in the frontier state.
// The claim is dropped first: a pushed item whose URL is still claimed would be
// discarded by another worker's dedup guard.
func (w *Worker) returnToQueue(ctx context.Context, item crawler.Item, logger *zap.Logger) (crawler.OutcomeStatus, error) {
	if err := w.store.Release(ctx, w.cfg.Key, item.Key()); err != nil {
		return crawler.OutcomeRetried, fmt.Errorf("release: %w", err)
	}
	if err := w.store.Push(ctx, w.cfg.Key, item); err != nil {
		return w.abandon(ctx, item.Key(), fmt.Errorf("requeue: %w", err), logger)
	}
	return crawler.OutcomeRetried, nil
}

func (w *Worker) abandon(ctx context.Context, url string, cause error, logger *zap.Logger) (crawler.OutcomeStatus, error) {
	logger.Error("item cannot be returned to the queue, marking failed", zap.Error(cause))
	if err := w.store.MarkFailed(ctx, w.cfg.Key, url); err != nil {
		return crawler.OutcomeFailed, errors.Join(cause, fmt.Errorf("mark failed: %w", err))
	}
	return crawler.OutcomeFailed, nil
}

// releaseStuckClaim makes sure a claim whose resolution failed cannot block
// the dedup guard forever.
func (w *Worker) releaseStuckClaim(ctx context.Context, url string, logger *zap.Logger) {
	processing, err := w.store.IsProcessing(ctx, w.cfg.Key, url)
	if err != nil {
		logger.Error("stuck claim check failed", zap.Error(err))
		return
	}
	if !processing {
		return
	}
	if err := w.store.MarkFailed(ctx, w.cfg.Key, url); err != nil {
		logger.Error("stuck claim cleanup failed", zap.Error(err))
		return
	}
	logger.Warn("stuck claim marked failed")
}

// requeue returns an unclaimed item to the queue, falling back to marking it
// failed when the push does not land.
func (w *Worker) requeue(ctx context.Context, item crawler.Item, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	err := w.store.Push(ctx, w.cfg.Key, item)
	if err == nil {
		return
	}
	cause := fmt.Errorf("requeue: %w", err)
	if _, err := w.abandon(ctx, item.Key(), cause, logger); err != nil {
		logger.Error("item dropped", zap.Error(err))
	}
	w.record(ctx, item, crawler.OutcomeFailed, cause, 0, logger)
}

func (w *Worker) dispatch(ctx context.Context, item crawler.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	handle := frontierHandle{worker: w}
	switch v := item.(type) {
	case crawler.FileDownload:
		return w.deps.Downloader.Download(ctx, v)
	case crawler.Event:
		return w.deps.Pages.Process(ctx, v, handle)
	default:
		if w.isFile(ctx, v.Key()) {
			return w.deps.Downloader.Download(ctx, crawler.FileDownload{
				URL:     v.Key(),
				Parent:  v.ParentURL(),
				Attempt: v.Attempts(),
			})
		}
		return w.deps.Pages.Process(ctx, v, handle)
	}
}

func (w *Worker) isFile(ctx context.Context, url string) bool {
	if w.deps.Prober == nil {
		return false
	}
	isFile, err := w.deps.Prober.IsFile(ctx, url)
	if err != nil {
		w.logger.Debug("probe failed, treating as page", zap.String("url", url), zap.Error(err))
		return false
	}
	return isFile
}

func (w *Worker) record(
	ctx context.Context,
	item crawler.Item,
	status crawler.OutcomeStatus,
	dispatchErr error,
	duration time.Duration,
	logger *zap.Logger,
) {
	metrics.ObserveItem(string(item.Kind()), string(status), duration)
	if w.deps.Sink == nil {
		return
	}
	outcome := crawler.Outcome{
		Key:        w.cfg.Key,
		URL:        item.Key(),
		Parent:     item.ParentURL(),
		Kind:       item.Kind(),
		Status:     status,
		Attempt:    item.Attempts(),
		Duration:   duration,
		ResolvedAt: w.deps.Clock.Now(),
	}
	if w.deps.Categories != nil {
		outcome.Categories = w.deps.Categories.Match(item.Key())
	}
	if dispatchErr != nil {
		outcome.Error = dispatchErr.Error()
	}
	if err := w.deps.Sink.Record(ctx, outcome); err != nil {
		logger.Warn("record outcome failed", zap.Error(err))
	}
}

// frontierHandle is the Frontier given to page processors. It drops
// out-of-scope and already visited discoveries before pushing.
type frontierHandle struct {
	worker *Worker
}

func (h frontierHandle) Enqueue(ctx context.Context, item crawler.Item) error {
	if item == nil {
		return fmt.Errorf("enqueue: %w", crawler.ErrMalformedItem)
	}
	w := h.worker
	if w.deps.Scope != nil && !w.deps.Scope.InScope(item.Key()) {
		metrics.ObserveDiscarded(string(item.Kind()), "out_of_scope")
		return nil
	}
	visited, err := w.store.IsVisited(ctx, w.cfg.Key, item.Key())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", item.Key(), err)
	}
	if visited {
		return nil
	}
	if err := w.store.Push(ctx, w.cfg.Key, item); err != nil {
		return fmt.Errorf("enqueue %s: %w", item.Key(), err)
	}
	return nil
}
