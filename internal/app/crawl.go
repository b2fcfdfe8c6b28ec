package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/api"
	"github.com/JakeFAU/frontier-crawler/internal/category"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/download"
	collyfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/frontier-crawler/internal/fetcher/detector"
	"github.com/JakeFAU/frontier-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/frontier-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/frontier-crawler/internal/policy/scope"
	"github.com/JakeFAU/frontier-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/frontier-crawler/internal/seed"
	gcsstorage "github.com/JakeFAU/frontier-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/frontier-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/frontier-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/frontier-crawler/internal/storage/postgres"
	"github.com/JakeFAU/frontier-crawler/internal/worker"
)

// Crawl restores the frontier if a snapshot is waiting, runs the crawl loop
// until the queue drains or ctx ends, then persists the frontier state.
// Cancellation is a normal shutdown and is not reported as an error.
func (a *App) Crawl(ctx context.Context) error {
	outcome, err := a.coordinator.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore frontier: %w", err)
	}
	a.logger.Info("restore finished", zap.String("outcome", string(outcome)))

	w, err := a.buildWorker(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	if a.cfg.Server.Port > 0 {
		srv := api.NewServer(a.store, a.key, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serverCtx, a.cfg.Server.Port); err != nil {
				a.logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	runErr := w.Run(ctx)
	stopServer()
	wg.Wait()

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		a.logger.Info("crawl interrupted, persisting frontier")
		runErr = nil
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
	defer cancel()
	if err := a.coordinator.Persist(persistCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("persist frontier: %w", err))
	}
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Crawl.ShutdownTimeout > 0 {
		return a.cfg.Crawl.ShutdownTimeout
	}
	return 30 * time.Second
}

func (a *App) buildWorker(ctx context.Context) (*worker.Worker, error) {
	cfg := a.cfg
	seeds := seed.New(cfg.Seed.URLs, cfg.Seed.File)
	// Seed hosts bound the scope on every worker, not only the seed worker.
	seedURLs, err := seeds.Seeds(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}

	categories, err := a.setupCategories()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Fetcher.RPS, Burst: cfg.Fetcher.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       cfg.Fetcher.Timeout,
		MaxBodySize:   cfg.Fetcher.MaxBodyBytes,
	}, limiter, a.logger)

	pages, err := a.setupPages(fetcher, limiter)
	if err != nil {
		return nil, err
	}
	downloader, err := a.setupDownloader(ctx, limiter)
	if err != nil {
		return nil, err
	}
	sink, err := a.setupSinks(ctx)
	if err != nil {
		return nil, err
	}

	return worker.New(a.store, worker.Dependencies{
		Pages:      pages,
		Downloader: downloader,
		Prober:     collyfetcher.NewProber(fetcher, cfg.Fetcher.FileExtensions),
		Scope:      scope.New(scope.Config{AllowedDomains: cfg.Scope.AllowedDomains, DenyDomains: cfg.Scope.DenyDomains}, seedURLs),
		Categories: categories,
		Seeds:      seeds,
		Sink:       sink,
	}, worker.Config{
		Key:             a.key,
		Seed:            cfg.Crawl.SeedWorker,
		PolitenessDelay: cfg.Crawl.PolitenessDelay,
		EmptyWait:       cfg.Crawl.EmptyWait,
		StoreBackoff:    cfg.Crawl.StoreBackoff,
		MaxAttempts:     cfg.Crawl.MaxAttempts,
	}, a.logger)
}

func (a *App) setupCategories() (*category.Matcher, error) {
	mapping := make(map[string][]string, len(a.cfg.Categories))
	for name, patterns := range a.cfg.Categories {
		mapping[name] = append(mapping[name], patterns...)
	}
	if a.cfg.CategoriesFile != "" {
		fromFile, err := category.LoadFile(a.cfg.CategoriesFile)
		if err != nil {
			return nil, err
		}
		for name, patterns := range fromFile {
			mapping[name] = append(mapping[name], patterns...)
		}
	}
	m, err := category.New(mapping)
	if err != nil {
		return nil, fmt.Errorf("category matcher init failed: %w", err)
	}
	a.logger.Info("category matcher ready", zap.Int("categories", m.Len()))
	return m, nil
}

func (a *App) setupPages(fetcher *collyfetcher.Fetcher, limiter *ratelimit.Limiter) (crawler.PageProcessor, error) {
	mode := a.cfg.Fetcher.Mode
	if mode == config.ModeStatic {
		a.logger.Info("using static page processor")
		return collyfetcher.NewProcessor(fetcher, nil, nil, a.logger), nil
	}

	h := a.cfg.Fetcher.Headless
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       h.MaxParallel,
		UserAgent:         a.cfg.Fetcher.UserAgent,
		NavigationTimeout: h.NavigationTimeout,
		PageLoadDelay:     h.PageLoadDelay,
	}, limiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	a.closers = append(a.closers, func() error { renderer.Close(); return nil })

	if mode == config.ModeHeadless {
		a.logger.Info("using headless page processor", zap.Int("max_parallel", h.MaxParallel))
		return renderer, nil
	}
	a.logger.Info("using hybrid page processor",
		zap.Int("max_parallel", h.MaxParallel),
		zap.Int("promotion_threshold", h.PromotionThreshold),
	)
	return collyfetcher.NewProcessor(fetcher, renderer, detector.NewHeuristic(h.PromotionThreshold), a.logger), nil
}

func (a *App) setupDownloader(ctx context.Context, limiter *ratelimit.Limiter) (*download.Downloader, error) {
	d := a.cfg.Download
	var (
		blobs crawler.BlobStore
		err   error
	)
	switch d.Driver {
	case config.DriverGCS:
		client, cerr := a.storageClient(ctx)
		if cerr != nil {
			return nil, cerr
		}
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: d.Bucket})
	case config.DriverMemory:
		a.logger.Warn("downloaded files are kept in memory and discarded at exit")
		blobs = memorystorage.NewBlobStore()
	default:
		blobs, err = localstorage.New(localstorage.Config{BaseDir: d.Dir})
	}
	if err != nil {
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}

	var deps download.Dependencies
	if a.cfg.DB.DSN != "" {
		pool, err := a.dbPool(ctx)
		if err != nil {
			return nil, err
		}
		contents, err := pgstore.NewContentStore(pool, a.cfg.DB.ContentsTable)
		if err != nil {
			return nil, fmt.Errorf("content store init failed: %w", err)
		}
		deps.Catalog = contents
	}

	// One byte over the limit lets the downloader tell a truncated body from an exact fit.
	maxBody := 0
	if d.MaxBytes > 0 {
		maxBody = int(d.MaxBytes) + 1
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
		Timeout:       a.cfg.Fetcher.Timeout,
		MaxBodySize:   maxBody,
	}, limiter, a.logger)

	return download.New(fetcher, blobs, deps, download.Config{Prefix: d.Prefix, MaxBytes: d.MaxBytes}, a.logger)
}

func (a *App) setupSinks(ctx context.Context) (crawler.OutcomeSink, error) {
	sinks := publisher.Fanout{publisher.NewLogSink(a.logger)}
	// Remote sinks sit behind a Hub; Record must not block the crawl loop.
	var remote []crawler.OutcomeSink

	if a.cfg.DB.DSN != "" {
		pool, err := a.dbPool(ctx)
		if err != nil {
			return nil, err
		}
		visits, err := pgstore.NewVisitStore(pool, a.cfg.DB.VisitsTable)
		if err != nil {
			return nil, fmt.Errorf("visit store init failed: %w", err)
		}
		remote = append(remote, visits)
	}

	if a.cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		pub, err := gcppublisher.New(client)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		topicSink, err := publisher.NewTopicSink(pub, a.cfg.PubSub.Topic)
		if err != nil {
			return nil, err
		}
		remote = append(remote, topicSink)
		a.logger.Info("publishing outcomes",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}

	if len(remote) > 0 {
		hub := publisher.NewHub(publisher.HubConfig{Logger: a.logger}, remote...)
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
			defer cancel()
			return hub.Close(ctx)
		})
		sinks = append(sinks, hub)
	}
	return sinks, nil
}
