// Package app builds the crawler's long-lived services from configuration and
// runs the crawl lifecycle: restore, crawl, persist.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/memory"
	redisstore "github.com/JakeFAU/frontier-crawler/internal/frontier/redis"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/recovery"
	gcssnapshot "github.com/JakeFAU/frontier-crawler/internal/snapshot/gcs"
	localsnapshot "github.com/JakeFAU/frontier-crawler/internal/snapshot/local"
	pgstore "github.com/JakeFAU/frontier-crawler/internal/storage/postgres"
)

// App holds the frontier store, the snapshot side-channel and everything
// closed at shutdown. Crawl-only collaborators are built by Crawl.
type App struct {
	cfg    config.Config
	key    string
	owner  string
	logger *zap.Logger

	store       crawler.FrontierStore
	snapshots   crawler.SnapshotStore
	coordinator *recovery.Coordinator

	gcsClient *storage.Client
	db        *pgxpool.Pool
	closers   []func() error
}

// New connects the frontier store and snapshot store.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	owner, err := uuid.New().OwnerToken()
	if err != nil {
		return nil, fmt.Errorf("lock owner token: %w", err)
	}
	a := &App{
		cfg:    cfg,
		key:    cfg.CrawlKey(),
		owner:  owner,
		logger: logger,
	}
	logger.Info("building application",
		zap.String("crawl_key", a.key),
		zap.String("owner", owner),
		zap.String("store", cfg.Store.Driver),
		zap.String("snapshot", cfg.Snapshot.Driver),
	)

	if err := a.setupStore(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.setupSnapshots(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.coordinator = recovery.New(a.store, a.snapshots, a.key, logger)
	return a, nil
}

func (a *App) setupStore() error {
	switch a.cfg.Store.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-process frontier store; state is not shared between workers")
		a.store = memory.New(a.owner)
	default:
		s := a.cfg.Store
		store, err := redisstore.New(redisstore.Config{
			Addr:         s.Addr,
			Username:     s.Username,
			Password:     s.Password,
			DB:           s.DB,
			KeyPrefix:    s.KeyPrefix,
			MaxAttempts:  s.MaxAttempts,
			RetryBackoff: s.RetryBackoff,
			DialTimeout:  s.DialTimeout,
			ReadTimeout:  s.ReadTimeout,
			LockKey:      s.LockKey,
			LockTTL:      s.LockTTL,
			ChunkSize:    s.ChunkSize,
		}, a.owner, a.logger)
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		a.store = store
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) error {
	var err error
	switch a.cfg.Snapshot.Driver {
	case config.DriverGCS:
		client, cerr := a.storageClient(ctx)
		if cerr != nil {
			return cerr
		}
		a.snapshots, err = gcssnapshot.New(client, gcssnapshot.Config{
			Bucket: a.cfg.Snapshot.Bucket,
			Prefix: a.cfg.Snapshot.Prefix,
		})
	default:
		a.snapshots, err = localsnapshot.New(localsnapshot.Config{Dir: a.cfg.Snapshot.Dir})
	}
	if err != nil {
		return fmt.Errorf("snapshot store init failed: %w", err)
	}
	return nil
}

// storageClient lazily creates the one GCS client shared by snapshots and blobs.
func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	if a.gcsClient != nil {
		return a.gcsClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// dbPool lazily opens the Postgres pool shared by the content and visit stores.
func (a *App) dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.db != nil {
		return a.db, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.db = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.logger.Info("postgres pool ready")
	return pool, nil
}

// Key returns the crawl key this App operates on.
func (a *App) Key() string {
	return a.key
}

// Store exposes the frontier store.
func (a *App) Store() crawler.FrontierStore {
	return a.store
}

// Stats counts the frontier collections of the crawl key.
func (a *App) Stats(ctx context.Context) (crawler.Stats, error) {
	stats, err := a.store.Stats(ctx, a.key)
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	return stats, nil
}

// Restore runs the snapshot/restore coordinator once.
func (a *App) Restore(ctx context.Context) (recovery.Outcome, error) {
	return a.coordinator.Restore(ctx)
}

// Persist writes the frontier state to the snapshot store.
func (a *App) Persist(ctx context.Context) error {
	return a.coordinator.Persist(ctx)
}

// Clear deletes every frontier collection of the crawl key.
func (a *App) Clear(ctx context.Context) error {
	if err := a.store.Clear(ctx, a.key); err != nil {
		return fmt.Errorf("clear frontier: %w", err)
	}
	a.logger.Warn("frontier cleared", zap.String("crawl_key", a.key))
	return nil
}

// Close releases every resource in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown completed with errors", zap.Error(err))
		return err
	}
	return nil
}
