// Package recovery restores a crawl frontier from its snapshot at startup and
// persists it again at shutdown.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

// Outcome reports what Restore did.
type Outcome string

const (
	// OutcomeFresh means no snapshot existed.
	OutcomeFresh Outcome = "fresh"
	// OutcomeSkippedActive means the store already held state for the key.
	OutcomeSkippedActive Outcome = "skipped_active"
	// OutcomeLostRace means another worker holds the restore lock.
	OutcomeLostRace Outcome = "lost_race"
	// OutcomeRestored means this worker loaded the snapshot into the store.
	OutcomeRestored Outcome = "restored"
	// OutcomeFailed means the snapshot could not be loaded; the crawl starts fresh.
	OutcomeFailed Outcome = "failed"
)

// Coordinator moves frontier state between the store and the snapshot side channel.
type Coordinator struct {
	store     crawler.FrontierStore
	snapshots crawler.SnapshotStore
	key       string
	logger    *zap.Logger
}

// New constructs a Coordinator for one crawl key.
func New(store crawler.FrontierStore, snapshots crawler.SnapshotStore, key string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		snapshots: snapshots,
		key:       key,
		logger:    logger.Named("recovery").With(zap.String("crawl_key", key)),
	}
}

// Restore loads the snapshot into the store when the store holds nothing for
// the key. At most one worker restores; the rest skip. Once the lock is won,
// any load or write failure leaves the snapshot in place and reports
// OutcomeFailed without an error. Errors are returned only when the checks
// before the lock cannot reach the store or snapshot side channel.
func (c *Coordinator) Restore(ctx context.Context) (Outcome, error) {
	outcome, err := c.restore(ctx)
	if err == nil {
		metrics.ObserveRestore(string(outcome))
	}
	return outcome, err
}

func (c *Coordinator) restore(ctx context.Context) (Outcome, error) {
	exists, err := c.snapshots.Exists(ctx, c.key)
	if err != nil {
		return "", fmt.Errorf("check snapshot: %w", err)
	}
	if !exists {
		c.logger.Info("no snapshot found, starting fresh")
		return OutcomeFresh, nil
	}

	empty, err := c.store.IsEmpty(ctx, c.key)
	if err != nil {
		return "", fmt.Errorf("check store state: %w", err)
	}
	if !empty {
		c.logger.Info("frontier already populated, skipping restore")
		return OutcomeSkippedActive, nil
	}

	acquired, err := c.store.AcquireRestoreLock(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire restore lock: %w", err)
	}
	if !acquired {
		c.logger.Info("another worker is restoring, skipping")
		return OutcomeLostRace, nil
	}
	defer c.releaseLock(ctx)

	// Another worker may have restored and released between our emptiness check and the lock.
	empty, err = c.store.IsEmpty(ctx, c.key)
	if err != nil {
		return "", fmt.Errorf("recheck store state: %w", err)
	}
	if !empty {
		c.logger.Info("frontier populated while waiting for lock, skipping restore")
		return OutcomeSkippedActive, nil
	}

	data, err := c.snapshots.Load(ctx, c.key)
	if errors.Is(err, crawler.ErrSnapshotNotFound) {
		c.logger.Info("snapshot consumed by another worker, starting fresh")
		return OutcomeFresh, nil
	}
	if err != nil {
		c.logger.Error("load snapshot failed, starting fresh", zap.Error(err))
		return OutcomeFailed, nil
	}
	state, err := crawler.DecodeState(data)
	if err != nil {
		c.logger.Error("parse snapshot failed, keeping it and starting fresh", zap.Error(err))
		return OutcomeFailed, nil
	}

	if err := c.store.Clear(ctx, c.key); err != nil {
		c.logger.Error("clear before restore failed, keeping snapshot and starting fresh", zap.Error(err))
		return OutcomeFailed, nil
	}
	if err := c.store.RestoreFrom(ctx, c.key, state); err != nil {
		c.logger.Error("restore state failed, keeping snapshot and starting fresh", zap.Error(err))
		// A partial restore would otherwise look like an active crawl to the next worker.
		if clearErr := c.store.Clear(context.WithoutCancel(ctx), c.key); clearErr != nil {
			c.logger.Error("clear partial restore failed", zap.Error(clearErr))
		}
		return OutcomeFailed, nil
	}
	if err := c.snapshots.Delete(ctx, c.key); err != nil {
		c.logger.Warn("delete consumed snapshot failed", zap.Error(err))
	}
	c.logger.Info("frontier restored from snapshot",
		zap.Int("queued", len(state.Queue)),
		zap.Int("processing", len(state.Processing)),
		zap.Int("visited", len(state.Visited)),
		zap.Int("failed", len(state.Failed)),
	)
	return OutcomeRestored, nil
}

func (c *Coordinator) releaseLock(ctx context.Context) {
	err := c.store.ReleaseRestoreLock(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrLockNotHeld):
		c.logger.Warn("restore lock expired before release")
	default:
		c.logger.Error("release restore lock failed", zap.Error(err))
	}
}

// Persist writes the store's current state for the key to the snapshot side
// channel, overwriting any previous snapshot.
func (c *Coordinator) Persist(ctx context.Context) error {
	state, err := c.store.Snapshot(ctx, c.key)
	if err != nil {
		return fmt.Errorf("read frontier state: %w", err)
	}
	data, err := crawler.EncodeState(state)
	if err != nil {
		return err
	}
	if err := c.snapshots.Save(ctx, c.key, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	c.logger.Info("frontier snapshot saved",
		zap.Int("queued", len(state.Queue)),
		zap.Int("visited", len(state.Visited)),
	)
	return nil
}
