// Package redis implements the shared crawl frontier on Redis.
//
// Each crawl key owns a pending list and three sets:
//
//	url_queue:<key>        pending items, FIFO (RPUSH / LPOP)
//	processing_urls:<key>  URLs claimed by some worker
//	visited_urls:<key>     URLs resolved, successfully or not
//	failed_urls:<key>      URLs abandoned after exhausting their attempts
//
// A single global key guards startup restores across all workers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

const (
	queuePrefix      = "url_queue:"
	processingPrefix = "processing_urls:"
	visitedPrefix    = "visited_urls:"
	failedPrefix     = "failed_urls:"
	defaultLockKey   = "redis_load_lock"
	defaultChunkSize = 500
)

// releaseLockScript deletes the lock only when it still holds our token.
var releaseLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config controls the Redis connection and retry behavior.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	MaxAttempts  int
	RetryBackoff time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	LockKey      string
	LockTTL      time.Duration
	ChunkSize    int
}

// Store implements crawler.FrontierStore on a Redis server.
type Store struct {
	client *goredis.Client
	cfg    Config
	owner  string
	retry  crawler.FixedRetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New dials Redis using cfg. owner identifies this process as a restore lock holder.
func New(cfg Config, owner string, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
	return NewWithClient(client, cfg, owner, logger)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *goredis.Client, cfg Config, owner string, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if owner == "" {
		return nil, fmt.Errorf("lock owner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Store{
		client: client,
		cfg:    cfg,
		owner:  owner,
		retry:  crawler.NewFixedRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoff),
		logger: logger.Named("frontier.redis"),
		sleep:  crawler.Sleep,
	}, nil
}

// Owner returns the token this store writes into the restore lock.
func (s *Store) Owner() string {
	return s.owner
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Push appends item to the tail of the key's queue.
func (s *Store) Push(ctx context.Context, key string, item crawler.Item) error {
	data, err := crawler.Encode(item)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return s.do(ctx, "push", func(ctx context.Context) error {
		return s.client.RPush(ctx, s.queueKey(key), data).Err()
	})
}

// Pop removes the head of the key's queue. A malformed entry is consumed and
// reported as crawler.ErrMalformedItem.
func (s *Store) Pop(ctx context.Context, key string) (crawler.Item, error) {
	var raw string
	err := s.do(ctx, "pop", func(ctx context.Context) error {
		var err error
		raw, err = s.client.LPop(ctx, s.queueKey(key)).Result()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, crawler.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	item, err := crawler.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("pop %q: %w", raw, err)
	}
	return item, nil
}

// MarkProcessing records url as claimed.
func (s *Store) MarkProcessing(ctx context.Context, key, url string) error {
	return s.do(ctx, "mark_processing", func(ctx context.Context) error {
		return s.client.SAdd(ctx, s.processingKey(key), url).Err()
	})
}

// MarkVisited moves url from processing to visited in one transaction.
func (s *Store) MarkVisited(ctx context.Context, key, url string) error {
	return s.do(ctx, "mark_visited", func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SAdd(ctx, s.visitedKey(key), url)
			pipe.SRem(ctx, s.processingKey(key), url)
			return nil
		})
		return err
	})
}

// MarkFailed moves url from processing to both visited and failed in one transaction.
func (s *Store) MarkFailed(ctx context.Context, key, url string) error {
	return s.do(ctx, "mark_failed", func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SAdd(ctx, s.failedKey(key), url)
			pipe.SAdd(ctx, s.visitedKey(key), url)
			pipe.SRem(ctx, s.processingKey(key), url)
			return nil
		})
		return err
	})
}

// Release drops the processing claim on url without marking it visited.
func (s *Store) Release(ctx context.Context, key, url string) error {
	return s.do(ctx, "release", func(ctx context.Context) error {
		return s.client.SRem(ctx, s.processingKey(key), url).Err()
	})
}

// IsVisited reports membership in the visited set.
func (s *Store) IsVisited(ctx context.Context, key, url string) (bool, error) {
	var ok bool
	err := s.do(ctx, "is_visited", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SIsMember(ctx, s.visitedKey(key), url).Result()
		return err
	})
	return ok, err
}

// IsProcessing reports membership in the processing set.
func (s *Store) IsProcessing(ctx context.Context, key, url string) (bool, error) {
	var ok bool
	err := s.do(ctx, "is_processing", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SIsMember(ctx, s.processingKey(key), url).Result()
		return err
	})
	return ok, err
}

// QueueLength returns the number of pending items.
func (s *Store) QueueLength(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "queue_length", func(ctx context.Context) error {
		var err error
		n, err = s.client.LLen(ctx, s.queueKey(key)).Result()
		return err
	})
	return n, err
}

// Stats counts every collection of the key in one round trip.
func (s *Store) Stats(ctx context.Context, key string) (crawler.Stats, error) {
	stats := crawler.Stats{Key: key}
	err := s.do(ctx, "stats", func(ctx context.Context) error {
		var (
			queued, processing, visited, failed *goredis.IntCmd
		)
		_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			queued = pipe.LLen(ctx, s.queueKey(key))
			processing = pipe.SCard(ctx, s.processingKey(key))
			visited = pipe.SCard(ctx, s.visitedKey(key))
			failed = pipe.SCard(ctx, s.failedKey(key))
			return nil
		})
		if err != nil {
			return err
		}
		stats.Queued = queued.Val()
		stats.Processing = processing.Val()
		stats.Visited = visited.Val()
		stats.Failed = failed.Val()
		return nil
	})
	return stats, err
}

// IsEmpty reports whether the key has no queue, processing or visited entries.
func (s *Store) IsEmpty(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.do(ctx, "is_empty", func(ctx context.Context) error {
		var err error
		n, err = s.client.Exists(ctx, s.queueKey(key), s.processingKey(key), s.visitedKey(key)).Result()
		return err
	})
	return n == 0, err
}

// Clear deletes every collection of the key.
func (s *Store) Clear(ctx context.Context, key string) error {
	return s.do(ctx, "clear", func(ctx context.Context) error {
		return s.client.Del(ctx, s.keys(key)...).Err()
	})
}

// Snapshot reads the key's full state inside one transaction.
func (s *Store) Snapshot(ctx context.Context, key string) (crawler.State, error) {
	var state crawler.State
	err := s.do(ctx, "snapshot", func(ctx context.Context) error {
		var (
			queue                       *goredis.StringSliceCmd
			processing, visited, failed *goredis.StringSliceCmd
		)
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			queue = pipe.LRange(ctx, s.queueKey(key), 0, -1)
			processing = pipe.SMembers(ctx, s.processingKey(key))
			visited = pipe.SMembers(ctx, s.visitedKey(key))
			failed = pipe.SMembers(ctx, s.failedKey(key))
			return nil
		})
		if err != nil {
			return err
		}
		state = crawler.State{
			Queue:      queue.Val(),
			Processing: processing.Val(),
			Visited:    visited.Val(),
			Failed:     failed.Val(),
		}
		return nil
	})
	return state, err
}

// RestoreFrom replaces the key's state with state inside one transaction.
// Queue order is preserved; large collections are written in chunks.
func (s *Store) RestoreFrom(ctx context.Context, key string, state crawler.State) error {
	return s.do(ctx, "restore", func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.keys(key)...)
			for _, chunk := range chunks(state.Queue, s.cfg.ChunkSize) {
				pipe.RPush(ctx, s.queueKey(key), chunk...)
			}
			for _, chunk := range chunks(state.Processing, s.cfg.ChunkSize) {
				pipe.SAdd(ctx, s.processingKey(key), chunk...)
			}
			for _, chunk := range chunks(state.Visited, s.cfg.ChunkSize) {
				pipe.SAdd(ctx, s.visitedKey(key), chunk...)
			}
			for _, chunk := range chunks(state.Failed, s.cfg.ChunkSize) {
				pipe.SAdd(ctx, s.failedKey(key), chunk...)
			}
			return nil
		})
		return err
	})
}

// AcquireRestoreLock takes the global restore lock if nobody holds it.
func (s *Store) AcquireRestoreLock(ctx context.Context) (bool, error) {
	var ok bool
	err := s.do(ctx, "acquire_lock", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, s.cfg.KeyPrefix+s.cfg.LockKey, s.owner, s.cfg.LockTTL).Result()
		return err
	})
	return ok, err
}

// ReleaseRestoreLock deletes the lock if this store still owns it. It returns
// crawler.ErrLockNotHeld when the lock expired or belongs to another worker.
func (s *Store) ReleaseRestoreLock(ctx context.Context) error {
	var deleted int64
	err := s.do(ctx, "release_lock", func(ctx context.Context) error {
		var err error
		deleted, err = releaseLockScript.Run(ctx, s.client, []string{s.cfg.KeyPrefix + s.cfg.LockKey}, s.owner).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return crawler.ErrLockNotHeld
	}
	return nil
}

// do runs fn with bounded retries. Between attempts it pings the server so
// the pool replaces broken connections. redis.Nil passes through untouched.
func (s *Store) do(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || errors.Is(err, goredis.Nil) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("redis %s: %w", op, ctx.Err())
		}
		if !s.retry.ShouldRetry(err, attempt) {
			metrics.ObserveStoreUnavailable(op)
			s.logger.Error("redis operation gave up",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return fmt.Errorf("redis %s after %d attempts: %w: %w", op, attempt, crawler.ErrStoreUnavailable, err)
		}
		metrics.ObserveStoreRetry(op)
		s.logger.Warn("redis operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", s.retry.Backoff(attempt)),
			zap.Error(err),
		)
		if err := s.sleep(ctx, s.retry.Backoff(attempt)); err != nil {
			return fmt.Errorf("redis %s: %w", op, err)
		}
		s.reconnect(ctx)
	}
}

func (s *Store) reconnect(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Debug("redis reconnect ping failed", zap.Error(err))
	}
}

func (s *Store) queueKey(key string) string      { return s.cfg.KeyPrefix + queuePrefix + key }
func (s *Store) processingKey(key string) string { return s.cfg.KeyPrefix + processingPrefix + key }
func (s *Store) visitedKey(key string) string    { return s.cfg.KeyPrefix + visitedPrefix + key }
func (s *Store) failedKey(key string) string     { return s.cfg.KeyPrefix + failedPrefix + key }

func (s *Store) keys(key string) []string {
	return []string{s.queueKey(key), s.processingKey(key), s.visitedKey(key), s.failedKey(key)}
}

func chunks(values []string, size int) [][]any {
	var out [][]any
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		chunk := make([]any, 0, end-start)
		for _, v := range values[start:end] {
			chunk = append(chunk, v)
		}
		out = append(out, chunk)
	}
	return out
}

var _ crawler.FrontierStore = (*Store)(nil)
