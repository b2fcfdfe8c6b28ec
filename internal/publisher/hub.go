package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const (
	defaultBufferSize  = 1024
	defaultSinkTimeout = 10 * time.Second
	dropLogInterval    = 5 * time.Second
)

// HubConfig controls buffering for the Hub.
type HubConfig struct {
	// BufferSize is the number of outcomes held before Record starts dropping.
	BufferSize int
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub moves outcome delivery off the crawl loop. Record never blocks; a
// background goroutine hands each outcome to the sinks in order. When the
// buffer is full outcomes are dropped and a rate-limited warning is logged.
type Hub struct {
	cfg      HubConfig
	sinks    []crawler.OutcomeSink
	outcomes chan crawler.Outcome
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger

	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg HubConfig, sinks ...crawler.OutcomeSink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]crawler.OutcomeSink(nil), sinks...),
		outcomes:    make(chan crawler.Outcome, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger.Named("outcome_hub"),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Record enqueues the outcome. It returns an error only after Close.
func (h *Hub) Record(_ context.Context, outcome crawler.Outcome) error {
	if h.closed.Load() {
		return fmt.Errorf("outcome hub closed")
	}
	select {
	case h.outcomes <- outcome:
	default:
		h.dropped.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			h.logger.Warn("outcomes dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
	return nil
}

// Close delivers every buffered outcome and waits for the background goroutine.
// It is safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outcome hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case o := <-h.outcomes:
			h.deliver(o)
		case <-h.stopCh:
			for {
				select {
				case o := <-h.outcomes:
					h.deliver(o)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(o crawler.Outcome) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Record(ctx, o); err != nil {
			h.logger.Warn("outcome sink failed", zap.String("url", o.URL), zap.Error(err))
		}
		cancel()
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}

var _ crawler.OutcomeSink = (*Hub)(nil)
