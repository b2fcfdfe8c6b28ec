// Package headless renders pages and runs script handlers in headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
	"github.com/JakeFAU/frontier-crawler/internal/policy/ratelimit"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// PageLoadDelay is waited after navigation and after running a handler so
	// scripts can settle.
	PageLoadDelay time.Duration
}

// Renderer implements crawler.PageProcessor with chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp. limiter may be nil.
func NewChromedp(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.PageLoadDelay < 0 {
		cfg.PageLoadDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		limiter:     limiter,
		logger:      logger.Named("headless"),
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Process renders a Page or Link, or replays an Event on its parent page, and
// enqueues everything the resulting DOM links to.
func (r *Renderer) Process(ctx context.Context, item crawler.Item, frontier crawler.Frontier) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Cancellation of the crawl must reach the browser tab.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	if ev, ok := item.(crawler.Event); ok {
		return r.replay(taskCtx, ev, frontier)
	}
	return r.render(taskCtx, item, frontier)
}

func (r *Renderer) render(ctx context.Context, item crawler.Item, frontier crawler.Frontier) error {
	if err := r.limiter.Wait(ctx, item.Key()); err != nil {
		return err
	}
	meta := newResponseMeta()
	chromedp.ListenTarget(ctx, meta.captureEvent)

	var html, location string
	if err := chromedp.Run(ctx,
		r.networkSetupAction(),
		chromedp.Navigate(item.Key()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.PageLoadDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("chromedp render %s: %w", item.Key(), err)
	}
	status, _, responseURL := meta.snapshotWithFallbacks(item.Key(), location)
	if status >= http.StatusBadRequest {
		return fmt.Errorf("render %s: unexpected status %d", item.Key(), status)
	}
	return r.enqueue(ctx, html, responseURL, frontier)
}

// replay navigates to the event's parent, runs its handler, accepts any
// dialog it raises and explores wherever the page ends up.
func (r *Renderer) replay(ctx context.Context, ev crawler.Event, frontier crawler.Frontier) error {
	if err := r.limiter.Wait(ctx, ev.Parent); err != nil {
		return err
	}
	var dialogs atomic.Int32
	chromedp.ListenTarget(ctx, func(e any) {
		if opening, ok := e.(*page.EventJavascriptDialogOpening); ok {
			dialogs.Add(1)
			r.logger.Debug("accepting dialog", zap.String("url", ev.URL), zap.String("message", opening.Message))
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					r.logger.Debug("dialog accept failed", zap.Error(err))
				}
			}()
		}
	})

	if err := chromedp.Run(ctx,
		r.networkSetupAction(),
		chromedp.Navigate(ev.Parent),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.PageLoadDelay),
	); err != nil {
		return fmt.Errorf("chromedp open parent %s: %w", ev.Parent, err)
	}
	// Handlers routinely throw once they have navigated away; exploring the
	// resulting page is still useful.
	if err := chromedp.Run(ctx, chromedp.Evaluate(ev.OnClick, nil)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp evaluate: %w", ctx.Err())
		}
		r.logger.Debug("handler raised", zap.String("url", ev.URL), zap.Error(err))
	}

	var html, location string
	if err := chromedp.Run(ctx,
		chromedp.Sleep(r.cfg.PageLoadDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("chromedp read result of %s: %w", ev.URL, err)
	}

	if moved := landing(location, ev, dialogs.Load() > 0); moved != "" {
		link, err := crawler.NewLink(moved, ev.Parent)
		if err == nil {
			if err := frontier.Enqueue(ctx, link); err != nil {
				return fmt.Errorf("enqueue landing page: %w", err)
			}
		}
	}
	return r.enqueue(ctx, html, location, frontier)
}

// landing returns the URL a handler led to when it deserves its own frontier
// entry. The event's own key is excluded: it is resolved by this visit.
func landing(location string, ev crawler.Event, dialog bool) string {
	current, err := crawler.NormalizeURL(location)
	if err != nil || !strings.HasPrefix(current, "http") {
		return ""
	}
	if current == ev.URL {
		return ""
	}
	if current != ev.Parent || dialog {
		return current
	}
	return ""
}

func (r *Renderer) enqueue(ctx context.Context, html, pageURL string, frontier crawler.Frontier) error {
	found, err := extract.Discover(strings.NewReader(html), pageURL)
	if err != nil {
		return fmt.Errorf("discover %s: %w", pageURL, err)
	}
	for _, discovered := range found.Items() {
		if err := frontier.Enqueue(ctx, discovered); err != nil {
			return fmt.Errorf("enqueue discoveries of %s: %w", pageURL, err)
		}
	}
	return nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	select {
	case <-r.slots:
	default:
	}
}

// responseMeta records the main document response seen by the tab.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

var _ crawler.PageProcessor = (*Renderer)(nil)
