// Package collyfetcher fetches, probes and statically explores pages with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps the bytes read per response. Zero keeps colly's 10MB default.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	transport := newRobotsTransport(newHTTPTransport(), logger.Named("robots"))
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
	}
}

// Fetch executes a single HTTP GET. Responses with status >= 400 are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp, nil
}

// Head executes a single HTTP HEAD and returns the response whatever its status.
func (f *Fetcher) Head(ctx context.Context, url string) (crawler.FetchResponse, error) {
	return f.do(ctx, http.MethodHead, url)
}

func (f *Fetcher) do(ctx context.Context, method, url string) (crawler.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return crawler.FetchResponse{}, err
	}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	visit := collector.Visit
	if method == http.MethodHead {
		visit = collector.Head
	}
	if err := f.runCollector(ctx, visit, url, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	if result.URL == "" {
		return crawler.FetchResponse{}, fmt.Errorf("colly %s %s: no response", method, url)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, visit func(string) error, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
