package collyfetcher

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
)

// Detector decides whether a fetched page must be handed to a browser.
type Detector interface {
	NeedsRendering(resp crawler.FetchResponse) bool
}

// Processor is a static PageProcessor. It fetches pages over HTTP and enqueues
// their anchors and onclick handlers. Event items are resolved from the URL
// literal in their handler code; events without one, and pages the Detector
// flags, go to the renderer when one is configured.
type Processor struct {
	fetcher  crawler.Fetcher
	renderer crawler.PageProcessor
	detector Detector
	logger   *zap.Logger
}

// NewProcessor builds a Processor. renderer and detector may be nil.
func NewProcessor(fetcher crawler.Fetcher, renderer crawler.PageProcessor, detector Detector, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetcher:  fetcher,
		renderer: renderer,
		detector: detector,
		logger:   logger.Named("static"),
	}
}

// Process implements crawler.PageProcessor.
func (p *Processor) Process(ctx context.Context, item crawler.Item, frontier crawler.Frontier) error {
	target := item.Key()
	if ev, ok := item.(crawler.Event); ok {
		resolved, found := crawler.ScriptTarget(ev.OnClick, ev.Parent)
		if !found {
			if p.renderer != nil {
				return p.renderer.Process(ctx, item, frontier)
			}
			p.logger.Debug("event has no static target, skipping", zap.String("url", ev.URL))
			return nil
		}
		target = resolved
	}

	resp, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("static fetch: %w", err)
	}
	if p.renderer != nil && p.detector != nil && p.detector.NeedsRendering(resp) {
		p.logger.Debug("promoting page to renderer", zap.String("url", target))
		return p.renderer.Process(ctx, item, frontier)
	}

	found, err := extract.Discover(bytes.NewReader(resp.Body), resp.URL)
	if err != nil {
		return fmt.Errorf("discover %s: %w", resp.URL, err)
	}
	for _, discovered := range found.Items() {
		if err := frontier.Enqueue(ctx, discovered); err != nil {
			return fmt.Errorf("enqueue discoveries of %s: %w", target, err)
		}
	}
	p.logger.Debug("page explored",
		zap.String("url", target),
		zap.Int("links", len(found.Links)),
		zap.Int("events", len(found.Events)),
	)
	return nil
}

var _ crawler.PageProcessor = (*Processor)(nil)
