package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// DefaultFileExtensions are treated as downloads without contacting the server.
var DefaultFileExtensions = []string{"pdf", "zip", "doc", "docx", "xls", "xlsx", "png", "jpg", "jpeg", "hwp"}

// headFetcher is the subset of Fetcher the Prober needs.
type headFetcher interface {
	Head(ctx context.Context, url string) (crawler.FetchResponse, error)
}

// Prober classifies URLs as files by extension first and by a HEAD request
// otherwise.
type Prober struct {
	fetcher    headFetcher
	extensions map[string]struct{}
}

// NewProber builds a Prober. Extensions may carry a leading dot; an empty
// list selects DefaultFileExtensions.
func NewProber(fetcher headFetcher, extensions []string) *Prober {
	if len(extensions) == 0 {
		extensions = DefaultFileExtensions
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set["."+ext] = struct{}{}
		}
	}
	return &Prober{fetcher: fetcher, extensions: set}
}

// IsFile implements crawler.Prober.
func (p *Prober) IsFile(ctx context.Context, url string) (bool, error) {
	if _, ok := p.extensions[crawler.Extension(url)]; ok {
		return true, nil
	}
	if p.fetcher == nil {
		return false, nil
	}
	resp, err := p.fetcher.Head(ctx, url)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", url, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// Servers that refuse HEAD are explored as pages.
		return false, nil
	}
	return isAttachment(resp.Headers), nil
}

func isAttachment(headers http.Header) bool {
	if cd := headers.Get("Content-Disposition"); cd != "" {
		if disposition, _, err := mime.ParseMediaType(cd); err == nil && disposition == "attachment" {
			return true
		}
	}
	ct := headers.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType != "application/xhtml+xml" && !strings.HasPrefix(mediaType, "text/")
}

var _ crawler.Prober = (*Prober)(nil)
