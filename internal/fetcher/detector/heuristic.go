// Package detector decides when a statically fetched page must be rendered in a browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Heuristic flags pages whose links are likely produced by scripts.
type Heuristic struct {
	// BodyLengthThreshold bounds the size under which a script-heavy page is
	// assumed to be an application shell.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("please enable javascript"),
}

// NeedsRendering reports whether resp looks like an HTML page that only a
// browser could explore.
func (h *Heuristic) NeedsRendering(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers) {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptCoverage(body) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func isHTML(headers http.Header) bool {
	ct := strings.ToLower(headers.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

// scriptCoverage returns the percentage of body spent inside <script> elements.
// body must already be lowercased.
func scriptCoverage(body []byte) int {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(body)
	covered := 0
	pos := 0
	for {
		rel := bytes.Index(body[pos:], []byte(openTag))
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if tagClose := bytes.IndexByte(body[start:], '>'); tagClose != -1 {
			contentStart := start + tagClose + 1
			if relEnd := bytes.Index(body[contentStart:], []byte(closeTag)); relEnd != -1 {
				end = contentStart + relEnd + len(closeTag)
			}
		}
		covered += end - start
		pos = end
		if pos >= total {
			break
		}
	}
	return covered * 100 / total
}
