// Package extract discovers crawlable links and script handlers in HTML documents.
package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Discoveries lists what a document links to, deduplicated by frontier key and
// kept in document order.
type Discoveries struct {
	Links  []crawler.Link
	Events []crawler.Event
}

// Items returns links followed by events as frontier items.
func (d Discoveries) Items() []crawler.Item {
	items := make([]crawler.Item, 0, len(d.Links)+len(d.Events))
	for _, l := range d.Links {
		items = append(items, l)
	}
	for _, e := range d.Events {
		items = append(items, e)
	}
	return items
}

var skippedSchemes = []string{"mailto:", "tel:", "data:", "sms:", "ftp:"}

// Discover parses body and returns the anchors and onclick handlers found on pageURL.
// Relative references resolve against <base href> when present.
func Discover(body io.Reader, pageURL string) (Discoveries, error) {
	page, err := crawler.NormalizeURL(pageURL)
	if err != nil {
		return Discoveries{}, fmt.Errorf("discover: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return Discoveries{}, fmt.Errorf("parse html: %w", err)
	}

	base := page
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := crawler.ResolveURL(page, href); err == nil {
			base = resolved
		}
	}

	var out Discoveries
	seen := make(map[string]struct{})
	addEvent := func(code string, s *goquery.Selection) {
		identifier, _ := goquery.OuterHtml(s)
		ev, err := crawler.NewEvent(code, identifier, page)
		if err != nil {
			return
		}
		if _, dup := seen[ev.Key()]; dup {
			return
		}
		seen[ev.Key()] = struct{}{}
		out.Events = append(out.Events, ev)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case href == "" || strings.HasPrefix(href, "#"):
			return
		case strings.HasPrefix(lower, "javascript:"):
			code := strings.TrimSpace(href[len("javascript:"):])
			if code != "" && code != "void(0)" && code != "void(0);" && code != ";" {
				addEvent(code, s)
			}
			return
		}
		for _, scheme := range skippedSchemes {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}
		resolved, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		link, err := crawler.NewLink(resolved, page)
		if err != nil || !isHTTP(link.URL) {
			return
		}
		if _, dup := seen[link.Key()]; dup {
			return
		}
		seen[link.Key()] = struct{}{}
		out.Links = append(out.Links, link)
	})

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		addEvent(s.AttrOr("onclick", ""), s)
	})

	return out, nil
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
