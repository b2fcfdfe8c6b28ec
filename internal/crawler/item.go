package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Kind names the variant of a frontier item.
type Kind string

const (
	// KindPage is a seed page.
	KindPage Kind = "page"
	// KindLink is a URL discovered from an anchor or navigation.
	KindLink Kind = "link"
	// KindEvent is a script handler discovered on a parent page.
	KindEvent Kind = "event"
	// KindFile is a downloadable artifact.
	KindFile Kind = "file"
)

// Item is one unit of crawl work. The set of variants is closed: Page, Link,
// Event and FileDownload.
type Item interface {
	// Kind reports the variant.
	Kind() Kind
	// Key is the dedup identity used by the visited and processing sets.
	Key() string
	// ParentURL is the page the item was discovered on, if any.
	ParentURL() string
	// Attempts is the number of failed dispatches recorded so far.
	Attempts() int
	// WithAttempt returns a copy carrying the given attempt count.
	WithAttempt(n int) Item

	isItem()
}

// Page is a seed URL to render and explore.
type Page struct {
	URL     string
	Attempt int
}

// Link is a URL discovered on Parent.
type Link struct {
	URL     string
	Parent  string
	Attempt int
}

// Event is a script handler found on Parent. URL is derived from the handler
// code and is the identity used for dedup; Identifier locates the element and
// never takes part in equality.
type Event struct {
	URL        string
	OnClick    string
	Identifier string
	Parent     string
	Attempt    int
}

// FileDownload is an artifact to fetch and persist.
type FileDownload struct {
	URL     string
	Parent  string
	LogID   string
	Attempt int
}

func (Page) Kind() Kind         { return KindPage }
func (Link) Kind() Kind         { return KindLink }
func (Event) Kind() Kind        { return KindEvent }
func (FileDownload) Kind() Kind { return KindFile }

func (p Page) Key() string         { return p.URL }
func (l Link) Key() string         { return l.URL }
func (e Event) Key() string        { return e.URL }
func (f FileDownload) Key() string { return f.URL }

func (Page) ParentURL() string           { return "" }
func (l Link) ParentURL() string         { return l.Parent }
func (e Event) ParentURL() string        { return e.Parent }
func (f FileDownload) ParentURL() string { return f.Parent }

func (p Page) Attempts() int         { return p.Attempt }
func (l Link) Attempts() int         { return l.Attempt }
func (e Event) Attempts() int        { return e.Attempt }
func (f FileDownload) Attempts() int { return f.Attempt }

func (p Page) WithAttempt(n int) Item         { p.Attempt = n; return p }
func (l Link) WithAttempt(n int) Item         { l.Attempt = n; return l }
func (e Event) WithAttempt(n int) Item        { e.Attempt = n; return e }
func (f FileDownload) WithAttempt(n int) Item { f.Attempt = n; return f }

func (Page) isItem()         {}
func (Link) isItem()         {}
func (Event) isItem()        {}
func (FileDownload) isItem() {}

// NewPage validates and normalizes a seed URL.
func NewPage(rawURL string) (Page, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("%w: page: %v", ErrMalformedItem, err)
	}
	return Page{URL: u}, nil
}

// NewLink validates and normalizes a discovered URL. parent may be empty.
func NewLink(rawURL, parent string) (Link, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Link{}, fmt.Errorf("%w: link: %v", ErrMalformedItem, err)
	}
	p, err := normalizeParent(parent)
	if err != nil {
		return Link{}, fmt.Errorf("%w: link parent: %v", ErrMalformedItem, err)
	}
	return Link{URL: u, Parent: p}, nil
}

// NewFileDownload validates and normalizes a download target.
func NewFileDownload(rawURL, parent, logID string) (FileDownload, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return FileDownload{}, fmt.Errorf("%w: file: %v", ErrMalformedItem, err)
	}
	p, err := normalizeParent(parent)
	if err != nil {
		return FileDownload{}, fmt.Errorf("%w: file parent: %v", ErrMalformedItem, err)
	}
	return FileDownload{URL: u, Parent: p, LogID: logID}, nil
}

// NewEvent builds an Event whose URL is derived from the handler code.
func NewEvent(onClick, identifier, parent string) (Event, error) {
	code := strings.TrimSpace(onClick)
	if code == "" {
		return Event{}, fmt.Errorf("%w: event: empty handler", ErrMalformedItem)
	}
	p, err := NormalizeURL(parent)
	if err != nil {
		return Event{}, fmt.Errorf("%w: event parent: %v", ErrMalformedItem, err)
	}
	return Event{
		URL:        EventURL(code, p),
		OnClick:    code,
		Identifier: identifier,
		Parent:     p,
	}, nil
}

// EventURL derives the identity of a script handler. The first URL literal in
// the code, resolved against parent, wins; otherwise the identity is parent
// with a fragment naming a digest of the code.
func EventURL(onClick, parent string) string {
	if target, ok := ScriptTarget(onClick, parent); ok {
		return target
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(onClick)))
	return parent + "#onclick-" + hex.EncodeToString(sum[:])[:12]
}

var (
	navigationLiteral = regexp.MustCompile(
		`(?i)(?:location(?:\.href)?\s*=|location\.(?:assign|replace)\s*\(|window\.open\s*\(|href\s*=)\s*['"]([^'"]+)['"]`,
	)
	quotedLiteral = regexp.MustCompile(`['"]([^'"\s]+)['"]`)
)

// ScriptTarget extracts the navigation target from handler code, if it names one.
func ScriptTarget(onClick, parent string) (string, bool) {
	for _, m := range navigationLiteral.FindAllStringSubmatch(onClick, -1) {
		if u, ok := resolveLiteral(m[1], parent); ok {
			return u, true
		}
	}
	for _, m := range quotedLiteral.FindAllStringSubmatch(onClick, -1) {
		lit := m[1]
		if !strings.HasPrefix(lit, "http://") && !strings.HasPrefix(lit, "https://") && !strings.HasPrefix(lit, "/") {
			continue
		}
		if u, ok := resolveLiteral(lit, parent); ok {
			return u, true
		}
	}
	return "", false
}

func resolveLiteral(lit, parent string) (string, bool) {
	lit = strings.TrimSpace(lit)
	lower := strings.ToLower(lit)
	if lit == "" || strings.HasPrefix(lit, "#") || strings.HasPrefix(lower, "javascript:") {
		return "", false
	}
	u, err := ResolveURL(parent, lit)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", false
	}
	return u, true
}

func normalizeParent(parent string) (string, error) {
	if strings.TrimSpace(parent) == "" {
		return "", nil
	}
	return NormalizeURL(parent)
}
