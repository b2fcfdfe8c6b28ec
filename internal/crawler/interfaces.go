package crawler

import (
	"context"
	"io"
	"time"
)

// FrontierStore is the shared frontier for one or more crawl keys. Every
// operation either succeeds or returns an error; transient failures surface
// as ErrStoreUnavailable once retries are exhausted.
type FrontierStore interface {
	Push(ctx context.Context, key string, item Item) error
	Pop(ctx context.Context, key string) (Item, error)
	MarkProcessing(ctx context.Context, key, url string) error
	MarkVisited(ctx context.Context, key, url string) error
	MarkFailed(ctx context.Context, key, url string) error
	Release(ctx context.Context, key, url string) error
	IsVisited(ctx context.Context, key, url string) (bool, error)
	IsProcessing(ctx context.Context, key, url string) (bool, error)
	QueueLength(ctx context.Context, key string) (int64, error)
	Stats(ctx context.Context, key string) (Stats, error)
	IsEmpty(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
	Snapshot(ctx context.Context, key string) (State, error)
	RestoreFrom(ctx context.Context, key string, state State) error
	AcquireRestoreLock(ctx context.Context) (bool, error)
	ReleaseRestoreLock(ctx context.Context) error
	Close() error
}

// Frontier is the handle given to page processors for reporting discoveries.
type Frontier interface {
	Enqueue(ctx context.Context, item Item) error
}

// PageProcessor visits a Page, Link or Event and reports what it discovers.
type PageProcessor interface {
	Process(ctx context.Context, item Item, frontier Frontier) error
}

// Downloader fetches and persists a file.
type Downloader interface {
	Download(ctx context.Context, file FileDownload) error
}

// Prober decides whether a URL names a downloadable file rather than a page.
type Prober interface {
	IsFile(ctx context.Context, url string) (bool, error)
}

// Scope decides whether a URL belongs to the crawl.
type Scope interface {
	InScope(url string) bool
}

// CategoryMatcher labels URLs with configured categories.
type CategoryMatcher interface {
	Match(url string) []string
}

// SeedSource yields the URLs a seed worker enqueues at start.
type SeedSource interface {
	Seeds(ctx context.Context) ([]string, error)
}

// SnapshotStore persists frontier state outside the frontier store.
type SnapshotStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ContentCatalog registers downloaded files and assigns their IDs.
type ContentCatalog interface {
	RegisterFile(ctx context.Context, file StoredFile) (string, error)
}

// OutcomeSink receives the resolution of every dispatched item.
type OutcomeSink interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Publisher pushes payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
