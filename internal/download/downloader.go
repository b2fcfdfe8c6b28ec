// Package download fetches file artifacts and persists them to blob storage
// and the content catalog.
package download

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

const (
	defaultPrefix   = "files"
	defaultFilename = "download"
)

// Config controls where artifacts land and how large they may be.
type Config struct {
	// Prefix is the blob path prefix. Defaults to "files".
	Prefix string
	// MaxBytes rejects bodies larger than this. Zero disables the check.
	MaxBytes int64
}

// Dependencies are the optional collaborators of a Downloader. Nil fields get
// the default implementation; a nil Catalog means files are only stored as blobs.
type Dependencies struct {
	Catalog crawler.ContentCatalog
	IDs     crawler.IDGenerator
	Hasher  crawler.Hasher
	Clock   crawler.Clock
}

// Downloader implements crawler.Downloader.
type Downloader struct {
	fetcher crawler.Fetcher
	blobs   crawler.BlobStore
	deps    Dependencies
	cfg     Config
	logger  *zap.Logger
}

// New builds a Downloader.
func New(fetcher crawler.Fetcher, blobs crawler.BlobStore, deps Dependencies, cfg Config, logger *zap.Logger) (*Downloader, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		blobs:   blobs,
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("download"),
	}, nil
}

// Download fetches file.URL, stores the body under a content-addressed path and
// registers it. Anything but a 200 response is an error.
func (d *Downloader) Download(ctx context.Context, file crawler.FileDownload) error {
	resp, err := d.fetcher.Fetch(ctx, file.URL)
	if err != nil {
		return fmt.Errorf("download %s: %w", file.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", file.URL, resp.StatusCode)
	}
	size := int64(len(resp.Body))
	if d.cfg.MaxBytes > 0 && size > d.cfg.MaxBytes {
		return fmt.Errorf("download %s: body exceeds %d bytes", file.URL, d.cfg.MaxBytes)
	}

	digest, err := d.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash %s: %w", file.URL, err)
	}
	filename := Filename(resp.Headers, file.URL)
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}

	blobPath := path.Join(d.cfg.Prefix, digest+strings.ToLower(path.Ext(filename)))
	uri, err := d.blobs.PutObject(ctx, blobPath, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("store %s: %w", file.URL, err)
	}

	stored := crawler.StoredFile{
		URL:         file.URL,
		Parent:      file.Parent,
		LogID:       file.LogID,
		Filename:    filename,
		ContentType: contentType,
		Hash:        digest,
		Size:        size,
		BlobURI:     uri,
		StoredAt:    d.deps.Clock.Now(),
	}
	if stored.ID, err = d.register(ctx, stored); err != nil {
		return err
	}

	metrics.ObserveDownload(file.URL, size)
	d.logger.Info("file stored",
		zap.String("id", stored.ID),
		zap.String("url", file.URL),
		zap.String("filename", filename),
		zap.Int64("bytes", size),
		zap.String("blob_uri", uri),
	)
	return nil
}

func (d *Downloader) register(ctx context.Context, file crawler.StoredFile) (string, error) {
	if d.deps.Catalog == nil {
		id, err := d.deps.IDs.NewID()
		if err != nil {
			return "", fmt.Errorf("assign file id: %w", err)
		}
		return id, nil
	}
	id, err := d.deps.Catalog.RegisterFile(ctx, file)
	if err != nil {
		return "", fmt.Errorf("register %s: %w", file.URL, err)
	}
	return id, nil
}

// Filename picks the name a server suggested in Content-Disposition, falling
// back to the last path segment of rawURL.
func Filename(headers http.Header, rawURL string) string {
	if cd := headers.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := cleanName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := cleanName(path.Base(u.Path)); name != "" {
			return name
		}
	}
	return defaultFilename
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", ".", "..":
		return ""
	}
	return name
}

var _ crawler.Downloader = (*Downloader)(nil)
