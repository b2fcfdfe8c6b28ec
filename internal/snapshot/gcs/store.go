// Package gcs stores frontier snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/snapshot/local"
)

// Config captures the bucket and object prefix for snapshots.
type Config struct {
	Bucket string
	Prefix string
}

// Store keeps one snapshot object per crawl key.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object holding key's snapshot.
func (s *Store) ObjectName(key string) string {
	name := local.FileName(key)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.ObjectName(key))
}

// Exists reports whether the snapshot object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat snapshot object: %w", err)
	}
	return true, nil
}

// Load downloads the snapshot for key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, crawler.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot object: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot object: %w", err)
	}
	return data, nil
}

// Save uploads data as key's snapshot, replacing any previous one.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write snapshot object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close snapshot writer: %w", err)
	}
	return nil
}

// Delete removes the snapshot object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete snapshot object: %w", err)
	}
	return nil
}

var _ crawler.SnapshotStore = (*Store)(nil)
