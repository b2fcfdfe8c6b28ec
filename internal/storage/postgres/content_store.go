package postgres

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// fileDataType marks rows holding a downloaded file rather than inline text.
const fileDataType = 1

// ContentStore registers downloaded files in the contents table and returns
// the generated row id.
type ContentStore struct {
	db    querier
	table string
}

// NewContentStore builds a ContentStore over an existing pool.
func NewContentStore(db querier, table string) (*ContentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "contents")
	if err != nil {
		return nil, err
	}
	return &ContentStore{db: db, table: name}, nil
}

// RegisterFile implements crawler.ContentCatalog.
func (s *ContentStore) RegisterFile(ctx context.Context, file crawler.StoredFile) (string, error) {
	if file.URL == "" {
		return "", fmt.Errorf("file url is required")
	}
	name, ext := splitFilename(file.Filename)
	query := fmt.Sprintf(`
INSERT INTO %s (
	data_type,
	org_file_name,
	org_file_ext,
	source_url,
	parent_url,
	log_id,
	content_type,
	content_hash,
	size_bytes,
	blob_uri,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
RETURNING id::text`, s.table)

	var id string
	err := s.db.QueryRow(ctx, query,
		fileDataType,
		name,
		ext,
		file.URL,
		nullable(file.Parent),
		nullable(file.LogID),
		file.ContentType,
		file.Hash,
		file.Size,
		file.BlobURI,
		file.StoredAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert content: %w", err)
	}
	return id, nil
}

// splitFilename separates "report.final.pdf" into "report.final" and "pdf".
func splitFilename(filename string) (string, string) {
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext), strings.TrimPrefix(ext, ".")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ crawler.ContentCatalog = (*ContentStore)(nil)
