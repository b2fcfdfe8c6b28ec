package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// VisitStore records item outcomes in the visits table, one row per crawl key
// and URL holding the latest resolution.
type VisitStore struct {
	db    querier
	table string
}

// NewVisitStore builds a VisitStore over an existing pool.
func NewVisitStore(db querier, table string) (*VisitStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "visits")
	if err != nil {
		return nil, err
	}
	return &VisitStore{db: db, table: name}, nil
}

// Record implements crawler.OutcomeSink.
func (s *VisitStore) Record(ctx context.Context, o crawler.Outcome) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	crawl_key,
	url,
	parent_url,
	kind,
	status,
	attempt,
	categories,
	error_message,
	duration_ms,
	resolved_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (crawl_key, url) DO UPDATE SET
	status = EXCLUDED.status,
	attempt = EXCLUDED.attempt,
	categories = EXCLUDED.categories,
	error_message = EXCLUDED.error_message,
	duration_ms = EXCLUDED.duration_ms,
	resolved_at = EXCLUDED.resolved_at`, s.table)

	categories := o.Categories
	if categories == nil {
		categories = []string{}
	}
	_, err := s.db.Exec(ctx, query,
		o.Key,
		o.URL,
		nullable(o.Parent),
		string(o.Kind),
		string(o.Status),
		o.Attempt,
		categories,
		nullable(o.Error),
		o.Duration.Milliseconds(),
		o.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert visit: %w", err)
	}
	return nil
}

var _ crawler.OutcomeSink = (*VisitStore)(nil)
