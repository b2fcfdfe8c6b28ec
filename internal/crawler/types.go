package crawler

import (
	"net/http"
	"time"
)

// Stats counts the entries of one crawl key.
type Stats struct {
	Key        string `json:"key"`
	Queued     int64  `json:"queued"`
	Processing int64  `json:"processing"`
	Visited    int64  `json:"visited"`
	Failed     int64  `json:"failed"`
}

// OutcomeStatus describes how a dispatched item was resolved.
type OutcomeStatus string

const (
	// OutcomeVisited means the collaborator succeeded.
	OutcomeVisited OutcomeStatus = "visited"
	// OutcomeRetried means the item failed and was re-queued.
	OutcomeRetried OutcomeStatus = "retried"
	// OutcomeFailed means the item exhausted its attempts and was abandoned.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome records the resolution of one dispatched item.
type Outcome struct {
	Key        string        `json:"crawl_key"`
	URL        string        `json:"url"`
	Parent     string        `json:"parent,omitempty"`
	Kind       Kind          `json:"kind"`
	Status     OutcomeStatus `json:"status"`
	Attempt    int           `json:"attempt"`
	Categories []string      `json:"categories,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

// FetchResponse captures the result of a single HTTP fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StoredFile describes a downloaded artifact registered in the content catalog.
type StoredFile struct {
	ID          string
	URL         string
	Parent      string
	LogID       string
	Filename    string
	ContentType string
	Hash        string
	Size        int64
	BlobURI     string
	StoredAt    time.Time
}
