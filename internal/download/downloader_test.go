package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/frontier-crawler/internal/storage/memory"
)

// sha256("binary")
const binaryDigest = "9a3a45d01531a20e89ac6ae10b0b0beb0492acd7216a368aa062d1a5fecaf9cd"

func TestDownloadStoresAndRegisters(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/attach", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="Report.HWP"`)
		_, _ = w.Write([]byte("binary"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	blobs := memory.NewBlobStore()
	catalog := &fakeCatalog{id: "42"}
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: time.Second}, nil, zap.NewNop())
	d, err := New(fetcher, blobs, Dependencies{Catalog: catalog, Clock: fixedClock(stamp)}, Config{}, zap.NewNop())
	require.NoError(t, err)

	file := crawler.FileDownload{URL: srv.URL + "/attach", Parent: srv.URL + "/", LogID: "log-1"}
	require.NoError(t, d.Download(context.Background(), file))

	obj, ok := blobs.Get("files/" + binaryDigest + ".hwp")
	require.True(t, ok, "blob must be stored under its digest")
	assert.Equal(t, []byte("binary"), obj.Data)
	assert.Equal(t, "application/octet-stream", obj.ContentType)

	require.Len(t, catalog.files, 1)
	got := catalog.files[0]
	assert.Equal(t, "Report.HWP", got.Filename)
	assert.Equal(t, binaryDigest, got.Hash)
	assert.Equal(t, int64(6), got.Size)
	assert.Equal(t, "memory://files/"+binaryDigest+".hwp", got.BlobURI)
	assert.Equal(t, "log-1", got.LogID)
	assert.Equal(t, file.Parent, got.Parent)
	assert.Equal(t, stamp, got.StoredAt)
}

func TestDownloadWithoutCatalogUsesGeneratedID(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ids := &fakeIDs{}
	fetcher := &fakeFetcher{resp: crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte("%PDF-1.4"),
	}}
	d, err := New(fetcher, blobs, Dependencies{IDs: ids}, Config{Prefix: "/artifacts/"}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Download(context.Background(), crawler.FileDownload{URL: "https://example.com/a/b.pdf"}))
	assert.Equal(t, 1, ids.calls)
	assert.Equal(t, 1, blobs.Len())
}

func TestDownloadFailures(t *testing.T) {
	t.Parallel()

	ok := crawler.FetchResponse{StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte("0123456789")}
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		catalog crawler.ContentCatalog
		cfg     Config
	}{
		{name: "fetch error", fetcher: &fakeFetcher{err: errors.New("connection reset")}},
		{name: "non 200", fetcher: &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusNoContent, Headers: http.Header{}}}},
		{name: "too large", fetcher: &fakeFetcher{resp: ok}, cfg: Config{MaxBytes: 4}},
		{name: "catalog error", fetcher: &fakeFetcher{resp: ok}, catalog: &fakeCatalog{err: errors.New("db down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := New(tt.fetcher, memory.NewBlobStore(), Dependencies{Catalog: tt.catalog}, tt.cfg, zap.NewNop())
			require.NoError(t, err)
			require.Error(t, d.Download(context.Background(), crawler.FileDownload{URL: "https://example.com/f.pdf"}))
		})
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{name: "disposition", header: `attachment; filename="a.pdf"`, url: "https://x.kr/dl?id=1", want: "a.pdf"},
		{name: "encoded disposition", header: `attachment; filename*=UTF-8''%EB%B3%B4%EA%B3%A0%EC%84%9C.hwp`, url: "https://x.kr/dl", want: "보고서.hwp"},
		{name: "path traversal stripped", header: `attachment; filename="../../etc/passwd"`, url: "https://x.kr/dl", want: "passwd"},
		{name: "url basename", url: "https://x.kr/docs/plan.xlsx?v=2", want: "plan.xlsx"},
		{name: "root url", url: "https://x.kr/", want: "download"},
		{name: "broken header falls back", header: `attachment; filename=`, url: "https://x.kr/z.zip", want: "z.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.header != "" {
				h.Set("Content-Disposition", tt.header)
			}
			assert.Equal(t, tt.want, Filename(h, tt.url))
		})
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, memory.NewBlobStore(), Dependencies{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeFetcher{}, nil, Dependencies{}, Config{}, nil)
	require.Error(t, err)
}

// --- fakes ---

type fakeFetcher struct {
	resp crawler.FetchResponse
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	resp := f.resp
	resp.URL = url
	return resp, f.err
}

type fakeCatalog struct {
	id    string
	err   error
	files []crawler.StoredFile
}

func (c *fakeCatalog) RegisterFile(_ context.Context, file crawler.StoredFile) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.files = append(c.files, file)
	return c.id, nil
}

type fakeIDs struct{ calls int }

func (g *fakeIDs) NewID() (string, error) {
	g.calls++
	return "generated", nil
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }
