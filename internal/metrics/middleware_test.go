package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/v1/frontier/{key}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unknown key", http.StatusNotFound)
		})
		// No explicit WriteHeader: the recorded status defaults to 200.
		r.Post("/", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
	})

	requests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/v1/frontier/example.com", http.StatusNotFound},
		{http.MethodPost, "/v1/frontier/example.com", http.StatusOK},
	}
	for _, req := range requests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(req.method, req.path, nil))
		require.Equal(t, req.want, rec.Code, req.path)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200")), 0)
	// One latency series per method and route pattern.
	assert.Equal(t, 3, testutil.CollectAndCount(httpRequestDurationSeconds))
}
