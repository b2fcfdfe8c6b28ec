package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRobotsTransport(base http.RoundTripper) *robotsTransport {
	t := newRobotsTransport(base, zap.NewNop())
	t.backoff = []time.Duration{0, 0, 0}
	return t
}

func TestRobotsTransportAllowsAllAfterRepeatedTimeouts(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)

	resp, err := newTestRobotsTransport(base).RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, allowAllRobots, string(body))
	assert.Equal(t, 4, base.calls)
}

func TestRobotsTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: httptest.NewRecorder().Result()},
	}}
	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)

	resp, err := newTestRobotsTransport(base).RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, 2, base.calls)
}

func TestRobotsTransportPassesThroughOtherRequests(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	req := httptest.NewRequest(http.MethodGet, "https://example.com/index.html", nil)

	_, err := newTestRobotsTransport(base).RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 1, base.calls, "page requests are never retried here")
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
