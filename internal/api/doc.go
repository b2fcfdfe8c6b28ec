// Package api hosts the status server that operators and probes use to watch a
// crawl. Routes:
//   - GET /healthz and /readyz for Kubernetes probes. readyz round-trips the frontier store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier/{key} for queue, processing, visited and failed counts.
//   - GET /v1/frontier/{key}/url?u=... for the frontier status of one URL.
package api
