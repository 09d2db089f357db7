// Package api hosts the HTTP server, middleware, and REST handlers for the
// fetch queue. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/requests to queue one request or a list of them.
//   - GET /v1/requests/{id} for the settled result of a request.
//   - GET /v1/requests/{id}/events for its lifecycle log, when an
//     EventRepository is configured.
//   - GET /v1/stats for pool and limiter occupancy.
package api
