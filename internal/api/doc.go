// Package api hosts the HTTP server, middleware, and REST handlers for scrape
// jobs. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/jobs for job CRUD, bulk CSV import, runs, cancellation and results.
//
// Every /v1 request must carry an X-User-ID header naming the job owner.
package api
