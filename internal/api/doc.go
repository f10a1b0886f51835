// Package api hosts the HTTP server, middleware, and REST handlers for
// triggering and inspecting dataset builds. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/datasets/{publisher_ref} to run a build synchronously.
//   - GET /v1/runs and /v1/runs/{run_id} to read the run ledger.
package api
