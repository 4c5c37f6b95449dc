// Package api hosts the HTTP control surface. Notable routes:
//   - GET /healthz and /readyz for health checks, GET /metrics for Prometheus.
//   - GET /v1/districts lists the reference catalog.
//   - POST /v1/runs starts a run; POST /v1/runs/{run_id}/cancel stops it.
//   - GET /v1/runs/{run_id} returns live progress, falling back to the
//     run store once the process no longer holds the run.
//   - GET /v1/runs and /v1/runs/{run_id}/units page through the run store.
package api
