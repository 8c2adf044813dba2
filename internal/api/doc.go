// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/connections for repository connection management, checks,
//     export/import and history reports.
//   - /v1/connectors for the registered connector classes.
//   - /v1/jobs for job submission, status and cancellation.
package api
