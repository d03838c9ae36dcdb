// Package server provides the admin HTTP listener for the gateway process.
//
// The listener is operational surface, not the product API: it exposes a
// minimal JSON dispatch route for exercising the wired gateway, account
// administration against the credit ledger, health and readiness probes,
// and the Prometheus metrics endpoint.
//
// # Routes
//
//   - POST /v1/dispatch                       - route one normalized request
//   - POST /admin/accounts                    - create a credit account
//   - GET  /admin/accounts/{id}               - balance and status
//   - GET  /admin/accounts/{id}/transactions  - transaction log
//   - POST /admin/accounts/{id}/topup         - add credits
//   - POST /admin/accounts/{id}/deactivate    - block reservations
//   - POST /admin/accounts/{id}/activate      - unblock reservations
//   - GET  /healthz                           - liveness probe
//   - GET  /readyz                            - readiness probe
//   - GET  /health/providers                  - per-backend health detail
//   - GET  /metrics                           - Prometheus metrics
//
// # Lifecycle
//
// Start blocks until the context is canceled or the listener fails, then
// drains in-flight connections up to the configured shutdown timeout.
package server
