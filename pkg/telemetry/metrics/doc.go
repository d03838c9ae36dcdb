// Package metrics exposes Prometheus metrics for the gateway: request
// counts and latencies, cache effectiveness, reservation outcomes, settled
// cost, and the usage recorder queue.
//
// All collectors live on a private registry; Handler serves the scrape
// endpoint for it.
package metrics
