// Package telemetry groups the gateway's observability concerns: structured
// logging (logging) and Prometheus metrics (metrics).
package telemetry
