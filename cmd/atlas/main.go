// Atlas is a unified gateway core for multi-provider AI APIs with prepaid
// credit billing.
//
// It routes normalized requests to provider backends, meters their cost
// from a hot-reloadable pricing table, and settles every request against a
// prepaid credit ledger:
//   - Typed request routing across providers and model capabilities
//   - Reserve / settle / release credit accounting with an immutable
//     transaction log
//   - Asynchronous usage recording with idempotent daily rollups
//   - Content-addressed response caching
//   - Streaming relay with partial billing on early termination
//
// Usage:
//
//	# Start the gateway with default configuration
//	atlas run
//
//	# Start with a custom configuration file
//	atlas run --config /etc/atlas/config.yaml
//
//	# Validate configuration and pricing without starting
//	atlas validate
//
//	# Show version information
//	atlas version
package main

func main() {
	Execute()
}
