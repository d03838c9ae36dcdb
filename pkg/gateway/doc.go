// Package gateway orchestrates a request end to end: resolve the backend,
// check the response cache, estimate and reserve credits, invoke the
// backend (with bounded retries for transient failures), settle the
// reservation against the measured cost, and record usage.
//
// Billing is deferred: the reservation taken before the call is a hold, and
// the measured usage from the response decides the final charge. Failed
// requests release the full hold. Streaming requests settle when the stream
// ends; a stream cut short by the client or the backend is billed for what
// was actually delivered, estimated from the relayed content when the
// backend reported no usage.
//
// Retries cover only transient failures (timeouts, unavailability) and only
// before any output reached the client; a partially delivered stream is
// never retried.
package gateway
