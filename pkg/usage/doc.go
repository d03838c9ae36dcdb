// Package usage records per-request usage asynchronously and maintains
// daily per-account rollups.
//
// Recording is off the request path: the recorder enqueues records to a
// buffered channel drained by a background worker, so a slow or briefly
// failing store never blocks a response. Delivery is at-least-once (the
// worker retries failed writes) and the store deduplicates by request id,
// so duplicate deliveries collapse to one record.
//
// Rollups are recomputed from the raw records rather than incremented, so
// re-running a rollup for a day is idempotent.
package usage
