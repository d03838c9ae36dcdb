// Package cache implements the content-addressed response cache.
//
// Keys are SHA-256 digests of the full request content, so two requests
// share an entry only when they are byte-identical in meaning. Concurrent
// requests for the same missing key collapse to a single compute: the first
// caller runs it, later callers wait (bounded) for the result. If the
// compute fails or the wait times out, waiters fall back to computing
// independently rather than failing.
//
// Entries expire by TTL: expired entries are dropped lazily on lookup and
// swept periodically in the background.
package cache
