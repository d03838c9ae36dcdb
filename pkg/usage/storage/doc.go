// Package storage provides usage record stores: an in-memory store for
// tests and a durable SQLite store. Both deduplicate by request id and
// recompute daily rollups from the raw records.
package storage
