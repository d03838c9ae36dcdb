package storage

import (
	"context"
	"errors"
	"time"

	"lumina-hq/atlas/pkg/usage"
)

// ErrRecordNotFound indicates no usage record exists for the request id.
var ErrRecordNotFound = errors.New("usage record not found")

// Store persists usage records and daily summaries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores the record. Inserting a request id that already exists
	// is a no-op; the return value reports whether the record was new.
	Insert(ctx context.Context, record *usage.Record) (bool, error)

	// Get returns the record for the request id, or ErrRecordNotFound.
	Get(ctx context.Context, requestID string) (*usage.Record, error)

	// RecomputeDay rebuilds the daily summaries for every account with
	// records on the given UTC day. Recomputation replaces any existing
	// summaries for that day, so re-running it is idempotent. Returns the
	// number of account summaries written.
	RecomputeDay(ctx context.Context, day time.Time) (int, error)

	// Summaries returns the account's daily summaries for days in
	// [from, to], oldest first.
	Summaries(ctx context.Context, accountID string, from, to time.Time) ([]*usage.DailySummary, error)

	// Close releases store resources.
	Close() error
}
