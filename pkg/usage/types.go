package usage

import (
	"time"

	"lumina-hq/atlas/pkg/money"
)

// Outcome classifies how a request finished.
type Outcome string

// Request outcomes.
const (
	// OutcomeSuccess is a completed request, including partially delivered
	// streams the client canceled
	OutcomeSuccess Outcome = "success"

	// OutcomeError is a request that failed at the backend
	OutcomeError Outcome = "error"

	// OutcomeCanceled is a request canceled before any output was produced
	OutcomeCanceled Outcome = "canceled"
)

// Record is the usage record for one request. RequestID is the
// deduplication key: inserting the same request id twice is a no-op.
type Record struct {
	// RequestID uniquely identifies the request
	RequestID string

	// AccountID is the billed account
	AccountID string

	// Provider and Model identify the backend that served the request
	Provider string
	Model    string

	// Operation is the request kind (chat, embedding, ...)
	Operation string

	// Measured units
	PromptTokens     int64
	CompletionTokens int64
	Images           int64
	AudioSeconds     float64

	// Cost is the amount actually charged
	Cost money.Money

	// UnbilledCost is the overrun that could not be charged; zero in the
	// normal case
	UnbilledCost money.Money

	// LatencyMs is the end-to-end request latency
	LatencyMs int64

	// Timestamp is when the request finished
	Timestamp time.Time

	// Outcome classifies the result
	Outcome Outcome

	// OverrunUnbilled marks records whose cost exceeded the hold and the
	// balance; UnbilledCost carries the shortfall
	OverrunUnbilled bool

	// Cached marks requests served from the response cache
	Cached bool
}

// DailySummary is the per-account, per-day usage rollup.
type DailySummary struct {
	// AccountID is the account the summary covers
	AccountID string

	// Day is the UTC date, truncated to midnight
	Day time.Time

	// Requests is the total request count
	Requests int64

	// Errors is the count of failed requests
	Errors int64

	// Cached is the count of cache-served requests
	Cached int64

	// Aggregated units
	PromptTokens     int64
	CompletionTokens int64
	Images           int64
	AudioSeconds     float64

	// TotalCost is the sum of charged cost
	TotalCost money.Money

	// UnbilledCost is the sum of flagged overruns
	UnbilledCost money.Money
}

// Day truncates t to its UTC date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
