package gateway

import (
	"time"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/ledger"
	"lumina-hq/atlas/pkg/money"
)

// Result is the outcome of a completed request.
type Result struct {
	// RequestID is the gateway-assigned request identifier
	RequestID string

	// Provider and Model identify the backend that served the request
	Provider string
	Model    string

	// Response is the backend response
	Response *backends.Response

	// Cost is the amount charged. Zero for cache hits.
	Cost money.Money

	// Cached reports whether the response came from the cache
	Cached bool

	// Settlement carries the reservation settlement detail; nil for cache
	// hits
	Settlement *ledger.Settlement

	// Latency is the end-to-end request duration
	Latency time.Duration
}

// RetryConfig bounds the orchestrator's retries of transient backend
// failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialInterval is the first retry delay.
	// Default: 500 milliseconds
	InitialInterval time.Duration

	// MaxInterval caps the exponential delay growth.
	// Default: 10 seconds
	MaxInterval time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}
