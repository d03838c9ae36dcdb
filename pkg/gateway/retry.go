package gateway

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"lumina-hq/atlas/pkg/backends"
)

// invokeWithRetry calls the backend, retrying transient failures (timeouts
// and unavailability) with exponential backoff. Rate limits, invalid
// requests and context cancellation surface immediately.
func (e *Engine) invokeWithRetry(ctx context.Context, handle *backends.Handle, req *backends.Request) (*backends.Response, error) {
	attempt := 0
	operation := func() (*backends.Response, error) {
		attempt++
		resp, err := handle.Backend.Invoke(ctx, req)
		if err != nil {
			return nil, e.classifyForRetry(handle, err, attempt)
		}
		return resp, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
	)
}

// streamWithRetry opens the backend stream, retrying transient failures.
// Retries happen only here, before any chunk exists; once a stream has
// produced output it is never retried.
func (e *Engine) streamWithRetry(ctx context.Context, handle *backends.Handle, req *backends.Request) (<-chan *backends.Chunk, error) {
	attempt := 0
	operation := func() (<-chan *backends.Chunk, error) {
		attempt++
		chunks, err := handle.Backend.Stream(ctx, req)
		if err != nil {
			return nil, e.classifyForRetry(handle, err, attempt)
		}
		return chunks, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
	)
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialInterval
	b.MaxInterval = e.retry.MaxInterval
	b.RandomizationFactor = 0.2
	return b
}

// classifyForRetry wraps non-retryable errors as permanent so the backoff
// loop stops, and counts retry attempts on the transient path.
func (e *Engine) classifyForRetry(handle *backends.Handle, err error, attempt int) error {
	if !backends.IsRetryable(err) {
		return backoff.Permanent(err)
	}
	if attempt < e.retry.MaxAttempts {
		if e.metrics != nil {
			e.metrics.RetriesTotal.WithLabelValues(handle.Provider).Inc()
		}
		e.logger.Warn("transient backend failure, retrying",
			"provider", handle.Provider,
			"model", handle.Model,
			"attempt", attempt,
			"max_attempts", e.retry.MaxAttempts,
			"error", err,
		)
	}
	return err
}
