package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lumina-hq/atlas/pkg/telemetry/metrics"
)

// ErrRecorderClosed indicates a record arrived after shutdown began.
var ErrRecorderClosed = errors.New("usage recorder is closed")

// ErrQueueFull indicates the async buffer stayed full past the enqueue
// timeout and the record was dropped.
var ErrQueueFull = errors.New("usage record queue full")

// Sink is where the recorder delivers records. Insert must be idempotent
// by request id.
type Sink interface {
	Insert(ctx context.Context, record *Record) (bool, error)
}

// RecorderConfig configures the async usage recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds a single storage write, and also bounds how long
	// Record waits for buffer space before dropping.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxAttempts is how many times a failed write is attempted before the
	// record is dropped.
	// Default: 3
	MaxAttempts int

	// RetryDelay is the pause between write attempts.
	// Default: 250 milliseconds
	RetryDelay time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
		RetryDelay:   250 * time.Millisecond,
	}
}

// Recorder writes usage records asynchronously. Record returns as soon as
// the record is buffered; a background worker drains the buffer, retrying
// failed writes. Because the sink deduplicates by request id, the retries
// give at-least-once delivery without double counting.
type Recorder struct {
	sink       Sink
	config     *RecorderConfig
	metrics    *metrics.Metrics
	recordChan chan *Record
	wg         sync.WaitGroup
	done       chan struct{}
	logger     *slog.Logger
}

// NewRecorder creates a usage recorder and starts its worker.
func NewRecorder(sink Sink, config *RecorderConfig, m *metrics.Metrics) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 250 * time.Millisecond
	}

	r := &Recorder{
		sink:       sink,
		config:     config,
		metrics:    m,
		recordChan: make(chan *Record, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "usage.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
		"max_attempts", config.MaxAttempts,
	)
	return r
}

// Record enqueues the record for async writing. It returns immediately when
// buffer space is available and never blocks longer than WriteTimeout.
func (r *Recorder) Record(record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case <-r.done:
		return ErrRecorderClosed
	default:
	}

	select {
	case r.recordChan <- record:
		if r.metrics != nil {
			r.metrics.UsageQueueDepth.Set(float64(len(r.recordChan)))
		}
		return nil
	default:
	}

	// Buffer full: wait briefly rather than dropping straight away.
	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- record:
		return nil
	case <-timer.C:
		if r.metrics != nil {
			r.metrics.UsageRecordsDropped.Inc()
		}
		r.logger.Error("usage record queue full, dropping record",
			"request_id", record.RequestID,
			"account", record.AccountID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return ErrQueueFull
	case <-r.done:
		return ErrRecorderClosed
	}
}

// Close drains the buffer and stops the worker. Records already buffered
// are written before Close returns.
func (r *Recorder) Close() error {
	r.logger.Info("shutting down usage recorder")
	close(r.done)
	r.wg.Wait()
	r.logger.Info("usage recorder shut down")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.write(record)

		case <-r.done:
			// Drain whatever is buffered before exit.
			pending := len(r.recordChan)
			if pending > 0 {
				r.logger.Info("draining usage queue before shutdown", "pending_count", pending)
			}
			for {
				select {
				case record := <-r.recordChan:
					r.write(record)
				default:
					return
				}
			}
		}
	}
}

// write attempts the storage insert, retrying transient failures. The sink
// ignores duplicate request ids, so a retry after an ambiguous failure is
// harmless.
func (r *Recorder) write(record *Record) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
		inserted, err := r.sink.Insert(ctx, record)
		cancel()

		if err == nil {
			if r.metrics != nil {
				r.metrics.UsageQueueDepth.Set(float64(len(r.recordChan)))
			}
			if !inserted {
				r.logger.Debug("duplicate usage record ignored",
					"request_id", record.RequestID)
			}
			return
		}
		lastErr = err

		if attempt < r.config.MaxAttempts {
			r.logger.Warn("usage record write failed, retrying",
				"request_id", record.RequestID,
				"attempt", attempt,
				"error", err,
			)
			time.Sleep(r.config.RetryDelay)
		}
	}

	if r.metrics != nil {
		r.metrics.UsageRecordsDropped.Inc()
	}
	r.logger.Error("usage record write failed, dropping record",
		"request_id", record.RequestID,
		"account", record.AccountID,
		"attempts", r.config.MaxAttempts,
		"error", lastErr,
	)
}
