package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lumina-hq/atlas/pkg/money"
)

// flakySink fails the first N inserts, then delegates to the wrapped sink.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	inner    Sink
}

func (f *flakySink) Insert(ctx context.Context, record *Record) (bool, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	if fail {
		return false, errors.New("transient write failure")
	}
	return f.inner.Insert(ctx, record)
}

// memSink is a minimal in-memory sink deduplicating by request id.
type memSink struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemSink() *memSink {
	return &memSink{records: make(map[string]*Record)}
}

func (m *memSink) Insert(ctx context.Context, record *Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.RequestID]; exists {
		return false, nil
	}
	copied := *record
	m.records[record.RequestID] = &copied
	return true, nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func testRecord(requestID string) *Record {
	return &Record{
		RequestID:        requestID,
		AccountID:        "acct",
		Provider:         "openai",
		Model:            "gpt-4",
		Operation:        "chat",
		PromptTokens:     100,
		CompletionTokens: 50,
		Cost:             money.MustParse("0.01"),
		UnbilledCost:     money.Zero(),
		Outcome:          OutcomeSuccess,
	}
}

func TestRecorderWritesAsync(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, nil, nil)

	if err := r.Record(testRecord("req-1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(testRecord("req-2")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.count(); got != 2 {
		t.Errorf("records written = %d, want 2", got)
	}
}

func TestRecorderDeduplicatesByRequestID(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, nil, nil)

	for i := 0; i < 3; i++ {
		if err := r.Record(testRecord("req-1")); err != nil {
			t.Fatalf("Record[%d]: %v", i, err)
		}
	}
	r.Close()

	if got := sink.count(); got != 1 {
		t.Errorf("records written = %d, want 1", got)
	}
}

func TestRecorderRetriesFailedWrites(t *testing.T) {
	sink := newMemSink()
	flaky := &flakySink{failures: 2, inner: sink}
	r := NewRecorder(flaky, &RecorderConfig{
		AsyncBuffer:  10,
		WriteTimeout: time.Second,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
	}, nil)

	if err := r.Record(testRecord("req-1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	r.Close()

	if got := sink.count(); got != 1 {
		t.Errorf("records written = %d, want 1 (after retries)", got)
	}
	if flaky.attempts != 3 {
		t.Errorf("attempts = %d, want 3", flaky.attempts)
	}
}

func TestRecorderDropsAfterExhaustedRetries(t *testing.T) {
	sink := newMemSink()
	flaky := &flakySink{failures: 10, inner: sink}
	r := NewRecorder(flaky, &RecorderConfig{
		AsyncBuffer:  10,
		WriteTimeout: time.Second,
		MaxAttempts:  2,
		RetryDelay:   time.Millisecond,
	}, nil)

	if err := r.Record(testRecord("req-1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	r.Close()

	if got := sink.count(); got != 0 {
		t.Errorf("records written = %d, want 0", got)
	}
	if flaky.attempts != 2 {
		t.Errorf("attempts = %d, want 2", flaky.attempts)
	}
}

func TestRecorderRejectsAfterClose(t *testing.T) {
	r := NewRecorder(newMemSink(), nil, nil)
	r.Close()

	if err := r.Record(testRecord("req-1")); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Record after Close = %v, want ErrRecorderClosed", err)
	}
}
