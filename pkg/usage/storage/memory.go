package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"lumina-hq/atlas/pkg/money"
	"lumina-hq/atlas/pkg/usage"
)

type summaryKey struct {
	accountID string
	day       time.Time
}

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*usage.Record
	summaries map[summaryKey]*usage.DailySummary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*usage.Record),
		summaries: make(map[summaryKey]*usage.DailySummary),
	}
}

// Insert stores the record unless the request id is already present.
func (s *MemoryStore) Insert(ctx context.Context, record *usage.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.RequestID]; exists {
		return false, nil
	}
	copied := *record
	s.records[record.RequestID] = &copied
	return true, nil
}

// Get returns the record for the request id.
func (s *MemoryStore) Get(ctx context.Context, requestID string) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[requestID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

// RecomputeDay rebuilds the day's summaries from the raw records.
func (s *MemoryStore) RecomputeDay(ctx context.Context, day time.Time) (int, error) {
	day = usage.Day(day)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace, never increment: stale summaries for the day are dropped
	// first so recomputation is idempotent.
	for key := range s.summaries {
		if key.day.Equal(day) {
			delete(s.summaries, key)
		}
	}

	fresh := make(map[string]*usage.DailySummary)
	for _, record := range s.records {
		if !usage.Day(record.Timestamp).Equal(day) {
			continue
		}
		sum, ok := fresh[record.AccountID]
		if !ok {
			sum = &usage.DailySummary{
				AccountID:    record.AccountID,
				Day:          day,
				TotalCost:    money.Zero(),
				UnbilledCost: money.Zero(),
			}
			fresh[record.AccountID] = sum
		}
		accumulate(sum, record)
	}

	for accountID, sum := range fresh {
		s.summaries[summaryKey{accountID: accountID, day: day}] = sum
	}
	return len(fresh), nil
}

// Summaries returns the account's summaries for days in [from, to].
func (s *MemoryStore) Summaries(ctx context.Context, accountID string, from, to time.Time) ([]*usage.DailySummary, error) {
	from = usage.Day(from)
	to = usage.Day(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*usage.DailySummary
	for key, sum := range s.summaries {
		if key.accountID != accountID {
			continue
		}
		if key.day.Before(from) || key.day.After(to) {
			continue
		}
		copied := *sum
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func accumulate(sum *usage.DailySummary, record *usage.Record) {
	sum.Requests++
	if record.Outcome == usage.OutcomeError {
		sum.Errors++
	}
	if record.Cached {
		sum.Cached++
	}
	sum.PromptTokens += record.PromptTokens
	sum.CompletionTokens += record.CompletionTokens
	sum.Images += record.Images
	sum.AudioSeconds += record.AudioSeconds
	sum.TotalCost = sum.TotalCost.Add(record.Cost)
	sum.UnbilledCost = sum.UnbilledCost.Add(record.UnbilledCost)
}
