package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"lumina-hq/atlas/pkg/money"
	"lumina-hq/atlas/pkg/usage"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	request_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	operation TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	images INTEGER NOT NULL,
	audio_seconds REAL NOT NULL,
	cost_micros INTEGER NOT NULL,
	unbilled_micros INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	overrun_unbilled INTEGER NOT NULL,
	cached INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_account_time ON usage_records(account_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_records(timestamp_ms);

CREATE TABLE IF NOT EXISTS daily_summaries (
	account_id TEXT NOT NULL,
	day_ms INTEGER NOT NULL,
	requests INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	cached INTEGER NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	images INTEGER NOT NULL,
	audio_seconds REAL NOT NULL,
	total_cost_micros INTEGER NOT NULL,
	unbilled_micros INTEGER NOT NULL,
	PRIMARY KEY (account_id, day_ms)
);
`

// SQLiteConfig contains configuration for the SQLite usage store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore is a durable usage store backed by SQLite.
// Deduplication rides on the request_id primary key: INSERT OR IGNORE makes
// redelivered records a no-op.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) a SQLite usage store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening usage database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing usage schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert stores the record; a duplicate request id is ignored.
func (s *SQLiteStore) Insert(ctx context.Context, record *usage.Record) (bool, error) {
	costMicros, err := record.Cost.Micros()
	if err != nil {
		return false, fmt.Errorf("record cost: %w", err)
	}
	unbilledMicros, err := record.UnbilledCost.Micros()
	if err != nil {
		return false, fmt.Errorf("record unbilled cost: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_records
			(request_id, account_id, provider, model, operation,
			 prompt_tokens, completion_tokens, images, audio_seconds,
			 cost_micros, unbilled_micros, latency_ms, timestamp_ms,
			 outcome, overrun_unbilled, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID, record.AccountID, record.Provider, record.Model, record.Operation,
		record.PromptTokens, record.CompletionTokens, record.Images, record.AudioSeconds,
		costMicros, unbilledMicros, record.LatencyMs, record.Timestamp.UTC().UnixMilli(),
		string(record.Outcome), boolToInt(record.OverrunUnbilled), boolToInt(record.Cached),
	)
	if err != nil {
		return false, fmt.Errorf("inserting usage record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get returns the record for the request id.
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*usage.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, account_id, provider, model, operation,
		       prompt_tokens, completion_tokens, images, audio_seconds,
		       cost_micros, unbilled_micros, latency_ms, timestamp_ms,
		       outcome, overrun_unbilled, cached
		FROM usage_records WHERE request_id = ?`, requestID)

	var (
		record          usage.Record
		costMicros      int64
		unbilledMicros  int64
		timestampMs     int64
		outcome         string
		overrunUnbilled int
		cached          int
	)
	err := row.Scan(&record.RequestID, &record.AccountID, &record.Provider, &record.Model,
		&record.Operation, &record.PromptTokens, &record.CompletionTokens, &record.Images,
		&record.AudioSeconds, &costMicros, &unbilledMicros, &record.LatencyMs, &timestampMs,
		&outcome, &overrunUnbilled, &cached)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("loading usage record %q: %w", requestID, err)
	}

	record.Cost = money.FromMicros(costMicros)
	record.UnbilledCost = money.FromMicros(unbilledMicros)
	record.Timestamp = time.UnixMilli(timestampMs).UTC()
	record.Outcome = usage.Outcome(outcome)
	record.OverrunUnbilled = overrunUnbilled != 0
	record.Cached = cached != 0
	return &record, nil
}

// RecomputeDay rebuilds the day's summaries from the raw records in one
// transaction: the day's rows are deleted and re-aggregated, so re-running
// the rollup always lands on the same result.
func (s *SQLiteStore) RecomputeDay(ctx context.Context, day time.Time) (int, error) {
	dayStart := usage.Day(day)
	startMs := dayStart.UnixMilli()
	endMs := dayStart.Add(24 * time.Hour).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning rollup transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM daily_summaries WHERE day_ms = ?`, startMs); err != nil {
		return 0, fmt.Errorf("clearing stale summaries: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(account_id, day_ms, requests, errors, cached,
			 prompt_tokens, completion_tokens, images, audio_seconds,
			 total_cost_micros, unbilled_micros)
		SELECT account_id, ?,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END),
		       SUM(cached),
		       SUM(prompt_tokens),
		       SUM(completion_tokens),
		       SUM(images),
		       SUM(audio_seconds),
		       SUM(cost_micros),
		       SUM(unbilled_micros)
		FROM usage_records
		WHERE timestamp_ms >= ? AND timestamp_ms < ?
		GROUP BY account_id`,
		startMs, startMs, endMs,
	)
	if err != nil {
		return 0, fmt.Errorf("aggregating summaries: %w", err)
	}
	written, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rollup: %w", err)
	}
	return int(written), nil
}

// Summaries returns the account's summaries for days in [from, to].
func (s *SQLiteStore) Summaries(ctx context.Context, accountID string, from, to time.Time) ([]*usage.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, day_ms, requests, errors, cached,
		       prompt_tokens, completion_tokens, images, audio_seconds,
		       total_cost_micros, unbilled_micros
		FROM daily_summaries
		WHERE account_id = ? AND day_ms >= ? AND day_ms <= ?
		ORDER BY day_ms`,
		accountID, usage.Day(from).UnixMilli(), usage.Day(to).UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	var out []*usage.DailySummary
	for rows.Next() {
		var (
			sum            usage.DailySummary
			dayMs          int64
			totalMicros    int64
			unbilledMicros int64
		)
		err := rows.Scan(&sum.AccountID, &dayMs, &sum.Requests, &sum.Errors, &sum.Cached,
			&sum.PromptTokens, &sum.CompletionTokens, &sum.Images, &sum.AudioSeconds,
			&totalMicros, &unbilledMicros)
		if err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.Day = time.UnixMilli(dayMs).UTC()
		sum.TotalCost = money.FromMicros(totalMicros)
		sum.UnbilledCost = money.FromMicros(unbilledMicros)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
