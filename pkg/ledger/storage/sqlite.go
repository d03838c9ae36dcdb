package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"lumina-hq/atlas/pkg/money"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	balance_micros INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	delta_micros INTEGER NOT NULL,
	balance_after_micros INTEGER NOT NULL,
	reason TEXT NOT NULL,
	usage_record_id TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_txn_account ON credit_transactions(account_id, created_at);
`

// SQLiteStore is a durable Store backed by SQLite.
//
// Debits are a single conditional UPDATE committed in the same transaction
// as the credit_transactions insert, so the materialized balance and the
// log cannot diverge and no read-then-write window exists.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite ledger store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (and if needed initializes) a SQLite ledger store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// SQLite supports a single writer; the pool must not hand out more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateAccount provisions an account with a zero balance.
func (s *SQLiteStore) CreateAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, balance_micros, active, created_at) VALUES (?, 0, 1, ?)`,
		id, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id)
		if scanErr := row.Scan(&exists); scanErr == nil {
			return ErrAccountExists
		}
		return fmt.Errorf("creating account %q: %w", id, err)
	}
	return nil
}

// Account returns the account, or ErrAccountNotFound.
func (s *SQLiteStore) Account(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, balance_micros, active, created_at FROM accounts WHERE id = ?`, id)

	var (
		acct      Account
		micros    int64
		active    int
		createdMs int64
	)
	if err := row.Scan(&acct.ID, &micros, &active, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("loading account %q: %w", id, err)
	}

	acct.Balance = money.FromMicros(micros)
	acct.Active = active != 0
	acct.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &acct, nil
}

// SetActive flips the account's active flag.
func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET active = ? WHERE id = ?`, flag, id)
	if err != nil {
		return fmt.Errorf("updating account %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Apply applies the delta with a conditional UPDATE and appends the
// transaction row in the same database transaction.
func (s *SQLiteStore) Apply(ctx context.Context, txn *Transaction) (money.Money, error) {
	delta, err := txn.Delta.Micros()
	if err != nil {
		return money.Zero(), fmt.Errorf("transaction delta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return money.Zero(), fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// The WHERE clause is the atomicity guarantee: the balance changes only
	// if it stays non-negative, in one statement, no read-then-write.
	// Reserve debits additionally require an active account in the same
	// statement.
	query := `
		UPDATE accounts
		SET balance_micros = balance_micros + ?
		WHERE id = ? AND balance_micros + ? >= 0
		RETURNING balance_micros`
	if txn.Reason == ReasonReserve {
		query = `
		UPDATE accounts
		SET balance_micros = balance_micros + ?
		WHERE id = ? AND balance_micros + ? >= 0 AND active = 1
		RETURNING balance_micros`
	}
	row := tx.QueryRowContext(ctx, query, delta, txn.AccountID, delta)

	var newMicros int64
	if err := row.Scan(&newMicros); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return money.Zero(), fmt.Errorf("applying delta: %w", err)
		}
		// No row updated: the account is missing, inactive, or the debit
		// would overdraw. Distinguish for the caller.
		var active int
		check := tx.QueryRowContext(ctx, `SELECT active FROM accounts WHERE id = ?`, txn.AccountID)
		if scanErr := check.Scan(&active); scanErr != nil {
			return money.Zero(), ErrAccountNotFound
		}
		if txn.Reason == ReasonReserve && active == 0 {
			return money.Zero(), ErrAccountInactive
		}
		return money.Zero(), ErrInsufficientFunds
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, account_id, delta_micros, balance_after_micros, reason, usage_record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.AccountID, delta, newMicros, string(txn.Reason),
		nullable(txn.UsageRecordID), now.UnixMilli(),
	)
	if err != nil {
		return money.Zero(), fmt.Errorf("appending transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return money.Zero(), fmt.Errorf("committing transaction: %w", err)
	}

	txn.BalanceAfter = money.FromMicros(newMicros)
	txn.CreatedAt = now
	return txn.BalanceAfter, nil
}

// Transactions returns the account's transaction log in commit order.
func (s *SQLiteStore) Transactions(ctx context.Context, accountID string) ([]*Transaction, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, delta_micros, balance_after_micros, reason, usage_record_id, created_at
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY created_at, rowid`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var (
			txn       Transaction
			delta     int64
			after     int64
			reason    string
			usageID   sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&txn.ID, &txn.AccountID, &delta, &after, &reason, &usageID, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txn.Delta = money.FromMicros(delta)
		txn.BalanceAfter = money.FromMicros(after)
		txn.Reason = Reason(reason)
		txn.UsageRecordID = usageID.String
		txn.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, &txn)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
