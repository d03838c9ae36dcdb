package storage

import (
	"context"
	"errors"
	"time"

	"lumina-hq/atlas/pkg/money"
)

// Reason classifies a credit transaction.
type Reason string

// Transaction reasons.
const (
	// ReasonReserve is the hold debit taken before a backend call
	ReasonReserve Reason = "reserve"

	// ReasonSettleRefund returns the unused part of a hold
	ReasonSettleRefund Reason = "settle_refund"

	// ReasonSettleExtra is the additional debit when actual cost exceeded
	// the hold
	ReasonSettleExtra Reason = "settle_extra"

	// ReasonRelease returns a full hold after a failed request
	ReasonRelease Reason = "release"

	// ReasonTopUp is a credit purchase
	ReasonTopUp Reason = "topup"
)

// Transaction is one immutable ledger entry. The account balance is always
// recoverable by replaying deltas in order.
type Transaction struct {
	// ID is the unique transaction identifier
	ID string

	// AccountID is the account the delta applies to
	AccountID string

	// Delta is the signed amount: negative for spend, positive for refunds
	// and top-ups
	Delta money.Money

	// BalanceAfter is the materialized balance immediately after this
	// transaction committed. Filled in by the store.
	BalanceAfter money.Money

	// Reason classifies the transaction
	Reason Reason

	// UsageRecordID links spend transactions to their usage record;
	// empty for top-ups
	UsageRecordID string

	// CreatedAt is when the transaction committed
	CreatedAt time.Time
}

// Account is a credit account. Balances never go negative post-commit.
type Account struct {
	// ID is the account identifier
	ID string

	// Balance is the materialized credit balance
	Balance money.Money

	// Active indicates the account may make new reservations
	Active bool

	// CreatedAt is when the account was provisioned
	CreatedAt time.Time
}

// Store errors.
var (
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists indicates a duplicate account creation.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientFunds indicates a conditional debit would have driven
	// the balance negative. The balance is unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountInactive indicates a reserve debit was attempted against a
	// deactivated account. The balance is unchanged.
	ErrAccountInactive = errors.New("account inactive")
)

// Store persists accounts and the credit transaction log.
// Implementations must be safe for concurrent use and must serialize
// balance mutations per account.
type Store interface {
	// CreateAccount provisions an account with a zero balance.
	// Returns ErrAccountExists if the id is taken.
	CreateAccount(ctx context.Context, id string) error

	// Account returns the account, or ErrAccountNotFound.
	Account(ctx context.Context, id string) (*Account, error)

	// SetActive flips the account's active flag.
	SetActive(ctx context.Context, id string, active bool) error

	// Apply atomically applies a transaction's delta to the account balance
	// and appends the transaction, as one unit. A negative delta is
	// conditional: if it would drive the balance negative, nothing changes
	// and ErrInsufficientFunds is returned. A ReasonReserve debit is further
	// conditional on the account being active, so a deactivation racing the
	// debit cannot admit a new reservation; ErrAccountInactive otherwise.
	// The committed transaction's BalanceAfter and CreatedAt are filled in.
	// Returns the new balance.
	Apply(ctx context.Context, txn *Transaction) (money.Money, error)

	// Transactions returns the account's transaction log in commit order.
	Transactions(ctx context.Context, accountID string) ([]*Transaction, error)

	// Close releases store resources.
	Close() error
}
