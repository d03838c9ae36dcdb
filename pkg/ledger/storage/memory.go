package storage

import (
	"context"
	"sync"
	"time"

	"lumina-hq/atlas/pkg/money"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
//
// Each account carries its own mutex, so balance mutations are serialized
// per account while different accounts never contend. The outer map lock is
// held only for account lookup and creation.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount
}

type memAccount struct {
	mu      sync.Mutex
	account Account
	txns    []*Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*memAccount),
	}
}

// CreateAccount provisions an account with a zero balance.
func (s *MemoryStore) CreateAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[id]; exists {
		return ErrAccountExists
	}
	s.accounts[id] = &memAccount{
		account: Account{
			ID:        id,
			Balance:   money.Zero(),
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
	return nil
}

func (s *MemoryStore) lookup(id string) (*memAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// Account returns a snapshot of the account.
func (s *MemoryStore) Account(ctx context.Context, id string) (*Account, error) {
	acct, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	snapshot := acct.account
	return &snapshot, nil
}

// SetActive flips the account's active flag.
func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	acct, err := s.lookup(id)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.account.Active = active
	return nil
}

// Apply atomically applies the delta and appends the transaction under the
// account's lock.
func (s *MemoryStore) Apply(ctx context.Context, txn *Transaction) (money.Money, error) {
	acct, err := s.lookup(txn.AccountID)
	if err != nil {
		return money.Zero(), err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if txn.Reason == ReasonReserve && !acct.account.Active {
		return money.Zero(), ErrAccountInactive
	}

	next := acct.account.Balance.Add(txn.Delta)
	if next.IsNegative() {
		return money.Zero(), ErrInsufficientFunds
	}

	acct.account.Balance = next

	committed := *txn
	committed.BalanceAfter = next
	committed.CreatedAt = time.Now().UTC()
	acct.txns = append(acct.txns, &committed)

	return next, nil
}

// Transactions returns the account's transaction log in commit order.
func (s *MemoryStore) Transactions(ctx context.Context, accountID string) ([]*Transaction, error) {
	acct, err := s.lookup(accountID)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]*Transaction, len(acct.txns))
	copy(out, acct.txns)
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
