package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"lumina-hq/atlas/pkg/ledger/storage"
	"lumina-hq/atlas/pkg/money"
)

// Ledger errors.
var (
	// ErrInsufficientCredits indicates the account balance cannot cover the
	// requested hold. The balance is unchanged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrReservationClosed indicates Settle or Release was called on a
	// reservation that already reached a terminal state.
	ErrReservationClosed = errors.New("reservation already settled or released")

	// ErrAccountInactive indicates the account exists but may not make new
	// reservations.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrNegativeAmount indicates a negative amount where only non-negative
	// amounts make sense.
	ErrNegativeAmount = errors.New("amount cannot be negative")
)

// Settlement reports how a reservation was settled.
type Settlement struct {
	// Held is the amount that was reserved
	Held money.Money

	// Actual is the measured cost charged against the hold
	Actual money.Money

	// Refund is the amount returned when the hold exceeded the actual cost
	Refund money.Money

	// ExtraCharged is the additional debit when the actual cost exceeded the
	// hold and the balance covered the difference
	ExtraCharged money.Money

	// OverrunUnbilled is true when the actual cost exceeded the hold and the
	// balance could not cover the difference. The shortfall is in Unbilled.
	OverrunUnbilled bool

	// Unbilled is the shortfall that was never charged
	Unbilled money.Money
}

// Ledger manages prepaid credit accounts. All balance mutations go through
// the store's atomic Apply, so concurrent reservations against one account
// can never jointly overdraw it.
type Ledger struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Ledger over the given store.
func New(store storage.Store) *Ledger {
	return &Ledger{
		store:  store,
		logger: slog.Default().With("component", "ledger"),
	}
}

// CreateAccount provisions an account. A non-zero initial balance is
// recorded as a top-up transaction so that replaying the log from zero
// reproduces the balance.
func (l *Ledger) CreateAccount(ctx context.Context, id string, initial money.Money) error {
	if initial.IsNegative() {
		return ErrNegativeAmount
	}
	if err := l.store.CreateAccount(ctx, id); err != nil {
		return err
	}
	if initial.IsZero() {
		return nil
	}
	_, err := l.store.Apply(ctx, &storage.Transaction{
		ID:        uuid.NewString(),
		AccountID: id,
		Delta:     initial,
		Reason:    storage.ReasonTopUp,
	})
	if err != nil {
		return fmt.Errorf("crediting initial balance: %w", err)
	}
	return nil
}

// TopUp credits the account. The amount must be positive.
func (l *Ledger) TopUp(ctx context.Context, accountID string, amount money.Money) (money.Money, error) {
	if !amount.IsPositive() {
		return money.Zero(), fmt.Errorf("top-up must be positive, got %s", amount)
	}
	balance, err := l.store.Apply(ctx, &storage.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Delta:     amount,
		Reason:    storage.ReasonTopUp,
	})
	if err != nil {
		return money.Zero(), err
	}

	l.logger.Info("account topped up",
		"account", accountID,
		"amount", amount.String(),
		"balance", balance.String())
	return balance, nil
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (money.Money, error) {
	acct, err := l.store.Account(ctx, accountID)
	if err != nil {
		return money.Zero(), err
	}
	return acct.Balance, nil
}

// Account returns the account's full state.
func (l *Ledger) Account(ctx context.Context, accountID string) (*storage.Account, error) {
	return l.store.Account(ctx, accountID)
}

// Deactivate blocks the account from making new reservations. In-flight
// reservations still settle or release normally.
func (l *Ledger) Deactivate(ctx context.Context, accountID string) error {
	return l.store.SetActive(ctx, accountID, false)
}

// Activate re-enables an account.
func (l *Ledger) Activate(ctx context.Context, accountID string) error {
	return l.store.SetActive(ctx, accountID, true)
}

// Reserve holds estimate against the account. It either debits the full
// estimate atomically or returns ErrInsufficientCredits leaving the balance
// unchanged. Inactive accounts are rejected with ErrAccountInactive.
func (l *Ledger) Reserve(ctx context.Context, accountID string, estimate money.Money) (*Reservation, error) {
	if estimate.IsNegative() {
		return nil, ErrNegativeAmount
	}

	acct, err := l.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}

	res := &Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Held:      estimate,
	}

	if !estimate.IsZero() {
		_, err = l.store.Apply(ctx, &storage.Transaction{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Delta:     estimate.Neg(),
			Reason:    storage.ReasonReserve,
		})
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrInsufficientFunds):
				return nil, ErrInsufficientCredits
			case errors.Is(err, storage.ErrAccountInactive):
				// The store rechecks the flag inside the conditional debit,
				// closing the window against a concurrent Deactivate.
				return nil, ErrAccountInactive
			}
			return nil, err
		}
	}

	l.logger.Debug("credits reserved",
		"account", accountID,
		"reservation", res.ID,
		"held", estimate.String())
	return res, nil
}

// Settle closes the reservation against the measured cost.
//
// If the hold exceeded the cost, the excess is refunded. If the cost
// exceeded the hold, the difference is charged with the same atomic
// conditional debit used by Reserve; when the balance cannot cover it the
// settlement still succeeds with OverrunUnbilled set, because the content
// was already delivered and cannot be clawed back.
func (l *Ledger) Settle(ctx context.Context, res *Reservation, actual money.Money, usageRecordID string) (*Settlement, error) {
	if actual.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if err := res.begin(); err != nil {
		return nil, err
	}

	st := &Settlement{
		Held:     res.Held,
		Actual:   actual,
		Refund:   money.Zero(),
		Unbilled: money.Zero(),
	}

	switch diff := res.Held.Sub(actual); {
	case diff.IsPositive():
		// Hold exceeded cost: refund the excess.
		_, err := l.store.Apply(ctx, &storage.Transaction{
			ID:            uuid.NewString(),
			AccountID:     res.AccountID,
			Delta:         diff,
			Reason:        storage.ReasonSettleRefund,
			UsageRecordID: usageRecordID,
		})
		if err != nil {
			res.abort()
			return nil, fmt.Errorf("refunding reservation %s: %w", res.ID, err)
		}
		st.Refund = diff

	case diff.IsNegative():
		// Cost exceeded hold: try to charge the difference.
		extra := diff.Neg()
		_, err := l.store.Apply(ctx, &storage.Transaction{
			ID:            uuid.NewString(),
			AccountID:     res.AccountID,
			Delta:         diff,
			Reason:        storage.ReasonSettleExtra,
			UsageRecordID: usageRecordID,
		})
		switch {
		case err == nil:
			st.ExtraCharged = extra
		case errors.Is(err, storage.ErrInsufficientFunds):
			st.OverrunUnbilled = true
			st.Unbilled = extra
			l.logger.Warn("cost overrun left unbilled",
				"account", res.AccountID,
				"reservation", res.ID,
				"held", res.Held.String(),
				"actual", actual.String(),
				"unbilled", extra.String())
		default:
			res.abort()
			return nil, fmt.Errorf("charging overrun for reservation %s: %w", res.ID, err)
		}
	}

	res.finish(StateSettled)

	l.logger.Debug("reservation settled",
		"account", res.AccountID,
		"reservation", res.ID,
		"held", res.Held.String(),
		"actual", actual.String(),
		"refund", st.Refund.String(),
		"extra", st.ExtraCharged.String(),
		"overrun_unbilled", st.OverrunUnbilled)
	return st, nil
}

// Release returns the full hold after a failed request.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	if err := res.begin(); err != nil {
		return err
	}

	if !res.Held.IsZero() {
		_, err := l.store.Apply(ctx, &storage.Transaction{
			ID:        uuid.NewString(),
			AccountID: res.AccountID,
			Delta:     res.Held,
			Reason:    storage.ReasonRelease,
		})
		if err != nil {
			res.abort()
			return fmt.Errorf("releasing reservation %s: %w", res.ID, err)
		}
	}

	res.finish(StateReleased)

	l.logger.Debug("reservation released",
		"account", res.AccountID,
		"reservation", res.ID,
		"held", res.Held.String())
	return nil
}

// ReplayBalance recomputes the balance from the transaction log and checks
// it against the materialized balance. Returns the replayed balance; an
// error if the two diverge.
func (l *Ledger) ReplayBalance(ctx context.Context, accountID string) (money.Money, error) {
	acct, err := l.store.Account(ctx, accountID)
	if err != nil {
		return money.Zero(), err
	}
	txns, err := l.store.Transactions(ctx, accountID)
	if err != nil {
		return money.Zero(), err
	}

	replayed := money.Zero()
	for _, txn := range txns {
		replayed = replayed.Add(txn.Delta)
	}

	if !replayed.Equal(acct.Balance) {
		return replayed, fmt.Errorf("ledger divergence for account %q: replayed %s, materialized %s",
			accountID, replayed, acct.Balance)
	}
	return replayed, nil
}

// Transactions returns the account's transaction log in commit order.
func (l *Ledger) Transactions(ctx context.Context, accountID string) ([]*storage.Transaction, error) {
	return l.store.Transactions(ctx, accountID)
}
