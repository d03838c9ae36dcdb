package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"lumina-hq/atlas/pkg/money"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.CreateAccount(ctx, "acct"); err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}
			if err := store.CreateAccount(ctx, "acct"); !errors.Is(err, ErrAccountExists) {
				t.Errorf("duplicate CreateAccount = %v, want ErrAccountExists", err)
			}

			acct, err := store.Account(ctx, "acct")
			if err != nil {
				t.Fatalf("Account: %v", err)
			}
			if !acct.Balance.IsZero() {
				t.Errorf("new account balance = %s, want 0", acct.Balance)
			}
			if !acct.Active {
				t.Error("new account inactive, want active")
			}

			if _, err := store.Account(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
				t.Errorf("Account(ghost) = %v, want ErrAccountNotFound", err)
			}
			if err := store.SetActive(ctx, "ghost", false); !errors.Is(err, ErrAccountNotFound) {
				t.Errorf("SetActive(ghost) = %v, want ErrAccountNotFound", err)
			}

			if err := store.SetActive(ctx, "acct", false); err != nil {
				t.Fatalf("SetActive: %v", err)
			}
			acct, _ = store.Account(ctx, "acct")
			if acct.Active {
				t.Error("account still active after SetActive(false)")
			}
		})
	}
}

func TestStoreApplyConditionalDebit(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.CreateAccount(ctx, "acct"); err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}

			balance, err := store.Apply(ctx, &Transaction{
				ID:        "t1",
				AccountID: "acct",
				Delta:     money.MustParse("1.00"),
				Reason:    ReasonTopUp,
			})
			if err != nil {
				t.Fatalf("Apply credit: %v", err)
			}
			if !balance.Equal(money.MustParse("1.00")) {
				t.Errorf("balance = %s, want 1.00", balance)
			}

			// Overdraw is rejected without changing anything.
			_, err = store.Apply(ctx, &Transaction{
				ID:        "t2",
				AccountID: "acct",
				Delta:     money.MustParse("-1.50"),
				Reason:    ReasonReserve,
			})
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("overdraw Apply = %v, want ErrInsufficientFunds", err)
			}
			acct, _ := store.Account(ctx, "acct")
			if !acct.Balance.Equal(money.MustParse("1.00")) {
				t.Errorf("balance after rejected debit = %s, want 1.00", acct.Balance)
			}

			// Debit to exactly zero is allowed.
			balance, err = store.Apply(ctx, &Transaction{
				ID:        "t3",
				AccountID: "acct",
				Delta:     money.MustParse("-1.00"),
				Reason:    ReasonReserve,
			})
			if err != nil {
				t.Fatalf("Apply debit: %v", err)
			}
			if !balance.IsZero() {
				t.Errorf("balance = %s, want 0", balance)
			}

			_, err = store.Apply(ctx, &Transaction{
				ID:        "t4",
				AccountID: "ghost",
				Delta:     money.MustParse("-0.10"),
				Reason:    ReasonReserve,
			})
			if !errors.Is(err, ErrAccountNotFound) {
				t.Errorf("Apply(ghost) = %v, want ErrAccountNotFound", err)
			}
		})
	}
}

func TestStoreReserveDebitRequiresActiveAccount(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.CreateAccount(ctx, "acct"); err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}
			if _, err := store.Apply(ctx, &Transaction{
				ID:        "t1",
				AccountID: "acct",
				Delta:     money.MustParse("1.00"),
				Reason:    ReasonTopUp,
			}); err != nil {
				t.Fatalf("Apply credit: %v", err)
			}
			if err := store.SetActive(ctx, "acct", false); err != nil {
				t.Fatalf("SetActive: %v", err)
			}

			// The active check rides the same conditional update as the
			// debit, so a deactivation can never race a new reservation in.
			_, err := store.Apply(ctx, &Transaction{
				ID:        "t2",
				AccountID: "acct",
				Delta:     money.MustParse("-0.10"),
				Reason:    ReasonReserve,
			})
			if !errors.Is(err, ErrAccountInactive) {
				t.Fatalf("reserve Apply on inactive account = %v, want ErrAccountInactive", err)
			}
			acct, _ := store.Account(ctx, "acct")
			if !acct.Balance.Equal(money.MustParse("1.00")) {
				t.Errorf("balance after rejected reserve = %s, want 1.00", acct.Balance)
			}

			// In-flight reservations still settle and release normally.
			balance, err := store.Apply(ctx, &Transaction{
				ID:        "t3",
				AccountID: "acct",
				Delta:     money.MustParse("-0.10"),
				Reason:    ReasonSettleExtra,
			})
			if err != nil {
				t.Fatalf("Apply settle extra: %v", err)
			}
			if !balance.Equal(money.MustParse("0.90")) {
				t.Errorf("balance = %s, want 0.90", balance)
			}
			if _, err := store.Apply(ctx, &Transaction{
				ID:        "t4",
				AccountID: "acct",
				Delta:     money.MustParse("0.10"),
				Reason:    ReasonRelease,
			}); err != nil {
				t.Fatalf("Apply release: %v", err)
			}
		})
	}
}

func TestStoreTransactionLog(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.CreateAccount(ctx, "acct"); err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}

			deltas := []string{"2.00", "-0.80", "0.30"}
			reasons := []Reason{ReasonTopUp, ReasonReserve, ReasonSettleRefund}
			for i, d := range deltas {
				txn := &Transaction{
					ID:            "t" + string(rune('1'+i)),
					AccountID:     "acct",
					Delta:         money.MustParse(d),
					Reason:        reasons[i],
					UsageRecordID: "req-1",
				}
				if _, err := store.Apply(ctx, txn); err != nil {
					t.Fatalf("Apply[%d]: %v", i, err)
				}
				if txn.CreatedAt.IsZero() {
					t.Errorf("Apply[%d] left CreatedAt zero", i)
				}
			}

			txns, err := store.Transactions(ctx, "acct")
			if err != nil {
				t.Fatalf("Transactions: %v", err)
			}
			if len(txns) != len(deltas) {
				t.Fatalf("len(txns) = %d, want %d", len(txns), len(deltas))
			}

			// Replay must reproduce the materialized balance, and each entry's
			// BalanceAfter must be the running sum.
			running := money.Zero()
			for i, txn := range txns {
				running = running.Add(txn.Delta)
				if !txn.BalanceAfter.Equal(running) {
					t.Errorf("txn[%d].BalanceAfter = %s, want %s", i, txn.BalanceAfter, running)
				}
			}
			acct, _ := store.Account(ctx, "acct")
			if !running.Equal(acct.Balance) {
				t.Errorf("replayed = %s, materialized = %s", running, acct.Balance)
			}

			if _, err := store.Transactions(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
				t.Errorf("Transactions(ghost) = %v, want ErrAccountNotFound", err)
			}
		})
	}
}
