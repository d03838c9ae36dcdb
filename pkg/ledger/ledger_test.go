package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lumina-hq/atlas/pkg/ledger/storage"
	"lumina-hq/atlas/pkg/money"
)

func newTestLedger(t *testing.T, accountID string, balance string) *Ledger {
	t.Helper()
	l := New(storage.NewMemoryStore())
	if err := l.CreateAccount(context.Background(), accountID, money.MustParse(balance)); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return l
}

func mustBalance(t *testing.T, l *Ledger, accountID string) money.Money {
	t.Helper()
	b, err := l.Balance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func TestSettleOverrunCharged(t *testing.T) {
	// Balance 1.00, estimate 0.80, actual 0.95: the extra 0.15 is charged
	// and the final balance is 0.05.
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	res, err := l.Reserve(ctx, "acct", money.MustParse("0.80"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.20")) {
		t.Fatalf("balance after reserve = %s, want 0.20", got)
	}

	st, err := l.Settle(ctx, res, money.MustParse("0.95"), "req-1")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !st.ExtraCharged.Equal(money.MustParse("0.15")) {
		t.Errorf("ExtraCharged = %s, want 0.15", st.ExtraCharged)
	}
	if st.OverrunUnbilled {
		t.Error("OverrunUnbilled = true, want false")
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.05")) {
		t.Errorf("final balance = %s, want 0.05", got)
	}
}

func TestSettleRefund(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	res, err := l.Reserve(ctx, "acct", money.MustParse("0.80"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	st, err := l.Settle(ctx, res, money.MustParse("0.30"), "req-1")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !st.Refund.Equal(money.MustParse("0.50")) {
		t.Errorf("Refund = %s, want 0.50", st.Refund)
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.70")) {
		t.Errorf("final balance = %s, want 0.70", got)
	}
}

func TestSettleOverrunUnbilled(t *testing.T) {
	// The overrun exceeds what is left on the account. The settlement still
	// succeeds, the shortfall is flagged, and the balance floors at zero.
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	res, err := l.Reserve(ctx, "acct", money.MustParse("0.90"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	st, err := l.Settle(ctx, res, money.MustParse("1.50"), "req-1")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !st.OverrunUnbilled {
		t.Fatal("OverrunUnbilled = false, want true")
	}
	if !st.Unbilled.Equal(money.MustParse("0.60")) {
		t.Errorf("Unbilled = %s, want 0.60", st.Unbilled)
	}
	if !st.ExtraCharged.IsZero() {
		t.Errorf("ExtraCharged = %s, want 0", st.ExtraCharged)
	}
	if res.State() != StateSettled {
		t.Errorf("state = %s, want settled", res.State())
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.10")) {
		t.Errorf("final balance = %s, want 0.10", got)
	}
}

func TestReserveInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "0.05")

	_, err := l.Reserve(ctx, "acct", money.MustParse("0.10"))
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("Reserve error = %v, want ErrInsufficientCredits", err)
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.05")) {
		t.Errorf("balance = %s, want 0.05 unchanged", got)
	}
}

func TestReleaseRestoresBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	res, err := l.Reserve(ctx, "acct", money.MustParse("0.50"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := l.Release(ctx, res); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res.State() != StateReleased {
		t.Errorf("state = %s, want released", res.State())
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("1.00")) {
		t.Errorf("balance = %s, want 1.00", got)
	}
}

func TestTerminalTransitionsRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("settle then release", func(t *testing.T) {
		l := newTestLedger(t, "acct", "1.00")
		res, _ := l.Reserve(ctx, "acct", money.MustParse("0.20"))
		if _, err := l.Settle(ctx, res, money.MustParse("0.20"), "req-1"); err != nil {
			t.Fatalf("Settle: %v", err)
		}
		if err := l.Release(ctx, res); !errors.Is(err, ErrReservationClosed) {
			t.Errorf("Release after Settle = %v, want ErrReservationClosed", err)
		}
	})

	t.Run("double settle", func(t *testing.T) {
		l := newTestLedger(t, "acct", "1.00")
		res, _ := l.Reserve(ctx, "acct", money.MustParse("0.20"))
		if _, err := l.Settle(ctx, res, money.MustParse("0.10"), "req-1"); err != nil {
			t.Fatalf("Settle: %v", err)
		}
		if _, err := l.Settle(ctx, res, money.MustParse("0.10"), "req-1"); !errors.Is(err, ErrReservationClosed) {
			t.Errorf("second Settle = %v, want ErrReservationClosed", err)
		}
	})

	t.Run("release then settle", func(t *testing.T) {
		l := newTestLedger(t, "acct", "1.00")
		res, _ := l.Reserve(ctx, "acct", money.MustParse("0.20"))
		if err := l.Release(ctx, res); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if _, err := l.Settle(ctx, res, money.MustParse("0.20"), "req-1"); !errors.Is(err, ErrReservationClosed) {
			t.Errorf("Settle after Release = %v, want ErrReservationClosed", err)
		}
	})
}

func TestConcurrentReservationsNeverOverspend(t *testing.T) {
	// 20 goroutines each try to hold 0.10 against a 1.00 balance. Exactly
	// ten can win; the rest must see ErrInsufficientCredits and the balance
	// must land exactly at zero.
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	const workers = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		granted      int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "acct", money.MustParse("0.10"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected Reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted = %d, want 10", granted)
	}
	if insufficient != 10 {
		t.Errorf("insufficient = %d, want 10", insufficient)
	}
	if got := mustBalance(t, l, "acct"); !got.IsZero() {
		t.Errorf("final balance = %s, want 0", got)
	}
}

func TestReplayBalanceMatchesMaterialized(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "2.00")

	res1, err := l.Reserve(ctx, "acct", money.MustParse("0.80"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := l.Settle(ctx, res1, money.MustParse("0.95"), "req-1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	res2, err := l.Reserve(ctx, "acct", money.MustParse("0.50"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := l.Release(ctx, res2); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := l.TopUp(ctx, "acct", money.MustParse("5.00")); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	replayed, err := l.ReplayBalance(ctx, "acct")
	if err != nil {
		t.Fatalf("ReplayBalance: %v", err)
	}
	want := money.MustParse("6.05")
	if !replayed.Equal(want) {
		t.Errorf("replayed = %s, want %s", replayed, want)
	}
}

func TestReserveInactiveAccount(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	if err := l.Deactivate(ctx, "acct"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := l.Reserve(ctx, "acct", money.MustParse("0.10")); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("Reserve = %v, want ErrAccountInactive", err)
	}

	if err := l.Activate(ctx, "acct"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := l.Reserve(ctx, "acct", money.MustParse("0.10")); err != nil {
		t.Errorf("Reserve after reactivation: %v", err)
	}
}

func TestReserveUnknownAccount(t *testing.T) {
	l := New(storage.NewMemoryStore())
	if _, err := l.Reserve(context.Background(), "ghost", money.MustParse("0.10")); !errors.Is(err, storage.ErrAccountNotFound) {
		t.Errorf("Reserve = %v, want ErrAccountNotFound", err)
	}
}

func TestZeroEstimateReservation(t *testing.T) {
	// A zero hold is valid (some operations estimate to zero) and must not
	// append empty transactions.
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	res, err := l.Reserve(ctx, "acct", money.Zero())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	st, err := l.Settle(ctx, res, money.MustParse("0.02"), "req-1")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !st.ExtraCharged.Equal(money.MustParse("0.02")) {
		t.Errorf("ExtraCharged = %s, want 0.02", st.ExtraCharged)
	}
	if got := mustBalance(t, l, "acct"); !got.Equal(money.MustParse("0.98")) {
		t.Errorf("balance = %s, want 0.98", got)
	}
}

func TestTopUpRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "acct", "1.00")

	if _, err := l.TopUp(ctx, "acct", money.Zero()); err == nil {
		t.Error("TopUp(0) succeeded, want error")
	}
	if _, err := l.TopUp(ctx, "acct", money.MustParse("-1.00")); err == nil {
		t.Error("TopUp(-1.00) succeeded, want error")
	}
}
