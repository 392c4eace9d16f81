package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeNotifier struct {
	credited int
}

func (f *fakeNotifier) OnBalanceCredited(_ context.Context, _ string, _ int64, _ string) {
	f.credited++
}

type fakeFinalizer struct {
	err error
}

func (f *fakeFinalizer) Finalize(_ context.Context, _ string, _ store.BasketSnapshot, _ *string) error {
	return f.err
}

func newTestLedger(t *testing.T) (*Ledger, store.Store, *fakeNotifier) {
	t.Helper()
	st := store.NewMemoryStore()
	if _, err := st.GetOrCreateUser(context.Background(), "user-1", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreditBalance(context.Background(), "user-1", 10000, "seed"); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	notifier := &fakeNotifier{}
	return New(st, m, notifier, nil), st, notifier
}

func TestCredit_UpdatesBalanceAndNotifies(t *testing.T) {
	l, st, notifier := newTestLedger(t)

	balance, err := l.Credit(context.Background(), "user-1", 500, "refill")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 10500 {
		t.Errorf("balance = %d, want 10500", balance)
	}
	if notifier.credited != 1 {
		t.Errorf("credited notifications = %d, want 1", notifier.credited)
	}

	u, _ := st.GetUser(context.Background(), "user-1")
	if u.BalanceEURCents != 10500 {
		t.Errorf("stored balance = %d, want 10500", u.BalanceEURCents)
	}
}

func TestDebit_RejectsInsufficientBalance(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.Debit(context.Background(), "user-1", 999999, "purchase")
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestDebitThenFinalize_SucceedsLeavesBalanceDebited(t *testing.T) {
	l, st, _ := newTestLedger(t)

	err := l.DebitThenFinalize(context.Background(), "user-1", 1000, store.BasketSnapshot{}, nil, &fakeFinalizer{})
	if err != nil {
		t.Fatalf("debit then finalize: %v", err)
	}

	u, _ := st.GetUser(context.Background(), "user-1")
	if u.BalanceEURCents != 9000 {
		t.Errorf("balance = %d, want 9000", u.BalanceEURCents)
	}
}

func TestDebitThenFinalize_ReversesDebitOnFinalizeFailure(t *testing.T) {
	l, st, _ := newTestLedger(t)

	finalizeErr := fmt.Errorf("stock vanished")
	err := l.DebitThenFinalize(context.Background(), "user-1", 1000, store.BasketSnapshot{}, nil, &fakeFinalizer{err: finalizeErr})
	if err == nil {
		t.Fatal("expected error when finalize fails")
	}

	u, _ := st.GetUser(context.Background(), "user-1")
	if u.BalanceEURCents != 10000 {
		t.Errorf("balance = %d, want 10000 (debit reversed)", u.BalanceEURCents)
	}
}

func TestDebitThenFinalize_RejectsNonPositiveAmount(t *testing.T) {
	l, _, _ := newTestLedger(t)

	err := l.DebitThenFinalize(context.Background(), "user-1", 0, store.BasketSnapshot{}, nil, &fakeFinalizer{})
	if err == nil {
		t.Fatal("expected rejection of non-positive debit amount")
	}
}
