package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestEngine() (*Engine, store.Store) {
	st := store.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	return New(st, m), st
}

func seedProduct(t *testing.T, st store.Store, id string, available int64) {
	t.Helper()
	if err := st.CreateProduct(context.Background(), store.Product{
		ID: id, Type: "widget", PriceEURCents: 500, Available: available,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestReserve_DecrementsAvailable(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 1)

	res, err := e.Reserve(context.Background(), "user-1", "p1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.ProductID != "p1" {
		t.Errorf("product id = %s, want p1", res.ProductID)
	}

	p, _ := st.GetProduct(context.Background(), "p1")
	if p.Available != 0 || p.Reserved != 1 {
		t.Errorf("available=%d reserved=%d, want 0/1", p.Available, p.Reserved)
	}
}

func TestReserve_OutOfStock(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 0)

	_, err := e.Reserve(context.Background(), "user-1", "p1")
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
}

func TestUnreserve_ReleasesStock(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 1)

	res, err := e.Reserve(context.Background(), "user-1", "p1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	snapshot := ToSnapshot([]store.BasketReservation{res})
	if err := e.Unreserve(context.Background(), snapshot); err != nil {
		t.Fatalf("unreserve: %v", err)
	}

	p, _ := st.GetProduct(context.Background(), "p1")
	if p.Available != 1 || p.Reserved != 0 {
		t.Errorf("available=%d reserved=%d, want 1/0", p.Available, p.Reserved)
	}
}

func TestExpire_ReleasesOldReservationsOnly(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 1)

	if _, err := e.Reserve(context.Background(), "user-1", "p1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	expired, err := e.Expire(context.Background(), 1*time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expected no expired reservations yet, got %d", len(expired))
	}

	expired, err = e.Expire(context.Background(), -1*time.Second)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired group, got %d", len(expired))
	}
	if expired[0].UserID != "user-1" {
		t.Errorf("expired user = %s, want user-1", expired[0].UserID)
	}

	p, _ := st.GetProduct(context.Background(), "p1")
	if p.Available != 1 {
		t.Errorf("available = %d, want 1 after expiry", p.Available)
	}
}

func TestFinalize_CommitsPurchaseAndClearsBasket(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 1)

	if _, err := st.GetOrCreateUser(context.Background(), "user-1", "en"); err != nil {
		t.Fatalf("get or create user: %v", err)
	}
	res, err := e.Reserve(context.Background(), "user-1", "p1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	snapshot := ToSnapshot([]store.BasketReservation{res})
	if err := e.Finalize(context.Background(), "user-1", snapshot, nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	basket, _ := st.GetUserBasket(context.Background(), "user-1")
	if len(basket) != 0 {
		t.Errorf("expected empty basket after finalize, got %d entries", len(basket))
	}

	user, _ := st.GetUser(context.Background(), "user-1")
	if user.TotalPurchases != 1 {
		t.Errorf("total purchases = %d, want 1", user.TotalPurchases)
	}
}

func TestFinalize_StockVanishedAbortsWithoutClearingBasket(t *testing.T) {
	e, st := newTestEngine()
	seedProduct(t, st, "p1", 1)

	res, err := e.Reserve(context.Background(), "user-1", "p1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	snapshot := ToSnapshot([]store.BasketReservation{res})

	if err := st.HardDeleteProducts(context.Background(), []string{"p1"}); err != nil {
		t.Fatalf("hard delete: %v", err)
	}

	err = e.Finalize(context.Background(), "user-1", snapshot, nil)
	if !errors.Is(err, store.ErrStockVanished) {
		t.Fatalf("err = %v, want ErrStockVanished", err)
	}

	basket, _ := st.GetUserBasket(context.Background(), "user-1")
	if len(basket) != 1 {
		t.Errorf("expected basket to survive a failed finalize, got %d entries", len(basket))
	}
}

func TestHardDelete_NoopOnEmptyList(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.HardDelete(context.Background(), nil); err != nil {
		t.Fatalf("hard delete with no ids: %v", err)
	}
}
