package pricing

import (
	"context"
	"testing"

	"github.com/cedros-basket/checkout/internal/store"
)

func newBasket(entries ...store.BasketReservation) []store.BasketReservation {
	return entries
}

func TestPriceBasket_NoResellerDiscount(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st)

	basket := newBasket(store.BasketReservation{
		UserID: "user-1", ProductID: "p1", ProductType: "widget", SnapshotPriceCents: 1000,
	})

	quote, err := c.PriceBasket(context.Background(), "user-1", basket)
	if err != nil {
		t.Fatalf("price basket: %v", err)
	}
	if quote.ResellerSubtotalCents != 1000 {
		t.Errorf("subtotal = %d, want 1000", quote.ResellerSubtotalCents)
	}
	if quote.Entries[0].ResellerDiscountCents != 0 {
		t.Errorf("discount = %d, want 0", quote.Entries[0].ResellerDiscountCents)
	}
}

func TestPriceBasket_RoundsResellerDiscountDown(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetResellerDiscount(context.Background(), store.ResellerDiscount{
		ResellerUserID: "reseller-1", ProductType: "widget", Percent: 33,
	}); err != nil {
		t.Fatalf("set reseller discount: %v", err)
	}
	c := New(st)

	basket := newBasket(store.BasketReservation{
		UserID: "reseller-1", ProductID: "p1", ProductType: "widget", SnapshotPriceCents: 101,
	})

	quote, err := c.PriceBasket(context.Background(), "reseller-1", basket)
	if err != nil {
		t.Fatalf("price basket: %v", err)
	}
	// 101 * 0.33 = 33.33 -> floored to 33 cents discount, not rounded to 33.33->33 vs half-up 33.
	if quote.Entries[0].ResellerDiscountCents != 33 {
		t.Errorf("reseller discount = %d, want 33", quote.Entries[0].ResellerDiscountCents)
	}
	if quote.Entries[0].PricePaidCents != 68 {
		t.Errorf("price paid = %d, want 68", quote.Entries[0].PricePaidCents)
	}
}

func TestApplyCoupon_Percentage(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetDiscountCode(context.Background(), store.DiscountCode{
		Code: "SAVE10", Kind: store.DiscountKindPercentage, Value: 10, Active: true,
	}); err != nil {
		t.Fatalf("set discount code: %v", err)
	}
	c := New(st)

	quote := Quote{ResellerSubtotalCents: 1000}
	got, err := c.ApplyCoupon(context.Background(), quote, "SAVE10")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	if got.FinalTotalCents != 900 {
		t.Errorf("final total = %d, want 900", got.FinalTotalCents)
	}
	if got.DiscountCode == nil || *got.DiscountCode != "SAVE10" {
		t.Errorf("discount code not recorded on quote")
	}
}

func TestApplyCoupon_FixedEUR(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetDiscountCode(context.Background(), store.DiscountCode{
		Code: "FLAT5", Kind: store.DiscountKindFixedEUR, Value: 5, Active: true,
	}); err != nil {
		t.Fatalf("set discount code: %v", err)
	}
	c := New(st)

	quote := Quote{ResellerSubtotalCents: 300}
	got, err := c.ApplyCoupon(context.Background(), quote, "FLAT5")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	if got.FinalTotalCents != 0 {
		t.Errorf("final total = %d, want 0 (floored, discount exceeds subtotal)", got.FinalTotalCents)
	}
}

func TestApplyCoupon_RejectsInactive(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetDiscountCode(context.Background(), store.DiscountCode{
		Code: "OLD", Kind: store.DiscountKindPercentage, Value: 10, Active: false,
	}); err != nil {
		t.Fatalf("set discount code: %v", err)
	}
	c := New(st)

	_, err := c.ApplyCoupon(context.Background(), Quote{ResellerSubtotalCents: 1000}, "OLD")
	if err == nil {
		t.Fatal("expected inactive coupon to be rejected")
	}
}

func TestApplyCoupon_RejectsExhausted(t *testing.T) {
	st := store.NewMemoryStore()
	maxUses := int64(1)
	if err := st.SetDiscountCode(context.Background(), store.DiscountCode{
		Code: "LIMITED", Kind: store.DiscountKindPercentage, Value: 10, Active: true,
		MaxUses: &maxUses, UsesCount: 1,
	}); err != nil {
		t.Fatalf("set discount code: %v", err)
	}
	c := New(st)

	_, err := c.ApplyCoupon(context.Background(), Quote{ResellerSubtotalCents: 1000}, "LIMITED")
	if err == nil {
		t.Fatal("expected exhausted coupon to be rejected")
	}
}

func TestApplyCoupon_UnknownCode(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st)

	_, err := c.ApplyCoupon(context.Background(), Quote{ResellerSubtotalCents: 1000}, "NOPE")
	if err == nil {
		t.Fatal("expected unknown coupon to be rejected")
	}
}
