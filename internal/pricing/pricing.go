// Package pricing implements the discount and coupon calculator
// (component E): reseller percentage discounts applied per basket entry,
// followed by an optional coupon applied to the resulting subtotal.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/cedros-basket/checkout/internal/money"
	"github.com/cedros-basket/checkout/internal/store"
)

// ErrDiscountInvalid is returned when a coupon code is unknown or inactive.
var ErrDiscountInvalid = errors.New("pricing: discount_invalid")

// ErrDiscountExhausted is returned when a coupon has reached its max uses.
var ErrDiscountExhausted = errors.New("pricing: discount_exhausted")

// PricedEntry is one basket unit after reseller discount has been applied.
type PricedEntry struct {
	ProductID             string
	ProductType           string
	OriginalPriceCents    int64
	ResellerDiscountCents int64
	PricePaidCents        int64
}

// Quote is the priced basket before and, once a coupon is applied, after
// coupon discount.
type Quote struct {
	Entries               []PricedEntry
	ResellerSubtotalCents int64
	DiscountCode          *string
	FinalTotalCents       int64
}

// Calculator computes reseller and coupon pricing against the store's
// discount tables.
type Calculator struct {
	store store.Store
}

// New constructs a Calculator.
func New(st store.Store) *Calculator {
	return &Calculator{store: st}
}

// PriceBasket applies each entry's reseller discount (rounded DOWN to
// 0.01 EUR) and sums the result into the reseller subtotal.
func (c *Calculator) PriceBasket(ctx context.Context, userID string, basket []store.BasketReservation) (Quote, error) {
	entries := make([]PricedEntry, 0, len(basket))
	var subtotal int64

	for _, r := range basket {
		discountCents, err := c.resellerDiscountCents(ctx, userID, r.ProductType, r.SnapshotPriceCents)
		if err != nil {
			return Quote{}, err
		}
		paid := r.SnapshotPriceCents - discountCents
		entries = append(entries, PricedEntry{
			ProductID:             r.ProductID,
			ProductType:           r.ProductType,
			OriginalPriceCents:    r.SnapshotPriceCents,
			ResellerDiscountCents: discountCents,
			PricePaidCents:        paid,
		})
		subtotal += paid
	}

	return Quote{
		Entries:               entries,
		ResellerSubtotalCents: subtotal,
		FinalTotalCents:       subtotal,
	}, nil
}

// resellerDiscountCents looks up the user's reseller discount percentage
// for productType (0 if the user has none registered) and applies it to
// price, rounded down, per spec.md §4.5.
func (c *Calculator) resellerDiscountCents(ctx context.Context, userID, productType string, priceCents int64) (int64, error) {
	discount, ok, err := c.store.GetResellerDiscount(ctx, userID, productType)
	if err != nil {
		return 0, fmt.Errorf("pricing: lookup reseller discount: %w", err)
	}
	if !ok || discount.Percent <= 0 {
		return 0, nil
	}

	price := money.New(money.MustGetAsset("EUR"), priceCents)
	basisPoints := int64(discount.Percent * 100)
	discountAmount, err := price.MulBasisPointsWithRounding(basisPoints, money.RoundingFloor)
	if err != nil {
		return 0, fmt.Errorf("pricing: apply reseller discount: %w", err)
	}
	return discountAmount.Atomic, nil
}

// ApplyCoupon re-validates code against the current subtotal and applies
// its discount. Must be called a second time immediately before invoice
// creation (validate_and_apply_discount_atomic) to close the
// time-of-check-to-time-of-use window between basket display and payment.
func (c *Calculator) ApplyCoupon(ctx context.Context, quote Quote, code string) (Quote, error) {
	discount, err := c.store.GetDiscountCode(ctx, code)
	if err != nil {
		if err == store.ErrNotFound {
			return Quote{}, fmt.Errorf("%w: coupon %q not found", ErrDiscountInvalid, code)
		}
		return Quote{}, fmt.Errorf("pricing: lookup discount code: %w", err)
	}
	if !discount.Active {
		return Quote{}, fmt.Errorf("%w: coupon %q is inactive", ErrDiscountInvalid, code)
	}
	if discount.MaxUses != nil && discount.UsesCount >= *discount.MaxUses {
		return Quote{}, fmt.Errorf("%w: coupon %q exhausted", ErrDiscountExhausted, code)
	}

	var finalTotal int64
	switch discount.Kind {
	case store.DiscountKindPercentage:
		subtotal := money.New(money.MustGetAsset("EUR"), quote.ResellerSubtotalCents)
		discounted, err := subtotal.ApplyPercentageDiscountWithRounding(discount.Value, money.RoundingStandard)
		if err != nil {
			return Quote{}, fmt.Errorf("pricing: apply coupon percentage: %w", err)
		}
		finalTotal = discounted.Atomic
	case store.DiscountKindFixedEUR:
		valueCents := int64(discount.Value * 100)
		finalTotal = quote.ResellerSubtotalCents - valueCents
		if finalTotal < 0 {
			finalTotal = 0
		}
	default:
		return Quote{}, fmt.Errorf("pricing: unknown discount kind %q", discount.Kind)
	}

	applied := code
	quote.DiscountCode = &applied
	quote.FinalTotalCents = finalTotal
	return quote, nil
}
