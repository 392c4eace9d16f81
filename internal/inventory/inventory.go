// Package inventory implements the reservation/inventory state machine
// (component D): reserving a unit against a user's basket, releasing it on
// timeout or cancel, and committing a purchase atomically.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
)

// Engine wraps the persistence store's composite reservation operations
// with metrics and logging.
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
}

// New constructs an inventory Engine.
func New(st store.Store, m *metrics.Metrics) *Engine {
	return &Engine{store: st, metrics: m}
}

// Reserve holds one unit of product against the user's basket.
func (e *Engine) Reserve(ctx context.Context, userID, productID string) (store.BasketReservation, error) {
	res, err := e.store.ReserveProduct(ctx, userID, productID)
	if err != nil {
		e.metrics.ObserveReservation("failed")
		return store.BasketReservation{}, err
	}
	e.metrics.ObserveReservation("reserved")
	return res, nil
}

// ToSnapshot converts a live basket into the frozen snapshot used by
// finalize/unreserve, so later mutations to product prices never retroactively
// change what a pending deposit charges.
func ToSnapshot(basket []store.BasketReservation) store.BasketSnapshot {
	entries := make([]store.BasketSnapshotEntry, 0, len(basket))
	for _, r := range basket {
		entries = append(entries, store.BasketSnapshotEntry{
			ProductID:      r.ProductID,
			ProductType:    r.ProductType,
			PricePaidCents: r.SnapshotPriceCents,
		})
	}
	return store.BasketSnapshot{Entries: entries}
}

// Unreserve releases every entry in snapshot back to available stock. Safe
// to call on a snapshot whose products were since deleted.
func (e *Engine) Unreserve(ctx context.Context, snapshot store.BasketSnapshot) error {
	if err := e.store.UnreserveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("inventory: unreserve: %w", err)
	}
	e.metrics.ObserveReservation("released")
	return nil
}

// Expire releases every basket reservation older than timeout, grouped per
// user so the caller can notify once per user. Intended to be called by the
// scheduler's basket_expiry job.
func (e *Engine) Expire(ctx context.Context, timeout time.Duration) ([]store.ExpiredReservation, error) {
	cutoff := time.Now().Add(-timeout)
	expired, err := e.store.ExpireReservations(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("inventory: expire reservations: %w", err)
	}
	for range expired {
		e.metrics.ObserveReservation("expired")
	}
	return expired, nil
}

// Finalize commits a purchase: re-validates stock, records purchases,
// bumps the user's total_purchases, conditionally spends a coupon use, and
// clears the basket, all within one store transaction. Never rolled back by
// an exhausted coupon once the sale is otherwise committed.
func (e *Engine) Finalize(ctx context.Context, userID string, snapshot store.BasketSnapshot, discountCode *string) error {
	if err := e.store.FinalizePurchase(ctx, userID, snapshot, discountCode); err != nil {
		e.metrics.ObservePayment("failed", 0)
		return fmt.Errorf("inventory: finalize: %w", err)
	}

	var total int64
	for _, entry := range snapshot.Entries {
		total += entry.PricePaidCents
	}
	e.metrics.ObservePayment("success", total)
	return nil
}

// HardDelete permanently removes product rows and is only safe to call
// after the coordinator confirms post-purchase media delivery succeeded;
// calling it before delivery would destroy the pickup text/media needed to
// retry.
func (e *Engine) HardDelete(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	if err := e.store.HardDeleteProducts(ctx, productIDs); err != nil {
		return fmt.Errorf("inventory: hard delete: %w", err)
	}
	logger.FromContext(ctx).Info().Strs("product_ids", productIDs).Msg("inventory.hard_delete")
	return nil
}
