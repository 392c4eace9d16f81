// Package order implements the order coordinator (component G): moving a
// basket or refill request from invoice through settlement, and reacting to
// the wallet engine's deposit classifications.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cedros-basket/checkout/internal/errors"
	"github.com/cedros-basket/checkout/internal/inventory"
	"github.com/cedros-basket/checkout/internal/ledger"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/pricing"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/cedros-basket/checkout/internal/wallet"
	"github.com/google/uuid"
)

// WalletMinter is the subset of the wallet engine the coordinator needs to
// start a crypto-denominated invoice. The wallet package never imports
// order, so depending on its concrete MintResult here creates no cycle.
type WalletMinter interface {
	Mint(ctx context.Context, userID, orderID string, eurAmountCents int64) (wallet.MintResult, error)
}

// Messenger delivers outbound notifications and purchase fulfillment media.
type Messenger interface {
	SendPurchaseDelivery(ctx context.Context, userID string, snapshot store.BasketSnapshot) error
	NotifyRefillCredited(ctx context.Context, userID string, amountCents int64) error
	NotifyExpired(ctx context.Context, userID string) error
	NotifyPaymentFailed(ctx context.Context, userID, reason string) error
}

// AlertFunc pages an operator for conditions that need a human.
type AlertFunc func(ctx context.Context, message string)

// Coordinator ties inventory, pricing, ledger, and the wallet engine
// together around one order's lifecycle.
type Coordinator struct {
	store     store.Store
	inventory *inventory.Engine
	pricing   *pricing.Calculator
	ledger    *ledger.Ledger
	wallet    WalletMinter
	messenger Messenger
	metrics   *metrics.Metrics
	alert     AlertFunc
}

// New constructs a Coordinator.
func New(st store.Store, inv *inventory.Engine, pc *pricing.Calculator, lg *ledger.Ledger, wm WalletMinter, msg Messenger, m *metrics.Metrics, alert AlertFunc) *Coordinator {
	if alert == nil {
		alert = func(context.Context, string) {}
	}
	return &Coordinator{store: st, inventory: inv, pricing: pc, ledger: lg, wallet: wm, messenger: msg, metrics: m, alert: alert}
}

// InvoiceResult is returned by BasketPay and Refill.
type InvoiceResult struct {
	PaymentID        string
	PaidFromBalance  bool
	FinalTotalCents  int64
	WalletAddress    string
	ExpectedLamports int64
}

// BasketPay snapshots the user's reserved basket, re-validates any coupon,
// and either settles from internal balance immediately or mints a deposit
// wallet for crypto payment.
func (c *Coordinator) BasketPay(ctx context.Context, userID string, discountCode *string, payWithBalance bool) (InvoiceResult, error) {
	basket, err := c.store.GetUserBasket(ctx, userID)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("order: get basket: %w", err)
	}
	if len(basket) == 0 {
		return InvoiceResult{}, fmt.Errorf("order: basket is empty")
	}

	quote, err := c.pricing.PriceBasket(ctx, userID, basket)
	if err != nil {
		return InvoiceResult{}, err
	}
	if discountCode != nil {
		quote, err = c.pricing.ApplyCoupon(ctx, quote, *discountCode)
		if err != nil {
			return InvoiceResult{}, err
		}
	}

	snapshot := inventory.ToSnapshot(basket)
	paymentID := uuid.NewString()

	if payWithBalance {
		if err := c.ledger.DebitThenFinalize(ctx, userID, quote.FinalTotalCents, snapshot, discountCode, c.inventory); err != nil {
			return InvoiceResult{}, err
		}
		c.deliverPurchase(ctx, userID, snapshot)
		return InvoiceResult{PaymentID: paymentID, PaidFromBalance: true, FinalTotalCents: quote.FinalTotalCents}, nil
	}

	minted, err := c.wallet.Mint(ctx, userID, paymentID, quote.FinalTotalCents)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("order: mint deposit wallet: %w", err)
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("order: marshal basket snapshot: %w", err)
	}

	if err := c.store.CreatePendingDeposit(ctx, store.PendingDeposit{
		PaymentID:          paymentID,
		UserID:             userID,
		Currency:           "SOL",
		TargetEURCents:     quote.FinalTotalCents,
		ExpectedLamports:   minted.ExpectedLamports,
		IsPurchase:         true,
		BasketSnapshotJSON: string(snapshotJSON),
		DiscountCode:       quote.DiscountCode,
		CreatedAt:          time.Now(),
	}); err != nil {
		return InvoiceResult{}, fmt.Errorf("order: persist pending deposit: %w", err)
	}

	return InvoiceResult{
		PaymentID:        paymentID,
		WalletAddress:    minted.Address,
		ExpectedLamports: minted.ExpectedLamports,
		FinalTotalCents:  quote.FinalTotalCents,
	}, nil
}

// Refill mints a deposit wallet for a non-purchase balance top-up.
func (c *Coordinator) Refill(ctx context.Context, userID string, eurAmountCents int64) (InvoiceResult, error) {
	if eurAmountCents <= 0 {
		return InvoiceResult{}, fmt.Errorf("order: refill amount must be positive")
	}

	paymentID := uuid.NewString()
	minted, err := c.wallet.Mint(ctx, userID, paymentID, eurAmountCents)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("order: mint refill wallet: %w", err)
	}

	if err := c.store.CreatePendingDeposit(ctx, store.PendingDeposit{
		PaymentID:        paymentID,
		UserID:           userID,
		Currency:         "SOL",
		TargetEURCents:   eurAmountCents,
		ExpectedLamports: minted.ExpectedLamports,
		IsPurchase:       false,
		CreatedAt:        time.Now(),
	}); err != nil {
		return InvoiceResult{}, fmt.Errorf("order: persist pending deposit: %w", err)
	}

	return InvoiceResult{
		PaymentID:        paymentID,
		WalletAddress:    minted.Address,
		ExpectedLamports: minted.ExpectedLamports,
		FinalTotalCents:  eurAmountCents,
	}, nil
}

// Cancel removes a pending deposit and releases its reservation. The wallet
// engine will still observe and refund any later on-chain inflow.
func (c *Coordinator) Cancel(ctx context.Context, paymentID string) error {
	deposit, err := c.store.GetPendingDeposit(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("order: get pending deposit: %w", err)
	}

	if deposit.IsPurchase {
		snapshot, err := decodeSnapshot(deposit.BasketSnapshotJSON)
		if err != nil {
			return err
		}
		if err := c.inventory.Unreserve(ctx, snapshot); err != nil {
			return err
		}
	}

	if err := c.store.DeletePendingDeposit(ctx, paymentID); err != nil {
		return fmt.Errorf("order: delete pending deposit: %w", err)
	}
	return nil
}

func decodeSnapshot(raw string) (store.BasketSnapshot, error) {
	var snapshot store.BasketSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return store.BasketSnapshot{}, fmt.Errorf("order: decode basket snapshot: %w", err)
	}
	return snapshot, nil
}

func (c *Coordinator) deliverPurchase(ctx context.Context, userID string, snapshot store.BasketSnapshot) {
	if err := c.messenger.SendPurchaseDelivery(ctx, userID, snapshot); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("user_id", userID).Msg("order.delivery_failed")
		return
	}
	productIDs := make([]string, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		productIDs = append(productIDs, entry.ProductID)
	}
	if err := c.inventory.HardDelete(ctx, productIDs); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("order.hard_delete_failed")
	}
}

// settlementRetryBase/Attempts implement spec.md §4.7's bounded exponential
// retry of finalize only: 5s * 3^n, up to 3 attempts.
const (
	settlementRetryBase     = 5 * time.Second
	settlementRetryAttempts = 3
)

// OnWalletPaid settles a paid deposit: purchases finalize with bounded
// retry; refills credit the ledger. Idempotent on payment_id (orderID) via
// PendingDeposit removal on success.
func (c *Coordinator) OnWalletPaid(ctx context.Context, orderID string, _ int64) {
	deposit, err := c.store.GetPendingDeposit(ctx, orderID)
	if err != nil {
		return // already settled or cancelled; no-op per idempotency contract
	}

	if !deposit.IsPurchase {
		if _, err := c.ledger.Credit(ctx, deposit.UserID, deposit.TargetEURCents, "refill"); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("payment_id", orderID).Msg("order.refill_credit_failed")
			return
		}
		_ = c.store.DeletePendingDeposit(ctx, orderID)
		_ = c.messenger.NotifyRefillCredited(ctx, deposit.UserID, deposit.TargetEURCents)
		return
	}

	snapshot, err := decodeSnapshot(deposit.BasketSnapshotJSON)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("payment_id", orderID).Msg("order.decode_snapshot_failed")
		return
	}

	var finalizeErr error
	for attempt := 0; attempt < settlementRetryAttempts; attempt++ {
		finalizeErr = c.inventory.Finalize(ctx, deposit.UserID, snapshot, deposit.DiscountCode)
		if finalizeErr == nil {
			break
		}
		if attempt < settlementRetryAttempts-1 {
			delay := settlementRetryBase * time.Duration(pow3(attempt))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	if finalizeErr != nil {
		c.metrics.ObservePayment("finalize_exhausted", 0)
		_ = c.store.AppendAudit(ctx, store.AuditEntry{
			ActorID:      "system",
			Action:       string(errors.ErrCodeFinalizeFailed),
			TargetUserID: &deposit.UserID,
			Severity:     "critical",
		})
		c.alert(ctx, fmt.Sprintf("finalize exhausted for payment %s: %v", orderID, finalizeErr))
		return // pending deposit left in place for manual settlement
	}

	_ = c.store.DeletePendingDeposit(ctx, orderID)
	c.deliverPurchase(ctx, deposit.UserID, snapshot)
}

func pow3(n int) int64 {
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 3
	}
	return result
}

// OnWalletOverpaid logs the overpayment and then settles the deposit through
// OnWalletPaid. The overpayment EUR credit is made by the wallet engine's
// scanOne before this notifier is called, and the sweep to treasury after.
func (c *Coordinator) OnWalletOverpaid(ctx context.Context, orderID string, observedLamports, expectedLamports int64) {
	logger.FromContext(ctx).Info().Str("payment_id", orderID).Int64("observed", observedLamports).Int64("expected", expectedLamports).Msg("order.overpaid")
	c.OnWalletPaid(ctx, orderID, observedLamports)
}

// OnWalletUnderpaid releases the reservation for a purchase that came in
// short; the partial-payment EUR refund has already been credited by the
// wallet engine.
func (c *Coordinator) OnWalletUnderpaid(ctx context.Context, orderID string, observedLamports, expectedLamports int64) {
	deposit, err := c.store.GetPendingDeposit(ctx, orderID)
	if err != nil {
		return
	}
	if deposit.IsPurchase {
		if snapshot, err := decodeSnapshot(deposit.BasketSnapshotJSON); err == nil {
			_ = c.inventory.Unreserve(ctx, snapshot)
		}
	}
	_ = c.store.DeletePendingDeposit(ctx, orderID)
	_ = c.messenger.NotifyPaymentFailed(ctx, deposit.UserID, "underpaid")
}

// OnWalletExpired releases a timed-out purchase reservation and notifies
// the user.
func (c *Coordinator) OnWalletExpired(ctx context.Context, orderID string) {
	deposit, err := c.store.GetPendingDeposit(ctx, orderID)
	if err != nil {
		return
	}
	if deposit.IsPurchase {
		if snapshot, err := decodeSnapshot(deposit.BasketSnapshotJSON); err == nil {
			_ = c.inventory.Unreserve(ctx, snapshot)
		}
	}
	_ = c.store.DeletePendingDeposit(ctx, orderID)
	_ = c.messenger.NotifyExpired(ctx, deposit.UserID)
}

// ExpirePendingDeposits force-expires any pending deposit older than
// maxAge, independent of whether the wallet engine ever observed and
// classified its balance. This is the scheduler's payment_timeout job: a
// deadman switch for deposits a stalled or failing RPC never got to scan.
func (c *Coordinator) ExpirePendingDeposits(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deposits, err := c.store.ListExpiredPendingDeposits(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("order: list expired pending deposits: %w", err)
	}

	count := 0
	for _, deposit := range deposits {
		c.OnWalletExpired(ctx, deposit.PaymentID)
		count++
	}
	return count, nil
}

// RecoverStrandedFinalizations re-drives settlement for every wallet the
// engine already observed as paid but whose pending deposit is still
// present — the case where the process crashed or exhausted its finalize
// retries between marking the wallet paid and clearing the deposit. Safe
// to call repeatedly: OnWalletPaid is idempotent on payment_id.
func (c *Coordinator) RecoverStrandedFinalizations(ctx context.Context) (int, error) {
	wallets, err := c.store.ListWalletsByStatus(ctx, store.WalletStatusPaid)
	if err != nil {
		return 0, fmt.Errorf("order: list paid wallets: %w", err)
	}

	recovered := 0
	for _, w := range wallets {
		if _, err := c.store.GetPendingDeposit(ctx, w.OrderID); err != nil {
			continue // already settled; nothing stranded
		}
		var observed int64
		if w.AmountReceived != nil {
			observed = *w.AmountReceived
		}
		c.OnWalletPaid(ctx, w.OrderID, observed)
		recovered++
	}
	return recovered, nil
}
