// Package ledger implements the balance ledger (component F): credit/debit
// against a user's EUR balance with audit trail and the debit-then-finalize
// compensation flow for the pay-with-balance purchase path.
package ledger

import (
	"context"
	"fmt"

	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
)

// Notifier receives balance-mutation events the ledger must surface to the
// user (refill confirmation, overpayment/underpayment credit).
type Notifier interface {
	OnBalanceCredited(ctx context.Context, userID string, amountCents int64, reason string)
}

// Finalizer is the subset of the inventory engine (component D) the
// debit-then-finalize compensation flow needs.
type Finalizer interface {
	Finalize(ctx context.Context, userID string, snapshot store.BasketSnapshot, discountCode *string) error
}

// AlertFunc pages an operator when a compensation attempt fails on both
// legs (debit succeeded, finalize failed, and the re-credit also failed).
type AlertFunc func(ctx context.Context, message string)

// Ledger wraps the store's balance mutators with notification and
// compensation. Its Credit method satisfies wallet.Ledger.
type Ledger struct {
	store    store.Store
	metrics  *metrics.Metrics
	notifier Notifier
	alert    AlertFunc
}

// New constructs a Ledger.
func New(st store.Store, m *metrics.Metrics, notifier Notifier, alert AlertFunc) *Ledger {
	if alert == nil {
		alert = func(context.Context, string) {}
	}
	return &Ledger{store: st, metrics: m, notifier: notifier, alert: alert}
}

// Credit adds amountCents to the user's balance and notifies them.
func (l *Ledger) Credit(ctx context.Context, userID string, amountCents int64, reason string) (int64, error) {
	newBalance, err := l.store.CreditBalance(ctx, userID, amountCents, reason)
	if err != nil {
		return 0, fmt.Errorf("ledger: credit: %w", err)
	}
	l.metrics.ObserveLedgerMutation("credit")
	l.notifier.OnBalanceCredited(ctx, userID, amountCents, reason)
	return newBalance, nil
}

// Debit subtracts amountCents from the user's balance. Returns
// store.ErrInsufficientBalance if the user cannot cover it.
func (l *Ledger) Debit(ctx context.Context, userID string, amountCents int64, reason string) (int64, error) {
	newBalance, err := l.store.DebitBalance(ctx, userID, amountCents, reason)
	if err != nil {
		return 0, fmt.Errorf("ledger: debit: %w", err)
	}
	l.metrics.ObserveLedgerMutation("debit")
	return newBalance, nil
}

// DebitThenFinalize is the pay-with-internal-balance purchase flow: debit
// the basket total, then commit the purchase. If finalize fails, the debit
// is reversed. If the reversing credit also fails, a critical audit entry
// is written and an operator is paged — funds are never silently lost.
func (l *Ledger) DebitThenFinalize(ctx context.Context, userID string, amountCents int64, snapshot store.BasketSnapshot, discountCode *string, finalizer Finalizer) error {
	if _, err := l.Debit(ctx, userID, amountCents, "purchase"); err != nil {
		return fmt.Errorf("ledger: debit for purchase: %w", err)
	}

	if err := finalizer.Finalize(ctx, userID, snapshot, discountCode); err != nil {
		l.metrics.ObserveCompensation("attempted")
		if _, creditErr := l.store.CreditBalance(ctx, userID, amountCents, "purchase_compensation"); creditErr != nil {
			l.metrics.ObserveCompensation("failed")
			if auditErr := l.store.AppendAudit(ctx, store.AuditEntry{
				ActorID:      "system",
				Action:       "compensation_failed",
				TargetUserID: &userID,
				AmountChange: &amountCents,
				Severity:     "critical",
			}); auditErr != nil {
				logger.FromContext(ctx).Error().Err(auditErr).Msg("ledger.compensation_audit_failed")
			}
			l.alert(ctx, fmt.Sprintf("compensation failed for user %s: debit of %d EUR cents could not be reversed after finalize error: %v", userID, amountCents, err))
			return fmt.Errorf("ledger: finalize failed and compensation failed, funds may be stuck: %w", err)
		}
		l.metrics.ObserveCompensation("succeeded")
		return fmt.Errorf("ledger: finalize failed, debit reversed: %w", err)
	}

	return nil
}
