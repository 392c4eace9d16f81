package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// RPCClient is the subset of Solana RPC operations the wallet engine needs.
// Narrowed to a local interface so tests can swap in a fake instead of
// standing up a real cluster connection.
type RPCClient interface {
	GetBalanceLamports(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	RecentIncomingSignature(ctx context.Context, pubkey solana.PublicKey) (string, error)
}

// Notifier receives wallet lifecycle events. Implemented by the order
// coordinator (component G); the wallet engine never imports it, keeping the
// dependency edge one-directional.
type Notifier interface {
	OnWalletPaid(ctx context.Context, orderID string, observedLamports int64)
	OnWalletOverpaid(ctx context.Context, orderID string, observedLamports, expectedLamports int64)
	OnWalletUnderpaid(ctx context.Context, orderID string, observedLamports, expectedLamports int64)
	OnWalletExpired(ctx context.Context, orderID string)
}

// Ledger is the subset of the balance ledger (component F) the wallet
// engine needs to credit overpayment and partial-payment refunds.
type Ledger interface {
	Credit(ctx context.Context, userID string, amountCents int64, reason string) (int64, error)
}

// MintResult is returned by Mint: the address to pay and the amount due.
type MintResult struct {
	WalletID         string
	Address          string
	ExpectedLamports int64
	QuoteEURPerSOL   string
}

// Classification is the outcome of comparing an observed balance against
// a pending wallet's expected amount.
type Classification string

const (
	ClassificationExact      Classification = "exact"
	ClassificationOverpaid   Classification = "overpaid"
	ClassificationUnderpaid  Classification = "underpaid"
	ClassificationExpired    Classification = "expired"
	ClassificationStillOpen  Classification = "still_open"
)

// exactPaymentToleranceNumerator/Denominator express the 0.995 tolerance as
// an integer ratio so classification never depends on floating point.
const (
	exactPaymentToleranceNumerator   = 995
	exactPaymentToleranceDenominator = 1000
)
