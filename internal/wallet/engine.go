// Package wallet implements the ephemeral wallet engine (component C):
// minting per-order Solana keypairs, scanning them for incoming deposits,
// sweeping settled funds to the treasury, and recovering stuck balances.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/cedros-basket/checkout/internal/circuitbreaker"
	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/oracle"
	"github.com/cedros-basket/checkout/internal/rpcutil"
	solanautil "github.com/cedros-basket/checkout/internal/solana"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const expiryTimeout = 20 * time.Minute

// Engine implements mint/scan/sweep/recover over the persistence store,
// the price oracle, and a Solana RPC connection.
type Engine struct {
	store    store.Store
	oracle   *oracle.Oracle
	rpc      RPCClient
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	ledger   Ledger
	notifier Notifier

	treasuryAddress string
	recoveryAddress string
	dustFloorLamports uint64
	txFeeLamports     uint64
}

// New constructs a wallet Engine.
func New(st store.Store, oc *oracle.Oracle, rpc RPCClient, breakers *circuitbreaker.Manager, m *metrics.Metrics, ledger Ledger, notifier Notifier, cfg config.SolanaConfig, treasury config.TreasuryConfig) *Engine {
	return &Engine{
		store:             st,
		oracle:            oc,
		rpc:               rpc,
		breakers:          breakers,
		metrics:           m,
		ledger:            ledger,
		notifier:          notifier,
		treasuryAddress:   treasury.TreasuryAddress,
		recoveryAddress:   treasury.RecoveryAddress,
		dustFloorLamports: cfg.SweepDustFloorLamports,
		txFeeLamports:     cfg.TxFeeLamports,
	}
}

// SetNotifier swaps the engine's notifier after construction. The order
// coordinator implements Notifier but needs a constructed *Engine to
// satisfy its own WalletMinter dependency, so the wiring in pkg/checkout
// constructs the engine with a nil notifier first, builds the coordinator
// around it, then calls SetNotifier to close the loop.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Mint obtains a quote, generates a fresh keypair, and persists a pending
// wallet. Idempotent on orderID: a retried mint for the same order returns
// the first wallet unchanged.
func (e *Engine) Mint(ctx context.Context, userID, orderID string, eurAmountCents int64) (MintResult, error) {
	if existing, err := e.store.GetWalletByOrderID(ctx, orderID); err == nil {
		return e.toMintResult(existing), nil
	} else if err != store.ErrNotFound {
		return MintResult{}, fmt.Errorf("wallet: lookup existing wallet: %w", err)
	}

	quote, err := e.oracle.Quote(ctx)
	if err != nil {
		return MintResult{}, fmt.Errorf("wallet: quote unavailable: %w", err)
	}

	eur := decimal.New(eurAmountCents, -2)
	solAmount := eur.Div(quote).RoundUp(5) // ceil_to_5dp(eur_amount / q)
	lamports := solAmount.Mul(decimal.New(1, 9)).BigInt().Int64()

	kp, err := solana.NewRandomPrivateKey()
	if err != nil {
		return MintResult{}, fmt.Errorf("wallet: generate keypair: %w", err)
	}

	created, wasNew, err := e.store.CreateWalletIfNotExists(ctx, store.EphemeralWallet{
		UserID:             userID,
		OrderID:            orderID,
		PublicKey:          kp.PublicKey().String(),
		PrivateKeyMaterial: kp.String(),
		ExpectedLamports:   lamports,
		Status:             store.WalletStatusPending,
	})
	if err != nil {
		return MintResult{}, fmt.Errorf("wallet: persist mint: %w", err)
	}
	if !wasNew {
		logger.FromContext(ctx).Info().Str("order_id", orderID).Msg("wallet.mint_idempotent_hit")
	}

	return e.toMintResult(created), nil
}

func (e *Engine) toMintResult(w store.EphemeralWallet) MintResult {
	return MintResult{
		WalletID:         w.ID,
		Address:          w.PublicKey,
		ExpectedLamports: w.ExpectedLamports,
	}
}

// Scan examines every pending wallet, classifies its observed on-chain
// balance, transitions its status, and emits the effects named in spec.md
// §4.3's classification table.
func (e *Engine) Scan(ctx context.Context) error {
	pending, err := e.store.ListWalletsByStatus(ctx, store.WalletStatusPending)
	if err != nil {
		return fmt.Errorf("wallet: list pending wallets: %w", err)
	}

	for _, w := range pending {
		if err := e.scanOne(ctx, w); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.scan_one_failed")
		}
	}
	return nil
}

func (e *Engine) scanOne(ctx context.Context, w store.EphemeralWallet) error {
	pubkey, err := solana.PublicKeyFromBase58(w.PublicKey)
	if err != nil {
		return fmt.Errorf("parse wallet pubkey: %w", err)
	}

	balance, err := e.getBalanceWithRetry(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	class := e.classify(balance, w.ExpectedLamports, time.Since(w.CreatedAt))
	received := int64(balance)

	switch class {
	case ClassificationExact, ClassificationOverpaid:
		if err := e.store.UpdateWalletStatus(ctx, w.ID, store.WalletStatusPaid, &received); err != nil {
			return fmt.Errorf("update status paid: %w", err)
		}
		e.metrics.ObserveDepositClassification(string(class))
		if class == ClassificationOverpaid {
			if err := e.creditOverpayment(ctx, w, received); err != nil {
				logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.overpayment_credit_failed")
			}
			e.notifier.OnWalletOverpaid(ctx, w.OrderID, received, w.ExpectedLamports)
		} else {
			e.notifier.OnWalletPaid(ctx, w.OrderID, received)
		}
		if err := e.Sweep(ctx, w); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.post_settlement_sweep_failed")
		}

	case ClassificationUnderpaid:
		if err := e.store.UpdateWalletStatus(ctx, w.ID, store.WalletStatusRefunded, &received); err != nil {
			return fmt.Errorf("update status refunded: %w", err)
		}
		e.metrics.ObserveDepositClassification(string(class))
		if err := e.creditPartialPayment(ctx, w, received); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.partial_credit_failed")
		}
		e.notifier.OnWalletUnderpaid(ctx, w.OrderID, received, w.ExpectedLamports)
		if err := e.Sweep(ctx, w); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.post_settlement_sweep_failed")
		}

	case ClassificationExpired:
		if err := e.store.UpdateWalletStatus(ctx, w.ID, store.WalletStatusExpired, nil); err != nil {
			return fmt.Errorf("update status expired: %w", err)
		}
		e.metrics.ObserveDepositClassification(string(class))
		e.notifier.OnWalletExpired(ctx, w.OrderID)

	case ClassificationStillOpen:
		// No transition; wait for the next scan.
	}
	return nil
}

// classify implements spec.md §4.3's classification table using integer
// arithmetic to avoid float tolerance drift: b >= 0.995*e is computed as
// 1000*b >= 995*e.
func (e *Engine) classify(observed uint64, expectedLamports int64, age time.Duration) Classification {
	b := int64(observed)
	switch {
	case expectedLamports > 0 && b*exactPaymentToleranceDenominator >= expectedLamports*exactPaymentToleranceNumerator:
		if b > expectedLamports {
			return ClassificationOverpaid
		}
		return ClassificationExact
	case b > 0:
		return ClassificationUnderpaid
	case b == 0 && age > expiryTimeout:
		return ClassificationExpired
	default:
		return ClassificationStillOpen
	}
}

func (e *Engine) creditOverpayment(ctx context.Context, w store.EphemeralWallet, received int64) error {
	quote, err := e.oracle.Quote(ctx)
	if err != nil {
		return fmt.Errorf("quote for overpayment credit: %w", err)
	}
	excessLamports := received - w.ExpectedLamports
	eurCents := lamportsToEURCents(excessLamports, quote)
	if eurCents <= 0 {
		return nil
	}
	_, err = e.ledger.Credit(ctx, w.UserID, eurCents, "wallet_overpayment")
	return err
}

func (e *Engine) creditPartialPayment(ctx context.Context, w store.EphemeralWallet, received int64) error {
	quote, err := e.oracle.Quote(ctx)
	if err != nil {
		return fmt.Errorf("quote for partial credit: %w", err)
	}
	eurCents := lamportsToEURCents(received, quote)
	if eurCents <= 0 {
		return nil
	}
	_, err = e.ledger.Credit(ctx, w.UserID, eurCents, "wallet_underpayment_refund")
	return err
}

func lamportsToEURCents(lamports int64, quoteEURPerSOL decimal.Decimal) int64 {
	sol := decimal.New(lamports, -9)
	eur := sol.Mul(quoteEURPerSOL)
	return eur.Mul(decimal.New(100, 0)).Round(0).IntPart()
}

func (e *Engine) getBalanceWithRetry(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := e.breakers.Execute(circuitbreaker.ServiceSolanaRPC, func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() (uint64, error) {
			return e.rpc.GetBalanceLamports(ctx, pubkey)
		})
	})
	if err != nil {
		e.metrics.ObserveRPCCall("get_balance", "solana", 0, err)
		return 0, err
	}
	e.metrics.ObserveRPCCall("get_balance", "solana", 0, nil)
	return result.(uint64), nil
}

// Sweep transfers balance-minus-fee from wallet to the treasury address.
// Skipped when the balance does not exceed the dust floor plus the
// transaction fee. Refuses to sign if the stored private key
// does not derive the wallet's recorded public key.
func (e *Engine) Sweep(ctx context.Context, w store.EphemeralWallet) error {
	return e.sweepTo(ctx, w, e.treasuryAddress)
}

func (e *Engine) sweepTo(ctx context.Context, w store.EphemeralWallet, destination string) error {
	pubkey, err := solana.PublicKeyFromBase58(w.PublicKey)
	if err != nil {
		return fmt.Errorf("parse wallet pubkey: %w", err)
	}

	privKey, err := solanautil.ParsePrivateKey(w.PrivateKeyMaterial)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	if !solanautil.DerivesPublicKey(privKey, pubkey) {
		if err := e.store.UpdateWalletStatus(ctx, w.ID, store.WalletStatusCorrupt, nil); err != nil {
			return fmt.Errorf("mark corrupt: %w", err)
		}
		e.metrics.ObserveSweep("corrupt_key", 0, true)
		return fmt.Errorf("wallet: stored key does not derive recorded public key for %s", w.ID)
	}

	balance, err := e.getBalanceWithRetry(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("get balance for sweep: %w", err)
	}
	if balance <= e.dustFloorLamports+e.txFeeLamports {
		e.metrics.ObserveSweep("skipped_dust", 0, false)
		return nil
	}

	destPubkey, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return fmt.Errorf("parse destination address: %w", err)
	}

	sweepAmount := balance - e.txFeeLamports
	blockhash, err := e.rpc.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solanautil.BuildTransferTransaction(privKey, destPubkey, sweepAmount, blockhash)
	if err != nil {
		return fmt.Errorf("build sweep transaction: %w", err)
	}

	_, err = e.breakers.Execute(circuitbreaker.ServiceSolanaRPC, func() (interface{}, error) {
		return e.rpc.SendTransaction(ctx, tx)
	})
	if err != nil {
		e.metrics.ObserveSweep("failed", 0, false)
		return fmt.Errorf("send sweep transaction: %w", err)
	}

	if err := e.store.UpdateWalletStatus(ctx, w.ID, store.WalletStatusSwept, nil); err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}
	e.metrics.ObserveSweep("success", int64(sweepAmount), false)
	return nil
}

// FindStuck returns every wallet whose on-chain balance exceeds the dust
// floor regardless of its recorded status, scanning in batches of 10 with
// a 1s inter-batch delay to stay within RPC rate limits.
func (e *Engine) FindStuck(ctx context.Context) ([]store.EphemeralWallet, error) {
	all, err := e.store.ListAllWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all wallets: %w", err)
	}

	const batchSize = 10
	var stuck []store.EphemeralWallet
	for i := 0; i < len(all); i += batchSize {
		end := i + batchSize
		if end > len(all) {
			end = len(all)
		}
		for _, w := range all[i:end] {
			pubkey, err := solana.PublicKeyFromBase58(w.PublicKey)
			if err != nil {
				continue
			}
			balance, err := e.getBalanceWithRetry(ctx, pubkey)
			if err != nil {
				continue
			}
			if balance > e.dustFloorLamports {
				stuck = append(stuck, w)
			}
		}
		if end < len(all) {
			select {
			case <-ctx.Done():
				return stuck, ctx.Err()
			case <-time.After(1 * time.Second):
			}
		}
	}
	return stuck, nil
}

// Recover sweeps every stuck wallet to target; when target is empty it uses
// the configured recovery address, and the treasury when that is empty too.
func (e *Engine) Recover(ctx context.Context, target string) (int, error) {
	stuck, err := e.FindStuck(ctx)
	if err != nil {
		return 0, err
	}

	destination := target
	if destination == "" {
		destination = e.recoveryAddress
	}
	if destination == "" {
		destination = e.treasuryAddress
	}

	recovered := 0
	for _, w := range stuck {
		if err := e.sweepTo(ctx, w, destination); err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("wallet_id", w.ID).Msg("wallet.recover_sweep_failed")
			continue
		}
		recovered++
	}
	return recovered, nil
}

// RecentSignature returns the most recent incoming transaction signature
// for an order's wallet, for building operator-facing block explorer links.
// Nothing in this module calls it; Recover reports only a count.
func (e *Engine) RecentSignature(ctx context.Context, w store.EphemeralWallet) (string, error) {
	pubkey, err := solana.PublicKeyFromBase58(w.PublicKey)
	if err != nil {
		return "", fmt.Errorf("parse wallet pubkey: %w", err)
	}
	return e.rpc.RecentIncomingSignature(ctx, pubkey)
}
