package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ClusterRPC adapts a real Solana RPC client to the narrow RPCClient
// interface the wallet engine depends on.
type ClusterRPC struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewClusterRPC wraps client for use by the wallet engine.
func NewClusterRPC(client *rpc.Client, commitment rpc.CommitmentType) *ClusterRPC {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &ClusterRPC{client: client, commitment: commitment}
}

// GetBalanceLamports fetches pubkey's current balance.
func (c *ClusterRPC) GetBalanceLamports(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := c.client.GetBalance(ctx, pubkey, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("rpc get balance: %w", err)
	}
	return result.Value, nil
}

// LatestBlockhash fetches a recent blockhash for transaction construction.
func (c *ClusterRPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("rpc get latest blockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction to the cluster.
func (c *ClusterRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("rpc send transaction: %w", err)
	}
	return sig, nil
}

// RecentIncomingSignature returns the most recent transaction signature
// touching pubkey, or an empty string if none exist yet.
func (c *ClusterRPC) RecentIncomingSignature(ctx context.Context, pubkey solana.PublicKey) (string, error) {
	limit := 1
	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, pubkey, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("rpc get signatures for address: %w", err)
	}
	if len(sigs) == 0 {
		return "", nil
	}
	return sigs[0].Signature.String(), nil
}
