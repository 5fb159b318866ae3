// Package chain – on-chain refund execution.
//
// A refund is a transfer from the service settlement wallet back to the
// payer. The refunder signs a transfer authorization with the wallet key,
// wraps it in a sponsor transaction through the gasless builder and
// broadcasts it. Private keys never enter this type; signing is delegated
// to the injected Signer.
package chain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// Signer produces signatures with the service wallet keys.
type Signer interface {
	// SignTransferAuthorization signs the EIP-712 digest of a transfer
	// authorization, returning the 65-byte signature as 0x-prefixed hex.
	SignTransferAuthorization(digest []byte) (string, error)
	// SignTransaction signs the sponsor transaction for broadcast.
	SignTransaction(network string, tx *types.Transaction) (*types.Transaction, error)
}

// TxSubmitter broadcasts a signed transaction and returns its hash.
type TxSubmitter interface {
	SendTransaction(ctx context.Context, network string, tx *types.Transaction) (string, error)
}

// Refunder executes refund transfers from the service wallet.
type Refunder struct {
	// Networks maps network names to their configuration.
	Networks map[string]NetworkConfig
	// Network names the network refunds are sent on.
	Network string
	// Wallet is the service settlement wallet address (the sender).
	Wallet string
	// Builder wraps authorizations in sponsor transactions.
	Builder *GaslessBuilder
	// Signer holds the wallet keys.
	Signer Signer
	// Submitter broadcasts the signed transaction.
	Submitter TxSubmitter
	// AuthWindow bounds the authorization validity. Zero defaults to 1h.
	AuthWindow time.Duration

	now func() time.Time
}

// NewRefunder constructs a Refunder.
func NewRefunder(networks map[string]NetworkConfig, network, wallet string, builder *GaslessBuilder, signer Signer, submitter TxSubmitter) *Refunder {
	return &Refunder{
		Networks:   networks,
		Network:    network,
		Wallet:     wallet,
		Builder:    builder,
		Signer:     signer,
		Submitter:  submitter,
		AuthWindow: time.Hour,
		now:        time.Now,
	}
}

// Refund transfers amountAtomic of assetCode from the service wallet to
// recipient. The authorization nonce is derived from refundID, so a retried
// execution of the same refund produces the same authorization and the token
// contract rejects a second spend of it. The returned reference is the
// transfer authorization signature.
func (r *Refunder) Refund(ctx context.Context, refundID, recipient string, amountAtomic int64, assetCode string) (string, error) {
	net, ok := r.Networks[r.Network]
	if !ok {
		return "", fmt.Errorf("unsupported network: %s", r.Network)
	}
	contract, ok := net.AssetContracts[assetCode]
	if !ok {
		return "", fmt.Errorf("%s has no contract on %s", assetCode, net.Name)
	}
	if r.Signer == nil || r.Builder == nil || r.Submitter == nil {
		return "", fmt.Errorf("refunder not fully wired")
	}

	now := r.clock().UTC()
	auth := Authorization{
		From:          r.Wallet,
		To:            recipient,
		AssetContract: contract,
		ValueAtomic:   strconv.FormatInt(amountAtomic, 10),
		ValidAfter:    strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
		ValidBefore:   strconv.FormatInt(now.Add(r.authWindow()).Unix(), 10),
		Nonce:         MemoNonce("refund:" + refundID),
	}

	sig, err := r.Signer.SignTransferAuthorization(SigningDigest(net, auth))
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}

	tx, err := r.Builder.BuildTransfer(ctx, r.Network, auth, sig)
	if err != nil {
		return "", err
	}
	signed, err := r.Signer.SignTransaction(r.Network, tx)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	hash, err := r.Submitter.SendTransaction(ctx, r.Network, signed)
	if err != nil {
		return "", fmt.Errorf("broadcast refund: %w", err)
	}

	log.Info().
		Str("refund_id", refundID).
		Str("network", r.Network).
		Str("tx_hash", hash).
		Int64("amount_atomic", amountAtomic).
		Msg("refund transfer broadcast")
	return sig, nil
}

func (r *Refunder) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Refunder) authWindow() time.Duration {
	if r.AuthWindow <= 0 {
		return time.Hour
	}
	return r.AuthWindow
}
