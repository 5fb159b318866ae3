// Package chain – sponsored settlement construction.
//
// The payer signs only the transfer authorization; the service's fee
// sponsor wallet wraps it in an on-chain transaction and pays the gas. This
// file builds that outer transaction. Construction is pure apart from the
// cached nonce and gas price reads; signing stays with the sponsor's key
// holder.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)
const transferCallSig = "transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)"

// sponsoredGasLimit is a conservative bound for a token transfer with
// authorization.
const sponsoredGasLimit = uint64(150_000)

// GaslessBuilder constructs unsigned sponsor transactions carrying a payer's
// authorization.
type GaslessBuilder struct {
	client   Client
	networks map[string]NetworkConfig
	sponsor  string
}

// NewGaslessBuilder constructs a builder for the given sponsor address.
func NewGaslessBuilder(client Client, networks map[string]NetworkConfig, sponsor string) *GaslessBuilder {
	return &GaslessBuilder{client: client, networks: networks, sponsor: sponsor}
}

// BuildTransfer returns the unsigned transaction submitting the payer's
// authorization to the token contract. The sponsor co-signs and broadcasts
// it; the payer's signature travels inside the call data.
func (g *GaslessBuilder) BuildTransfer(ctx context.Context, networkName string, auth Authorization, signature string) (*types.Transaction, error) {
	if _, ok := g.networks[networkName]; !ok {
		return nil, fmt.Errorf("unsupported network: %s", networkName)
	}

	callData, err := encodeTransferCall(auth, signature)
	if err != nil {
		return nil, err
	}

	nonce, err := g.client.AccountNonce(ctx, networkName, g.sponsor)
	if err != nil {
		return nil, fmt.Errorf("sponsor nonce: %w", err)
	}
	gasPrice, err := g.client.GasPrice(ctx, networkName)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	// The recency read doubles as a liveness check on the node before the
	// sponsor commits a nonce to this transaction.
	if _, err := g.client.RecentBlockHash(ctx, networkName); err != nil {
		return nil, fmt.Errorf("recent block: %w", err)
	}

	contract := common.HexToAddress(auth.AssetContract)
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      sponsoredGasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	}), nil
}

// encodeTransferCall ABI-encodes the transferWithAuthorization call with the
// payer's signature split into v, r, s.
func encodeTransferCall(auth Authorization, signature string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}

	callData := keccak256([]byte(transferCallSig))[:4]
	callData = append(callData, padAddress(auth.From)...)
	callData = append(callData, padAddress(auth.To)...)
	callData = append(callData, padUint256(auth.ValueAtomic)...)
	callData = append(callData, padUint256(auth.ValidAfter)...)
	callData = append(callData, padUint256(auth.ValidBefore)...)
	callData = append(callData, padBytes32(auth.Nonce)...)
	callData = append(callData, padUint8(v)...)
	callData = append(callData, padRight32(sig[0:32])...)
	callData = append(callData, padRight32(sig[32:64])...)
	return callData, nil
}

func padUint8(v uint8) []byte {
	padded := make([]byte, 32)
	padded[31] = v
	return padded
}

func padRight32(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
