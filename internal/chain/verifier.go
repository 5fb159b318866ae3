// Package chain – proof verification.
//
// Verification recovers the authorization signer from the EIP-712 style
// digest and checks the authorization against the server-issued requirement
// field by field. The digest binds payer, recipient, token contract, amount
// and nonce; the nonce in turn is derived from the quote memo, which ties
// one signed authorization to one quote.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const transferTypeDef = "TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"

// Verifier checks submitted proofs against requirements. It is safe for
// concurrent use.
type Verifier struct {
	networks map[string]NetworkConfig
	watcher  *Watcher
	now      func() time.Time
}

// NewVerifier constructs a Verifier over the supported networks. The watcher
// supplies confirmation depth; a nil watcher skips confirmation checks,
// which is only acceptable in tests.
func NewVerifier(networks map[string]NetworkConfig, watcher *Watcher) *Verifier {
	return &Verifier{networks: networks, watcher: watcher, now: time.Now}
}

// Verify runs the full check sequence for one proof. A typed rejection is
// returned with err == nil; err is reserved for infrastructure faults.
func (v *Verifier) Verify(ctx context.Context, req Requirement, proof Proof) (*VerificationResult, error) {
	network, ok := v.networks[proof.Network]
	if !ok || proof.Network != req.Network {
		return invalidResult(FailWrongAsset, fmt.Sprintf("unsupported network %q", proof.Network)), nil
	}

	auth := proof.Authorization

	// Signature first: nothing else in the payload is trustworthy until the
	// signer is established.
	signer, err := RecoverSigner(network, auth, proof.Signature)
	if err != nil {
		return invalidResult(FailInvalidSignature, err.Error()), nil
	}
	if !strings.EqualFold(signer, auth.From) {
		return invalidResult(FailInvalidSignature, "signer does not match from address"), nil
	}

	// Asset and recipient must match the requirement exactly. A proof paying
	// a different token or a different destination is rejected outright, no
	// matter the amount.
	if !strings.EqualFold(auth.AssetContract, req.AssetContract) {
		return invalidResult(FailWrongAsset, fmt.Sprintf("expected asset contract %s", req.AssetContract)), nil
	}
	if !strings.EqualFold(auth.To, req.PayTo) {
		return invalidResult(FailWrongRecipient, fmt.Sprintf("expected recipient %s", req.PayTo)), nil
	}

	// The nonce carries the memo binding: a signature over an unrelated
	// nonce cannot settle this quote.
	if req.Memo != "" && !strings.EqualFold(auth.Nonce, MemoNonce(req.Memo)) {
		return invalidResult(FailInvalidSignature, "authorization nonce does not bind the quote memo"), nil
	}

	value, ok := new(big.Int).SetString(auth.ValueAtomic, 10)
	if !ok || value.Sign() < 0 {
		return invalidResult(FailInsufficientAmount, "invalid amount encoding"), nil
	}
	required := big.NewInt(req.AmountAtomic)
	if req.Exact {
		if value.Cmp(required) != 0 {
			return invalidResult(FailInsufficientAmount, fmt.Sprintf("exact amount %d required", req.AmountAtomic)), nil
		}
	} else if value.Cmp(required) < 0 {
		return invalidResult(FailInsufficientAmount, fmt.Sprintf("amount below required %d", req.AmountAtomic)), nil
	}

	// Authorization and requirement time windows.
	now := v.now().UTC()
	if after, err := parseUnix(auth.ValidAfter); err == nil && now.Unix() < after {
		return invalidResult(FailExpired, "authorization not yet valid"), nil
	}
	if before, err := parseUnix(auth.ValidBefore); err == nil && now.Unix() > before {
		return invalidResult(FailExpired, "authorization expired"), nil
	}
	if !now.Before(req.ExpiresAt) {
		return invalidResult(FailExpired, "payment requirement expired"), nil
	}

	// Confirmation depth last: it is the only check that talks to the
	// network and the only retryable rejection.
	var confirmations uint64
	if req.MinConfirmations > 0 && v.watcher != nil {
		if proof.TxRef == "" {
			return invalidResult(FailUnconfirmed, "transaction reference required for confirmation"), nil
		}
		confirmations, err = v.watcher.AwaitConfirmations(ctx, proof.Network, proof.TxRef, req.MinConfirmations)
		if err != nil {
			return nil, fmt.Errorf("confirmation check: %w", err)
		}
		if confirmations < req.MinConfirmations {
			return invalidResult(FailUnconfirmed,
				fmt.Sprintf("%d of %d confirmations", confirmations, req.MinConfirmations)), nil
		}
	}

	return &VerificationResult{
		Valid:         true,
		Payer:         strings.ToLower(signer),
		Confirmations: confirmations,
	}, nil
}

// MemoNonce derives the canonical authorization nonce for a quote memo.
// Wallets building a payment for a quote must use this value so the signed
// authorization is bound to the quote.
func MemoNonce(memo string) string {
	return "0x" + hex.EncodeToString(keccak256([]byte(memo)))
}

// RecoverSigner recovers the signer address of an authorization signature.
// The digest is keccak256("\x19\x01" || domainSeparator || structHash) in
// the EIP-712 layout, with the domain keyed on the network chain id and the
// token contract.
func RecoverSigner(network NetworkConfig, auth Authorization, signature string) (string, error) {
	digest := SigningDigest(network, auth)

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Normalize the recovery id: wallets emit 27/28, raw ecdsa 0/1.
	recovery := sig[64]
	if recovery >= 27 {
		recovery -= 27
	}
	if recovery > 1 {
		return "", fmt.Errorf("invalid recovery id: %d", sig[64])
	}
	normalized := make([]byte, 65)
	copy(normalized, sig[:64])
	normalized[64] = recovery

	pubKey, err := crypto.Ecrecover(digest, normalized)
	if err != nil {
		return "", fmt.Errorf("ecrecover failed: %w", err)
	}
	pubKeyECDSA, err := crypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return "", fmt.Errorf("malformed recovered key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pubKeyECDSA).Hex()), nil
}

// SigningDigest computes the digest a wallet signs for this authorization on
// the given network.
func SigningDigest(network NetworkConfig, auth Authorization) []byte {
	return keccak256(
		[]byte{0x19, 0x01},
		domainSeparator(network.ChainID, auth.AssetContract),
		hashAuthorization(auth),
	)
}

func domainSeparator(chainID int64, contract string) []byte {
	typeHash := keccak256([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))

	chainIDBytes := make([]byte, 32)
	big.NewInt(chainID).FillBytes(chainIDBytes)

	return keccak256(typeHash, chainIDBytes, padAddress(contract))
}

func hashAuthorization(auth Authorization) []byte {
	typeHash := keccak256([]byte(transferTypeDef))
	return keccak256(
		typeHash,
		padAddress(auth.From),
		padAddress(auth.To),
		padUint256(auth.ValueAtomic),
		padUint256(auth.ValidAfter),
		padUint256(auth.ValidBefore),
		padBytes32(auth.Nonce),
	)
}

func parseUnix(s string) (int64, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("invalid uint256: %s", s)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("timestamp out of range: %s", s)
	}
	return v.Int64(), nil
}

func keccak256(data ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}

func padAddress(addr string) []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	padded := make([]byte, 32)
	copy(padded[12:], b)
	return padded
}

func padUint256(value string) []byte {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		v = new(big.Int)
	}
	padded := make([]byte, 32)
	v.FillBytes(padded)
	return padded
}

func padBytes32(value string) []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	padded := make([]byte, 32)
	copy(padded, b)
	return padded
}
