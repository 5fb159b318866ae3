package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs with an in-process private key. Suitable for
// development and single-node deployments; production setups should put a
// remote key holder behind the Signer interface instead.
type LocalSigner struct {
	key      *ecdsa.PrivateKey
	chainIDs map[string]int64
}

// NewLocalSigner parses a hex-encoded secp256k1 private key.
func NewLocalSigner(hexKey string, networks map[string]NetworkConfig) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	ids := make(map[string]int64, len(networks))
	for name, cfg := range networks {
		ids[name] = cfg.ChainID
	}
	return &LocalSigner{key: key, chainIDs: ids}, nil
}

// Address returns the wallet address derived from the key.
func (s *LocalSigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// SignTransferAuthorization signs the EIP-712 digest, returning the 65-byte
// signature as 0x-prefixed hex.
func (s *LocalSigner) SignTransferAuthorization(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// SignTransaction signs the sponsor transaction for the given network.
func (s *LocalSigner) SignTransaction(network string, tx *types.Transaction) (*types.Transaction, error) {
	chainID, ok := s.chainIDs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), s.key)
}
