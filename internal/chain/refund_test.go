package chain

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeSubmitter struct {
	hash string
	err  error
	sent *types.Transaction
}

func (f *fakeSubmitter) SendTransaction(_ context.Context, _ string, tx *types.Transaction) (string, error) {
	f.sent = tx
	return f.hash, f.err
}

func newTestRefunder(t *testing.T, submitter TxSubmitter) (*Refunder, *LocalSigner) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	networks := map[string]NetworkConfig{
		"base": {
			Name:           "base",
			ChainID:        8453,
			AssetContracts: map[string]string{"USDC": testContract},
		},
	}
	signer, err := NewLocalSigner(hex.EncodeToString(crypto.FromECDSA(key)), networks)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	client := &fakeClient{nonce: 7, gasPrice: 1_000_000_000, hash: "0xblock"}
	builder := NewGaslessBuilder(client, networks, signer.Address())
	r := NewRefunder(networks, "base", signer.Address(), builder, signer, submitter)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return r, signer
}

func TestRefund_SignsAndBroadcasts(t *testing.T) {
	sub := &fakeSubmitter{hash: "0xhash"}
	r, signer := newTestRefunder(t, sub)

	sig, err := r.Refund(context.Background(), "ref-1", testPayTo, 2_500_000, "USDC")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+65*2 {
		t.Fatalf("signature %q is not 65 hex bytes", sig)
	}
	if sub.sent == nil {
		t.Fatal("no transaction broadcast")
	}
	if sub.sent.To() == nil || !strings.EqualFold(sub.sent.To().Hex(), testContract) {
		t.Fatalf("transaction targets %v, want contract", sub.sent.To())
	}

	// The signed authorization must recover to the service wallet.
	net := r.Networks["base"]
	auth := Authorization{
		From:          r.Wallet,
		To:            testPayTo,
		AssetContract: testContract,
		ValueAtomic:   "2500000",
		ValidAfter:    strconv.FormatInt(time.Unix(1_700_000_000, 0).UTC().Add(-time.Minute).Unix(), 10),
		ValidBefore:   strconv.FormatInt(time.Unix(1_700_000_000, 0).UTC().Add(time.Hour).Unix(), 10),
		Nonce:         MemoNonce("refund:ref-1"),
	}
	recovered, err := RecoverSigner(net, auth, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !strings.EqualFold(recovered, signer.Address()) {
		t.Fatalf("recovered %s, want %s", recovered, signer.Address())
	}
}

func TestRefund_DeterministicNonce(t *testing.T) {
	sub := &fakeSubmitter{hash: "0xhash"}
	r, _ := newTestRefunder(t, sub)

	first, err := r.Refund(context.Background(), "ref-dup", testPayTo, 100, "USDC")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := r.Refund(context.Background(), "ref-dup", testPayTo, 100, "USDC")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Fatal("same refund id must sign the same authorization")
	}
}

func TestRefund_UnknownAssetOrNetwork(t *testing.T) {
	sub := &fakeSubmitter{hash: "0xhash"}
	r, _ := newTestRefunder(t, sub)

	if _, err := r.Refund(context.Background(), "ref-2", testPayTo, 100, "DOGE"); err == nil {
		t.Fatal("want error for unlisted asset")
	}
	r.Network = "solana"
	if _, err := r.Refund(context.Background(), "ref-3", testPayTo, 100, "USDC"); err == nil {
		t.Fatal("want error for unknown network")
	}
}
