// Package chain implements the on-chain settlement rail: verification of
// signed transfer authorizations, confirmation watching, sponsored
// transaction construction and service wallet monitoring.
//
// Amounts are atomic integers end to end; nothing in this package touches
// floating point.
package chain

import (
	"fmt"
	"time"
)

// Failure codes returned by verification. Every rejection carries one of
// these; a generic error is reserved for infrastructure faults (RPC down,
// context canceled).
const (
	FailInvalidSignature   = "invalid_signature"
	FailWrongAsset         = "wrong_asset"
	FailWrongRecipient     = "wrong_recipient"
	FailInsufficientAmount = "insufficient_amount"
	FailUnconfirmed        = "unconfirmed"
	FailExpired            = "expired"
)

// retryableFailures lists codes whose condition can clear on its own, so the
// same proof may be resubmitted later.
var retryableFailures = map[string]bool{
	FailUnconfirmed: true,
}

// NetworkConfig describes one supported settlement network.
type NetworkConfig struct {
	Name        string
	ChainID     int64
	RPCEndpoint string
	// AssetContracts maps asset codes to their token contract address on
	// this network.
	AssetContracts map[string]string
}

// Requirement is the server-issued description of an acceptable on-chain
// payment, embedded in a quote's payment options.
type Requirement struct {
	ResourceID       string    `json:"resource_id"`
	Network          string    `json:"network"`
	PayTo            string    `json:"pay_to"`
	AssetCode        string    `json:"asset_code"`
	AssetContract    string    `json:"asset_contract"`
	AmountAtomic     int64     `json:"amount_atomic"`
	Memo             string    `json:"memo"`
	MimeType         string    `json:"mime_type,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	Exact            bool      `json:"exact"`
	MinConfirmations uint64    `json:"min_confirmations"`
}

// Authorization carries the signed transfer parameters. Value fields are
// decimal strings of atomic units, matching the wire encoding the payer's
// wallet signed.
type Authorization struct {
	From          string `json:"from"`
	To            string `json:"to"`
	AssetContract string `json:"asset_contract"`
	ValueAtomic   string `json:"value_atomic"`
	ValidAfter    string `json:"valid_after"`
	ValidBefore   string `json:"valid_before"`
	Nonce         string `json:"nonce"`
}

// Proof is a payer-submitted claim of payment: the signed authorization plus
// an optional transaction reference once broadcast.
type Proof struct {
	Network       string        `json:"network"`
	TxRef         string        `json:"tx_ref,omitempty"`
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// ID returns the stable identity of the proof used for exactly-once
// settlement: the transaction reference when present, else the
// authorization nonce (unique per payer per token contract).
func (p *Proof) ID() string {
	if p.TxRef != "" {
		return p.TxRef
	}
	return fmt.Sprintf("%s:%s", p.Authorization.From, p.Authorization.Nonce)
}

// VerificationResult is the typed outcome of verifying one proof against one
// requirement.
type VerificationResult struct {
	Valid bool
	// Code is one of the Fail* constants when Valid is false.
	Code string
	// Detail is a human-readable elaboration, safe to return to callers.
	Detail string
	// Retryable reports whether resubmitting the same proof later can
	// succeed (e.g. more confirmations accrued).
	Retryable bool
	// Payer is the recovered signer address when the signature checked out.
	Payer string
	// Confirmations observed at verification time.
	Confirmations uint64
}

func invalidResult(code, detail string) *VerificationResult {
	return &VerificationResult{
		Valid:     false,
		Code:      code,
		Detail:    detail,
		Retryable: retryableFailures[code],
	}
}
