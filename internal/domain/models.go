// Package domain defines the persistence models for the payment
// authorization and settlement core: quotes, settlement records, refund
// quotes, credit holds and cart quotes. These types are mapped with GORM and
// form the durable data layer of the service.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Payment methods accepted by the orchestrator.
const (
	MethodCard    = "card"
	MethodOnChain = "onchain"
)

// Quote is a time-bounded, priced offer describing how a resource may be
// paid for. Quotes are immutable once issued; a request arriving past
// ExpiresAt must produce a new Quote.
//
// Fields:
//   - ID: stable UUID primary key; doubles as the memo binding an on-chain
//     proof to this quote.
//   - TenantID: owning tenant; indexed for scoped retrieval.
//   - ResourceID: the paid resource this quote grants access to.
//   - AmountAtomic / AssetCode: the discounted total in atomic units.
//   - CouponCodes: comma-separated codes applied when the quote was built.
//   - OptionsJSON: serialized payment-option variants (card and on-chain).
//   - Exact: when true the on-chain rail requires a precise amount match.
//   - ExpiresAt: hard expiry; proofs submitted later are rejected.
type Quote struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	TenantID     string    `json:"tenant_id"     gorm:"type:varchar(64);not null;index:idx_tenant_quotes"`
	ResourceID   string    `json:"resource_id"   gorm:"type:varchar(128);not null"`
	AmountAtomic int64     `json:"amount_atomic" gorm:"not null"`
	AssetCode    string    `json:"asset_code"    gorm:"type:varchar(16);not null"`
	CouponCodes  string    `json:"coupon_codes,omitempty" gorm:"type:varchar(255)"`
	OptionsJSON  string    `json:"options_json"  gorm:"type:text;not null"`
	Exact        bool      `json:"exact"`
	ExpiresAt    time.Time `json:"expires_at"    gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Quote.
func (Quote) TableName() string { return "quotes" }

// Expired reports whether the quote can no longer be settled at now.
func (q *Quote) Expired(now time.Time) bool { return !now.Before(q.ExpiresAt) }

// CartQuote groups multiple line items into one payable total. It shares the
// expiry/ownership semantics of Quote plus a PaidBy marker set exactly once
// on settlement; a second settlement attempt by a different payer is a
// conflict.
type CartQuote struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	TenantID     string         `json:"tenant_id"     gorm:"type:varchar(64);not null;index:idx_tenant_carts"`
	OwnerID      string         `json:"owner_id"      gorm:"type:varchar(128);not null"`
	ItemsJSON    string         `json:"items_json"    gorm:"type:text;not null"`
	TotalAtomic  int64          `json:"total_atomic"  gorm:"not null"`
	AssetCode    string         `json:"asset_code"    gorm:"type:varchar(16);not null"`
	PaidBy       *string        `json:"paid_by,omitempty"       gorm:"type:varchar(128)"`
	SettlementID *string        `json:"settlement_id,omitempty" gorm:"type:char(36)"`
	ExpiresAt    time.Time      `json:"expires_at"    gorm:"not null"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for CartQuote.
func (CartQuote) TableName() string { return "cart_quotes" }

// PaymentTransaction is the durable, exactly-once settlement record. The
// composite unique index on (tenant_id, proof_id) is the exactly-once gate:
// concurrent duplicate submissions race on the insert and exactly one wins.
// Rows are created once by the orchestrator on successful verification and
// never updated; ArchivedAt soft-archives them after a retention window.
type PaymentTransaction struct {
	ID           string     `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID     string     `json:"tenant_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_settlement_tenant_proof,priority:1;index"`
	ProofID      string     `json:"proof_id"    gorm:"type:varchar(191);not null;uniqueIndex:ux_settlement_tenant_proof,priority:2"`
	QuoteID      string     `json:"quote_id"    gorm:"type:char(36);not null;index"`
	ResourceID   string     `json:"resource_id" gorm:"type:varchar(128);not null"`
	PayerID      string     `json:"payer_id"    gorm:"type:varchar(128);not null"`
	AmountAtomic int64      `json:"amount_atomic" gorm:"not null"`
	AssetCode    string     `json:"asset_code"  gorm:"type:varchar(16);not null"`
	Method       string     `json:"method"      gorm:"type:varchar(16);not null;check:method IN ('card','onchain')"`
	TxRef        string     `json:"tx_ref,omitempty"        gorm:"type:varchar(191)"`
	MetadataJSON string     `json:"metadata_json,omitempty" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for PaymentTransaction.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// Refund quote lifecycle. A RefundQuote is created pending and finalized
// exactly once: approved when a signature is recorded, denied when it is
// finalized without one. Both outcomes are terminal.
const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundDenied   = "denied"
)

// RefundQuote is an automatically computed refund offer against an existing
// settlement. Execution happens only by explicit manual approval.
type RefundQuote struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	TenantID     string     `json:"tenant_id"     gorm:"type:varchar(64);not null;index:idx_tenant_refunds"`
	SettlementID string     `json:"settlement_id" gorm:"type:char(36);not null;index"`
	Recipient    string     `json:"recipient"     gorm:"type:varchar(128);not null"`
	AmountAtomic int64      `json:"amount_atomic" gorm:"not null"`
	AssetCode    string     `json:"asset_code"    gorm:"type:varchar(16);not null"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"    gorm:"not null"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	// ClaimedAt marks a quote whose transfer is in flight. Set before the
	// executor runs, cleared on finalize or on executor failure. A claimed
	// quote is still pending but cannot be approved or denied by anyone else.
	ClaimedAt  *time.Time `json:"-"`
	Signature  *string    `json:"signature,omitempty"   gorm:"type:varchar(255)"`
	ApprovedBy *string    `json:"approved_by,omitempty" gorm:"type:varchar(128)"`
}

// TableName returns the database table name for RefundQuote.
func (RefundQuote) TableName() string { return "refund_quotes" }

// Status derives the lifecycle state from the finalize markers.
func (r *RefundQuote) Status() string {
	if r.ProcessedAt == nil {
		return RefundPending
	}
	if r.Signature != nil && *r.Signature != "" {
		return RefundApproved
	}
	return RefundDenied
}

// Credit hold states.
const (
	HoldHeld     = "held"
	HoldCaptured = "captured"
	HoldReleased = "released"
)

// CreditsHold is a provisional reservation against an internal ledger
// balance, keyed by a caller-supplied hold id scoped to the tenant: two
// tenants may use the same id independently. Creation is idempotent under
// retries with identical parameters; re-creation with different parameters is
// a conflict.
type CreditsHold struct {
	ID           string    `json:"id"            gorm:"type:varchar(64);primaryKey;priority:2"`
	TenantID     string    `json:"tenant_id"     gorm:"type:varchar(64);primaryKey;priority:1"`
	OwnerID      string    `json:"owner_id"      gorm:"type:varchar(128);not null"`
	ResourceID   string    `json:"resource_id"   gorm:"type:varchar(128);not null"`
	AmountAtomic int64     `json:"amount_atomic" gorm:"not null"`
	AssetCode    string    `json:"asset_code"    gorm:"type:varchar(16);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null;default:'held';check:status IN ('held','captured','released')"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for CreditsHold.
func (CreditsHold) TableName() string { return "credits_holds" }

// SameParameters reports whether a retried creation carries the exact
// parameters of the stored hold (the idempotent-retry case).
func (h *CreditsHold) SameParameters(resourceID string, amountAtomic int64, assetCode string) bool {
	return h.ResourceID == resourceID && h.AmountAtomic == amountAtomic && h.AssetCode == assetCode
}
