package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Quote{}).TableName():              "quotes",
		(CartQuote{}).TableName():          "cart_quotes",
		(PaymentTransaction{}).TableName(): "payment_transactions",
		(RefundQuote{}).TableName():        "refund_quotes",
		(CreditsHold{}).TableName():        "credits_holds",
		(Coupon{}).TableName():             "coupons",
		(CouponRedemption{}).TableName():   "coupon_redemptions",
		(PendingWebhook{}).TableName():     "pending_webhooks",
		(DlqWebhook{}).TableName():         "dlq_webhooks",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_SettlementUniqueIndex(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&PaymentTransaction{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	first := &PaymentTransaction{
		ID: "s1", TenantID: "t1", ProofID: "sig-1", QuoteID: "q1",
		ResourceID: "r1", PayerID: "0xabc", AmountAtomic: 1_000_000,
		AssetCode: "USDC", Method: MethodOnChain, CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("insert first: %v", err)
	}

	dup := &PaymentTransaction{
		ID: "s2", TenantID: "t1", ProofID: "sig-1", QuoteID: "q2",
		ResourceID: "r1", PayerID: "0xabc", AmountAtomic: 1_000_000,
		AssetCode: "USDC", Method: MethodOnChain, CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on (tenant_id, proof_id)")
	}

	// Same proof id under another tenant must insert fine.
	other := &PaymentTransaction{
		ID: "s3", TenantID: "t2", ProofID: "sig-1", QuoteID: "q3",
		ResourceID: "r1", PayerID: "0xabc", AmountAtomic: 1_000_000,
		AssetCode: "USDC", Method: MethodOnChain, CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other tenant: %v", err)
	}
}

func TestQuote_Expired(t *testing.T) {
	now := time.Now().UTC()
	q := &Quote{ExpiresAt: now.Add(time.Minute)}
	if q.Expired(now) {
		t.Fatalf("quote should still be valid")
	}
	if !q.Expired(now.Add(time.Minute)) {
		t.Fatalf("quote should be expired at its expiry instant")
	}
	if !q.Expired(now.Add(2 * time.Minute)) {
		t.Fatalf("quote should be expired after its expiry")
	}
}

func TestRefundQuote_Status(t *testing.T) {
	now := time.Now().UTC()
	sig := "0xdeadbeef"
	by := "ops@tenant"

	pending := &RefundQuote{}
	if pending.Status() != RefundPending {
		t.Fatalf("expected pending, got %s", pending.Status())
	}

	approved := &RefundQuote{ProcessedAt: &now, Signature: &sig, ApprovedBy: &by}
	if approved.Status() != RefundApproved {
		t.Fatalf("expected approved, got %s", approved.Status())
	}

	denied := &RefundQuote{ProcessedAt: &now}
	if denied.Status() != RefundDenied {
		t.Fatalf("expected denied, got %s", denied.Status())
	}

	empty := ""
	deniedEmptySig := &RefundQuote{ProcessedAt: &now, Signature: &empty}
	if deniedEmptySig.Status() != RefundDenied {
		t.Fatalf("empty signature must read as denied, got %s", deniedEmptySig.Status())
	}
}

func TestCreditsHold_SameParameters(t *testing.T) {
	h := &CreditsHold{ResourceID: "r1", AmountAtomic: 500, AssetCode: "USDC"}
	if !h.SameParameters("r1", 500, "USDC") {
		t.Fatalf("identical parameters must match")
	}
	if h.SameParameters("r1", 501, "USDC") {
		t.Fatalf("different amount must not match")
	}
	if h.SameParameters("r2", 500, "USDC") {
		t.Fatalf("different resource must not match")
	}
}
