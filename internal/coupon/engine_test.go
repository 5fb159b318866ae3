package coupon

import (
	"errors"
	"testing"
	"time"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/money"
)

var usdc = money.Asset{Code: "USDC", Decimals: 6, Rounding: money.RoundHalfUp}

func cartCtx(now time.Time, method string, items ...LineItem) Context {
	return Context{
		Items:         items,
		PaymentMethod: method,
		CustomerID:    "cust-1",
		CustomerUsage: map[string]int64{},
		Now:           now,
	}
}

func item(product, category string, unit int64, qty int64) LineItem {
	return LineItem{
		ProductID:  product,
		CategoryID: category,
		UnitPrice:  money.New(unit, usdc),
		Quantity:   qty,
	}
}

func TestCheckConfig(t *testing.T) {
	now := time.Now().UTC()
	_ = now

	bad := &domain.Coupon{DiscountType: domain.DiscountPercentage, PercentBps: 0}
	if err := CheckConfig(bad); !errors.Is(err, ErrBadPercentage) {
		t.Fatalf("expected ErrBadPercentage, got %v", err)
	}

	over := &domain.Coupon{DiscountType: domain.DiscountPercentage, PercentBps: 10_001}
	if err := CheckConfig(over); !errors.Is(err, ErrBadPercentage) {
		t.Fatalf("expected ErrBadPercentage for >100%%, got %v", err)
	}

	fixedZero := &domain.Coupon{DiscountType: domain.DiscountFixed, AmountOffAtomic: 0}
	if err := CheckConfig(fixedZero); !errors.Is(err, ErrBadFixedAmount) {
		t.Fatalf("expected ErrBadFixedAmount, got %v", err)
	}

	// Catalog coupons must restrict scope.
	catalogAll := &domain.Coupon{
		DiscountType: domain.DiscountPercentage, PercentBps: 1000,
		Stage: domain.StageCatalog, ScopeType: domain.ScopeAll,
	}
	if err := CheckConfig(catalogAll); !errors.Is(err, ErrCatalogScopeRequired) {
		t.Fatalf("expected ErrCatalogScopeRequired, got %v", err)
	}

	ok := &domain.Coupon{
		DiscountType: domain.DiscountPercentage, PercentBps: 1000,
		Stage: domain.StageCatalog, ScopeType: domain.ScopeProducts, ScopeJSON: `["p1"]`,
	}
	if err := CheckConfig(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValid_WindowAndLimits(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	ctx := cartCtx(now, domain.MethodOnChain)

	active := &domain.Coupon{ID: "c1", Active: true, StartsAt: &past, EndsAt: &future}
	if !Valid(active, ctx) {
		t.Fatalf("active in-window coupon must be valid")
	}

	inactive := &domain.Coupon{ID: "c2", Active: false}
	if Valid(inactive, ctx) {
		t.Fatalf("inactive coupon must be invalid")
	}

	notStarted := &domain.Coupon{ID: "c3", Active: true, StartsAt: &future}
	if Valid(notStarted, ctx) {
		t.Fatalf("not-yet-started coupon must be invalid")
	}

	ended := &domain.Coupon{ID: "c4", Active: true, EndsAt: &past}
	if Valid(ended, ctx) {
		t.Fatalf("ended coupon must be invalid")
	}

	exhausted := &domain.Coupon{ID: "c5", Active: true, UsageLimit: 5, UsageCount: 5}
	if Valid(exhausted, ctx) {
		t.Fatalf("exhausted coupon must be invalid")
	}

	perCustomer := &domain.Coupon{ID: "c6", Active: true, PerCustomerLimit: 1}
	ctx.CustomerUsage["c6"] = 1
	if Valid(perCustomer, ctx) {
		t.Fatalf("per-customer-exhausted coupon must be invalid")
	}
}

func TestApplicable_MethodScopeMinimumFirstPurchase(t *testing.T) {
	now := time.Now().UTC()
	items := []LineItem{item("p1", "cat-a", 10_000_000, 1)} // 10 USDC

	cardOnly := &domain.Coupon{PaymentMethod: domain.MethodCard, ScopeType: domain.ScopeAll}
	if Applicable(cardOnly, cartCtx(now, domain.MethodOnChain, items...)) {
		t.Fatalf("card-only coupon must not apply to on-chain checkout")
	}
	if !Applicable(cardOnly, cartCtx(now, domain.MethodCard, items...)) {
		t.Fatalf("card-only coupon must apply to card checkout")
	}

	minAmt := &domain.Coupon{MinAmountAtomic: 20_000_000, ScopeType: domain.ScopeAll}
	if Applicable(minAmt, cartCtx(now, domain.MethodCard, items...)) {
		t.Fatalf("minimum-amount threshold not met; must not apply")
	}

	firstOnly := &domain.Coupon{FirstPurchaseOnly: true, ScopeType: domain.ScopeAll}
	ctx := cartCtx(now, domain.MethodCard, items...)
	if Applicable(firstOnly, ctx) {
		t.Fatalf("first-purchase coupon must not apply to a returning customer")
	}
	ctx.FirstPurchase = true
	if !Applicable(firstOnly, ctx) {
		t.Fatalf("first-purchase coupon must apply to a first purchase")
	}

	scoped := &domain.Coupon{
		Stage: domain.StageCatalog, ScopeType: domain.ScopeProducts, ScopeJSON: `["p9"]`,
	}
	if Applicable(scoped, cartCtx(now, domain.MethodCard, items...)) {
		t.Fatalf("out-of-scope catalog coupon must not apply")
	}
}

func TestStack_CatalogBeforeCheckout(t *testing.T) {
	now := time.Now().UTC()
	// Two items: p1 at 10 USDC, p2 at 5 USDC.
	ctx := cartCtx(now, domain.MethodOnChain,
		item("p1", "cat-a", 10_000_000, 1),
		item("p2", "cat-b", 5_000_000, 1),
	)

	coupons := []domain.Coupon{
		{
			ID: "chk", Code: "CART10", Active: true,
			DiscountType: domain.DiscountPercentage, PercentBps: 1000, // 10%
			Stage: domain.StageCheckout, ScopeType: domain.ScopeAll,
		},
		{
			ID: "cat", Code: "P1HALF", Active: true,
			DiscountType: domain.DiscountPercentage, PercentBps: 5000, // 50%
			Stage: domain.StageCatalog, ScopeType: domain.ScopeProducts, ScopeJSON: `["p1"]`,
		},
	}

	res := Stack(coupons, ctx, usdc, StackAll)

	// Catalog first: p1 10 → 5 USDC. Subtotal 10 USDC. Checkout 10% → 9 USDC.
	if res.TotalBefore.Amount != 15_000_000 {
		t.Fatalf("total before: %d", res.TotalBefore.Amount)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("expected 2 applied coupons, got %d", len(res.Applied))
	}
	if res.Applied[0].Coupon.Code != "P1HALF" {
		t.Fatalf("catalog coupon must apply first, got %s", res.Applied[0].Coupon.Code)
	}
	if res.Applied[0].DiscountAtomic != 5_000_000 {
		t.Fatalf("catalog discount: %d", res.Applied[0].DiscountAtomic)
	}
	if res.Applied[1].DiscountAtomic != 1_000_000 {
		t.Fatalf("checkout discount computed on post-catalog subtotal: %d", res.Applied[1].DiscountAtomic)
	}
	if res.Total.Amount != 9_000_000 {
		t.Fatalf("final total: %d", res.Total.Amount)
	}
}

func TestStack_Deterministic(t *testing.T) {
	now := time.Now().UTC()
	ctx := cartCtx(now, domain.MethodCard, item("p1", "cat-a", 7_777_777, 3))

	coupons := []domain.Coupon{
		{ID: "a", Code: "AAA", Active: true, DiscountType: domain.DiscountFixed, AmountOffAtomic: 1_000_000, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
		{ID: "b", Code: "BBB", Active: true, DiscountType: domain.DiscountFixed, AmountOffAtomic: 1_000_000, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
		{ID: "c", Code: "CCC", Active: true, DiscountType: domain.DiscountPercentage, PercentBps: 2500, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
	}

	first := Stack(coupons, ctx, usdc, StackAll)
	for i := 0; i < 50; i++ {
		again := Stack(coupons, ctx, usdc, StackAll)
		if again.Total.Amount != first.Total.Amount {
			t.Fatalf("run %d: total %d != %d", i, again.Total.Amount, first.Total.Amount)
		}
		for j := range first.Applied {
			if again.Applied[j].Coupon.Code != first.Applied[j].Coupon.Code {
				t.Fatalf("run %d: order changed at %d", i, j)
			}
		}
	}
	// Equal-value fixed coupons tie-break by code.
	if first.Applied[0].Coupon.Code != "CCC" {
		t.Fatalf("largest discount must lead, got %s", first.Applied[0].Coupon.Code)
	}
}

func TestStack_BestPolicyPicksLargest(t *testing.T) {
	now := time.Now().UTC()
	ctx := cartCtx(now, domain.MethodCard, item("p1", "", 10_000_000, 1))

	coupons := []domain.Coupon{
		{ID: "small", Code: "SMALL", Active: true, DiscountType: domain.DiscountFixed, AmountOffAtomic: 500_000, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
		{ID: "big", Code: "BIG", Active: true, DiscountType: domain.DiscountPercentage, PercentBps: 3000, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
	}

	res := Stack(coupons, ctx, usdc, StackBest)
	if len(res.Applied) != 1 {
		t.Fatalf("best policy must apply exactly one checkout coupon, got %d", len(res.Applied))
	}
	if res.Applied[0].Coupon.Code != "BIG" {
		t.Fatalf("best policy must pick the largest discount, got %s", res.Applied[0].Coupon.Code)
	}
	if res.Total.Amount != 7_000_000 {
		t.Fatalf("final total: %d", res.Total.Amount)
	}
}

func TestStack_FixedNeverBelowZero(t *testing.T) {
	now := time.Now().UTC()
	ctx := cartCtx(now, domain.MethodCard, item("p1", "", 1_000_000, 1))

	coupons := []domain.Coupon{
		{ID: "huge", Code: "HUGE", Active: true, DiscountType: domain.DiscountFixed, AmountOffAtomic: 50_000_000, Stage: domain.StageCheckout, ScopeType: domain.ScopeAll},
	}

	res := Stack(coupons, ctx, usdc, StackAll)
	if res.Total.Amount != 0 {
		t.Fatalf("fixed discount must floor at zero, got %d", res.Total.Amount)
	}
	if res.Applied[0].DiscountAtomic != 1_000_000 {
		t.Fatalf("discount must be capped at the amount, got %d", res.Applied[0].DiscountAtomic)
	}
}
