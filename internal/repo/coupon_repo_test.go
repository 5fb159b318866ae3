package repo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/averix/go-payments-backend/internal/domain"
)

func newCoupon(id, tenant, code string, usageLimit int64) *domain.Coupon {
	return &domain.Coupon{
		ID:           id,
		TenantID:     tenant,
		Code:         code,
		DiscountType: domain.DiscountPercentage,
		PercentBps:   1000,
		Stage:        domain.StageCheckout,
		ScopeType:    domain.ScopeAll,
		UsageLimit:   usageLimit,
		Active:       true,
	}
}

func TestCreateCoupon_DuplicateCodePerTenant(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})

	if err := CreateCoupon(context.Background(), db, newCoupon("c1", "t1", "SAVE10", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreateCoupon(context.Background(), db, newCoupon("c2", "t1", "SAVE10", 0)); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate for same tenant+code, got %v", err)
	}
	// Same code under another tenant is fine.
	if err := CreateCoupon(context.Background(), db, newCoupon("c3", "t2", "SAVE10", 0)); err != nil {
		t.Fatalf("cross-tenant same code: %v", err)
	}
}

func TestGetCouponByCode_FoundAndMissing(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})

	active := newCoupon("c1", "t1", "SAVE10", 0)
	if err := CreateCoupon(context.Background(), db, active); err != nil {
		t.Fatalf("seed active: %v", err)
	}

	got, err := GetCouponByCode(context.Background(), db, "t1", "SAVE10")
	if err != nil || got.ID != "c1" {
		t.Fatalf("lookup: %+v %v", got, err)
	}
	if _, err := GetCouponByCode(context.Background(), db, "t1", "NOPE"); err != ErrNotFound {
		t.Fatalf("missing code: expected ErrNotFound, got %v", err)
	}
}

func TestIncrementCouponUsage_StopsAtLimit(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})

	c := newCoupon("c1", "t1", "LIMIT2", 2)
	if err := CreateCoupon(context.Background(), db, c); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Two increments succeed, the third is refused. The conditional UPDATE
	// is the arbiter, so its refusal holds under concurrent callers too.
	for i := 0; i < 2; i++ {
		if err := IncrementCouponUsage(context.Background(), db, "t1", "c1"); err != nil {
			t.Fatalf("increment %d: %v", i+1, err)
		}
	}
	if err := IncrementCouponUsage(context.Background(), db, "t1", "c1"); err != ErrLimitReached {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}

	got, err := GetCouponByCode(context.Background(), db, "t1", "LIMIT2")
	if err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UsageCount != 2 {
		t.Fatalf("usage count overshot: %d", got.UsageCount)
	}
}

func TestIncrementCouponUsage_UnlimitedAndMissing(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})

	if err := CreateCoupon(context.Background(), db, newCoupon("c1", "t1", "FREE", 0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := IncrementCouponUsage(context.Background(), db, "t1", "c1"); err != nil {
			t.Fatalf("unlimited increment %d: %v", i+1, err)
		}
	}

	if err := IncrementCouponUsage(context.Background(), db, "t1", "missing"); err != ErrNotFound {
		t.Fatalf("missing coupon: expected ErrNotFound, got %v", err)
	}
}

func TestRecordRedemption_DuplicateSettlement(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{}, &domain.CouponRedemption{})

	if err := RecordRedemption(context.Background(), db, "t1", "c1", "s1", "cust1"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	// A retried settlement must not double-count the redemption.
	if err := RecordRedemption(context.Background(), db, "t1", "c1", "s1", "cust1"); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Same coupon on a different settlement is a new redemption.
	if err := RecordRedemption(context.Background(), db, "t1", "c1", "s2", "cust1"); err != nil {
		t.Fatalf("second settlement: %v", err)
	}
}

func TestCustomerRedemptionCounts(t *testing.T) {
	db := newRepoDB(t, &domain.CouponRedemption{})

	seeds := []struct{ coupon, settlement, customer string }{
		{"c1", "s1", "cust1"},
		{"c1", "s2", "cust1"},
		{"c2", "s3", "cust1"},
		{"c1", "s4", "cust2"},
	}
	for _, s := range seeds {
		if err := RecordRedemption(context.Background(), db, "t1", s.coupon, s.settlement, s.customer); err != nil {
			t.Fatalf("seed %+v: %v", s, err)
		}
	}

	counts, err := CustomerRedemptionCounts(context.Background(), db, "t1", "cust1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["c1"] != 2 || counts["c2"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if _, ok := counts["c3"]; ok {
		t.Fatalf("unused coupon should be absent: %+v", counts)
	}
}

func TestListActiveCoupons_FiltersInactive(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})
	now := time.Now().UTC()

	live := newCoupon("c1", "t1", "LIVE", 0)
	dead := newCoupon("c2", "t1", "DEAD", 0)
	dead.Active = false
	other := newCoupon("c3", "t2", "OTHER", 0)
	for _, c := range []*domain.Coupon{live, dead, other} {
		c.CreatedAt = now
		if err := CreateCoupon(context.Background(), db, c); err != nil {
			t.Fatalf("seed %s: %v", c.Code, err)
		}
	}

	got, err := ListActiveCoupons(context.Background(), db, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Code != "LIVE" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestIncrementCouponUsage_ConcurrentNeverExceedsLimit(t *testing.T) {
	db := newRepoDB(t, &domain.Coupon{})
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := CreateCoupon(context.Background(), db, newCoupon("c1", "t1", "LIMIT3", 3)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const callers = 12
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := IncrementCouponUsage(context.Background(), db, "t1", "c1"); err {
			case nil:
				atomic.AddInt64(&successes, 1)
			case ErrLimitReached:
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("successes = %d; want 3", successes)
	}
	got, err := GetCouponByCode(context.Background(), db, "t1", "LIMIT3")
	if err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UsageCount != 3 {
		t.Fatalf("usage count = %d; want 3", got.UsageCount)
	}
}
