package repo

import (
	"context"
	"testing"
	"time"

	"github.com/averix/go-payments-backend/internal/domain"
)

func newQuote(id, tenant string, expires time.Time) *domain.Quote {
	return &domain.Quote{
		ID:           id,
		TenantID:     tenant,
		ResourceID:   "res-1",
		AmountAtomic: 2_500_000,
		AssetCode:    "USDC",
		OptionsJSON:  "[]",
		ExpiresAt:    expires,
	}
}

func newCart(id, tenant, owner string, expires time.Time) *domain.CartQuote {
	return &domain.CartQuote{
		ID:          id,
		TenantID:    tenant,
		OwnerID:     owner,
		ItemsJSON:   "[]",
		TotalAtomic: 9_000_000,
		AssetCode:   "USDC",
		ExpiresAt:   expires,
	}
}

func TestQuote_CreateGetAndTenantScope(t *testing.T) {
	db := newRepoDB(t, &domain.Quote{})
	now := time.Now().UTC()

	if err := CreateQuote(context.Background(), db, newQuote("q1", "t1", now.Add(time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := GetQuote(context.Background(), db, "t1", "q1")
	if err != nil || got.AmountAtomic != 2_500_000 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := GetQuote(context.Background(), db, "t2", "q1"); err != ErrNotFound {
		t.Fatalf("cross-tenant get: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteExpiredQuotes_SweepsOnlyPast(t *testing.T) {
	db := newRepoDB(t, &domain.Quote{})
	now := time.Now().UTC()

	if err := CreateQuote(context.Background(), db, newQuote("old", "t1", now.Add(-time.Hour))); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := CreateQuote(context.Background(), db, newQuote("live", "t1", now.Add(time.Hour))); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	n, err := DeleteExpiredQuotes(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if _, err := GetQuote(context.Background(), db, "t1", "old"); err != ErrNotFound {
		t.Fatalf("old quote should be gone, got %v", err)
	}
	if _, err := GetQuote(context.Background(), db, "t1", "live"); err != nil {
		t.Fatalf("live quote should survive: %v", err)
	}
}

func TestMarkCartPaid_WinnerRetryAndConflict(t *testing.T) {
	db := newRepoDB(t, &domain.CartQuote{})
	now := time.Now().UTC()

	if err := CreateCartQuote(context.Background(), db, newCart("cart1", "t1", "owner1", now.Add(time.Minute))); err != nil {
		t.Fatalf("create cart: %v", err)
	}

	// First payer wins.
	if err := MarkCartPaid(context.Background(), db, "t1", "cart1", "payerA", "s1"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	got, err := GetCartQuote(context.Background(), db, "t1", "cart1")
	if err != nil || got.PaidBy == nil || *got.PaidBy != "payerA" || got.SettlementID == nil || *got.SettlementID != "s1" {
		t.Fatalf("cart after settle: %+v %v", got, err)
	}

	// The winner retrying is a no-op success, not a conflict.
	if err := MarkCartPaid(context.Background(), db, "t1", "cart1", "payerA", "s1"); err != nil {
		t.Fatalf("winner retry: %v", err)
	}

	// A second payer observes the conflict.
	if err := MarkCartPaid(context.Background(), db, "t1", "cart1", "payerB", "s2"); err != ErrConflict {
		t.Fatalf("second payer: expected ErrConflict, got %v", err)
	}
	got, _ = GetCartQuote(context.Background(), db, "t1", "cart1")
	if *got.PaidBy != "payerA" || *got.SettlementID != "s1" {
		t.Fatalf("loser must not overwrite the winner: %+v", got)
	}

	// Missing cart maps to ErrNotFound.
	if err := MarkCartPaid(context.Background(), db, "t1", "missing", "payerA", "s3"); err != ErrNotFound {
		t.Fatalf("missing cart: expected ErrNotFound, got %v", err)
	}
}
