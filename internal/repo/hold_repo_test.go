package repo

import (
	"context"
	"testing"

	"github.com/averix/go-payments-backend/internal/domain"
)

func newHold(id, tenant string, amount int64) *domain.CreditsHold {
	return &domain.CreditsHold{
		ID:           id,
		TenantID:     tenant,
		OwnerID:      "owner-1",
		ResourceID:   "res-1",
		AmountAtomic: amount,
		AssetCode:    "USDC",
		Status:       domain.HoldHeld,
	}
}

func TestCreateHold_IdempotentRetryVsConflict(t *testing.T) {
	db := newRepoDB(t, &domain.CreditsHold{})

	created, err := CreateHold(context.Background(), db, newHold("h1", "t1", 1_000_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.HoldHeld {
		t.Fatalf("unexpected status: %+v", created)
	}

	// Retry with identical parameters returns the stored hold and
	// ErrDuplicate, the idempotent-retry signal.
	again, err := CreateHold(context.Background(), db, newHold("h1", "t1", 1_000_000))
	if err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if again == nil || again.ID != "h1" {
		t.Fatalf("expected stored hold back, got %+v", again)
	}

	// Re-creation with different parameters is a conflict, not a retry.
	if _, err := CreateHold(context.Background(), db, newHold("h1", "t1", 2_000_000)); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateHold_SameIDAcrossTenants(t *testing.T) {
	db := newRepoDB(t, &domain.CreditsHold{})

	if _, err := CreateHold(context.Background(), db, newHold("h1", "t1", 1_000_000)); err != nil {
		t.Fatalf("tenant t1: %v", err)
	}
	// Hold ids are scoped to the tenant: another tenant reusing the id
	// creates an independent hold, not a duplicate or a conflict.
	if _, err := CreateHold(context.Background(), db, newHold("h1", "t2", 2_000_000)); err != nil {
		t.Fatalf("tenant t2: %v", err)
	}

	a, err := GetHold(context.Background(), db, "t1", "h1")
	if err != nil || a.AmountAtomic != 1_000_000 {
		t.Fatalf("t1 hold: %+v %v", a, err)
	}
	b, err := GetHold(context.Background(), db, "t2", "h1")
	if err != nil || b.AmountAtomic != 2_000_000 {
		t.Fatalf("t2 hold: %+v %v", b, err)
	}
}

func TestGetHold_TenantScoped(t *testing.T) {
	db := newRepoDB(t, &domain.CreditsHold{})

	if _, err := CreateHold(context.Background(), db, newHold("h1", "t1", 1_000_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetHold(context.Background(), db, "t1", "h1")
	if err != nil || got.AmountAtomic != 1_000_000 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := GetHold(context.Background(), db, "t2", "h1"); err != ErrNotFound {
		t.Fatalf("cross-tenant get: expected ErrNotFound, got %v", err)
	}
}

func TestTransitionHold_SingleWinner(t *testing.T) {
	db := newRepoDB(t, &domain.CreditsHold{})

	if _, err := CreateHold(context.Background(), db, newHold("h1", "t1", 1_000_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// held → captured succeeds once.
	if err := TransitionHold(context.Background(), db, "t1", "h1", domain.HoldHeld, domain.HoldCaptured); err != nil {
		t.Fatalf("capture: %v", err)
	}
	// Repeating the same transition, or racing a release against it, loses.
	if err := TransitionHold(context.Background(), db, "t1", "h1", domain.HoldHeld, domain.HoldCaptured); err != ErrConflict {
		t.Fatalf("repeat capture: expected ErrConflict, got %v", err)
	}
	if err := TransitionHold(context.Background(), db, "t1", "h1", domain.HoldHeld, domain.HoldReleased); err != ErrConflict {
		t.Fatalf("release after capture: expected ErrConflict, got %v", err)
	}

	got, _ := GetHold(context.Background(), db, "t1", "h1")
	if got.Status != domain.HoldCaptured {
		t.Fatalf("status overwritten: %+v", got)
	}

	if err := TransitionHold(context.Background(), db, "t1", "missing", domain.HoldHeld, domain.HoldCaptured); err != ErrNotFound {
		t.Fatalf("missing hold: expected ErrNotFound, got %v", err)
	}
}
