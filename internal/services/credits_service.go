// Package services – CreditsService
//
// Credit holds reserve an amount against an internal balance under a
// caller-supplied hold id. Creation is idempotent: retrying with identical
// parameters adopts the stored hold, re-creating with different parameters
// is a conflict. A hold is finalized exactly once by capture or release.
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/repo"
)

// HoldInput describes one hold request. ID is chosen by the caller so a
// network retry carries the same identity.
type HoldInput struct {
	ID           string
	OwnerID      string
	ResourceID   string
	AmountAtomic int64
	AssetCode    string
}

// CreditsService manages credit holds.
type CreditsService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Assets is the allow-list of holdable assets.
	Assets *money.Registry
}

// NewCreditsService constructs a CreditsService.
func NewCreditsService(db *gorm.DB, assets *money.Registry) *CreditsService {
	return &CreditsService{DB: db, Assets: assets}
}

// Hold creates the hold, or adopts the stored one when the same id is
// retried with identical parameters.
func (s *CreditsService) Hold(ctx context.Context, tenantID string, in HoldInput) (*domain.CreditsHold, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("%w: hold id required", ErrInvalidInput)
	}
	asset, err := s.Assets.Get(in.AssetCode)
	if err != nil {
		return nil, err
	}
	if in.AmountAtomic <= 0 {
		return nil, money.ErrNegativeAmount
	}
	h := &domain.CreditsHold{
		ID:           in.ID,
		TenantID:     tenantID,
		OwnerID:      in.OwnerID,
		ResourceID:   in.ResourceID,
		AmountAtomic: in.AmountAtomic,
		AssetCode:    asset.Code,
		Status:       domain.HoldHeld,
	}
	stored, err := repo.CreateHold(ctx, s.DB, h)
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		return stored, nil
	case errors.Is(err, repo.ErrConflict):
		return nil, ErrHoldConflict
	case err != nil:
		return nil, err
	}
	return stored, nil
}

// Get fetches a hold, tenant-scoped.
func (s *CreditsService) Get(ctx context.Context, tenantID, id string) (*domain.CreditsHold, error) {
	h, err := repo.GetHold(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

// Capture finalizes the hold as consumed. Only a held hold can be captured.
func (s *CreditsService) Capture(ctx context.Context, tenantID, id string) error {
	return s.transition(ctx, tenantID, id, domain.HoldCaptured)
}

// Release finalizes the hold as returned. Only a held hold can be released.
func (s *CreditsService) Release(ctx context.Context, tenantID, id string) error {
	return s.transition(ctx, tenantID, id, domain.HoldReleased)
}

func (s *CreditsService) transition(ctx context.Context, tenantID, id, to string) error {
	err := repo.TransitionHold(ctx, s.DB, tenantID, id, domain.HoldHeld, to)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrHoldNotFound
	case errors.Is(err, repo.ErrConflict):
		return ErrHoldConflict
	}
	return err
}
