// Package repo – credit holds.
//
// Hold creation is insert-if-absent on the caller-supplied hold id. A retry
// carrying identical parameters adopts the stored row; a retry with
// different parameters is a conflict, never an overwrite.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// CreateHold inserts the hold. On a duplicate id it returns the stored row
// plus ErrDuplicate when the parameters match (idempotent retry), or
// ErrConflict when they differ.
func CreateHold(ctx context.Context, db *gorm.DB, h *domain.CreditsHold) (*domain.CreditsHold, error) {
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		existing, lookupErr := GetHold(ctx, db, h.TenantID, h.ID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing.SameParameters(h.ResourceID, h.AmountAtomic, h.AssetCode) {
			return existing, ErrDuplicate
		}
		return nil, ErrConflict
	}
	return h, nil
}

// GetHold fetches a hold by id, tenant-scoped.
func GetHold(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.CreditsHold, error) {
	var h domain.CreditsHold
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// TransitionHold moves a hold from one status to another conditionally;
// losing the race (or repeating a transition) yields ErrConflict.
func TransitionHold(ctx context.Context, db *gorm.DB, tenantID, id, from, to string) error {
	res := db.WithContext(ctx).Model(&domain.CreditsHold{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&domain.CreditsHold{}).
			Where("tenant_id = ? AND id = ?", tenantID, id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
