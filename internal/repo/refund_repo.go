// Package repo – refund quotes.
//
// A refund quote is finalized at most once, and its transfer is executed at
// most once. Both guarantees rest on conditional updates: ClaimRefundQuote
// admits a single approver (or denier) to the finalize path while the quote
// is pending and unclaimed, and FinalizeRefundQuote stamps processed_at only
// while it is NULL. A claim whose holder died is taken over after it goes
// stale.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// CreateRefundQuote inserts a pending refund quote.
func CreateRefundQuote(ctx context.Context, db *gorm.DB, r *domain.RefundQuote) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetRefundQuote fetches a refund quote by id, tenant-scoped.
func GetRefundQuote(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.RefundQuote, error) {
	var r domain.RefundQuote
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimRefundQuote marks the quote as in flight so exactly one caller moves
// money for it. The update matches only a pending quote whose claim is absent
// or older than staleBefore. A pending quote claimed by someone else yields
// ErrClaimed, a finalized one ErrConflict, a missing one ErrNotFound.
func ClaimRefundQuote(ctx context.Context, db *gorm.DB, tenantID, id string, now, staleBefore time.Time) error {
	res := db.WithContext(ctx).Model(&domain.RefundQuote{}).
		Where("tenant_id = ? AND id = ? AND processed_at IS NULL AND (claimed_at IS NULL OR claimed_at <= ?)",
			tenantID, id, staleBefore).
		Update("claimed_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var r domain.RefundQuote
		err := db.WithContext(ctx).
			Where("tenant_id = ? AND id = ?", tenantID, id).
			First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if r.ProcessedAt != nil {
			return ErrConflict
		}
		return ErrClaimed
	}
	return nil
}

// ReleaseRefundClaim clears the claim on a still-pending quote so a later
// approval can retry after an executor failure.
func ReleaseRefundClaim(ctx context.Context, db *gorm.DB, tenantID, id string) error {
	return db.WithContext(ctx).Model(&domain.RefundQuote{}).
		Where("tenant_id = ? AND id = ? AND processed_at IS NULL", tenantID, id).
		Update("claimed_at", nil).Error
}

// FinalizeRefundQuote stamps processed_at exactly once. Approval carries a
// transfer signature and the approver identity; denial leaves both nil. A
// quote already finalized (or missing) yields ErrConflict / ErrNotFound.
func FinalizeRefundQuote(ctx context.Context, db *gorm.DB, tenantID, id string, signature, approvedBy *string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.RefundQuote{}).
		Where("tenant_id = ? AND id = ? AND processed_at IS NULL", tenantID, id).
		Updates(map[string]any{
			"processed_at": now,
			"claimed_at":   nil,
			"signature":    signature,
			"approved_by":  approvedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&domain.RefundQuote{}).
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
