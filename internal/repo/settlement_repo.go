// Package repo – settlement records.
//
// This file provides repository functions for PaymentTransaction, the
// exactly-once settlement record. The only write primitive is
// insert-if-absent: the composite unique index on (tenant_id, proof_id)
// arbitrates concurrent duplicate submissions at the storage layer, so no
// application-level locking is needed.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// CreateSettlement inserts the settlement record. On a (tenant_id, proof_id)
// uniqueness violation it returns the previously stored record together with
// ErrDuplicate, so the caller can resolve the race by adopting the existing
// row.
func CreateSettlement(ctx context.Context, db *gorm.DB, rec *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := GetSettlementByProof(ctx, db, rec.TenantID, rec.ProofID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return existing, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetSettlement fetches a settlement by id, tenant-scoped.
func GetSettlement(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.PaymentTransaction, error) {
	var rec domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSettlementByProof fetches the settlement recorded for a given proof id.
func GetSettlementByProof(ctx context.Context, db *gorm.DB, tenantID, proofID string) (*domain.PaymentTransaction, error) {
	var rec domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND proof_id = ?", tenantID, proofID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasSettlementForPayer reports whether the payer has any prior settlement
// under the tenant. Used for first-purchase coupon constraints.
func HasSettlementForPayer(ctx context.Context, db *gorm.DB, tenantID, payerID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.PaymentTransaction{}).
		Where("tenant_id = ? AND payer_id = ?", tenantID, payerID).
		Count(&count).Error
	return count > 0, err
}

// ArchiveSettlementsBefore soft-archives settlements older than the cutoff
// that are not archived yet. Returns the number of rows touched. Archived
// rows are retained; they are simply excluded from hot-path listings.
func ArchiveSettlementsBefore(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.PaymentTransaction{}).
		Where("created_at < ? AND archived_at IS NULL", cutoff).
		Update("archived_at", now)
	return res.RowsAffected, res.Error
}
