// Package repo – quotes and cart quotes.
//
// Quotes are immutable once written; the only mutation on a cart quote is
// the single conditional paid_by marker set at settlement. Expiry is
// enforced by the orchestrator at read time and by the background sweep.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// CreateQuote inserts an immutable quote row.
func CreateQuote(ctx context.Context, db *gorm.DB, q *domain.Quote) error {
	return db.WithContext(ctx).Create(q).Error
}

// GetQuote fetches a quote by id, tenant-scoped.
func GetQuote(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Quote, error) {
	var q domain.Quote
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// DeleteExpiredQuotes removes quotes whose expiry passed before the cutoff.
// Called by the background sweep; settled quotes are referenced from the
// settlement record, so removing the quote row loses nothing auditable.
func DeleteExpiredQuotes(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&domain.Quote{})
	return res.RowsAffected, res.Error
}

// CreateCartQuote inserts a cart quote.
func CreateCartQuote(ctx context.Context, db *gorm.DB, c *domain.CartQuote) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetCartQuote fetches a cart quote by id, tenant-scoped.
func GetCartQuote(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.CartQuote, error) {
	var c domain.CartQuote
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkCartPaid sets the paid_by marker exactly once. The conditional update
// matches when the cart is unpaid or already paid by the same payer (the
// idempotent retry), so a second payer observes ErrConflict while a retried
// settlement by the winner is a no-op success.
func MarkCartPaid(ctx context.Context, db *gorm.DB, tenantID, cartID, payerID, settlementID string) error {
	res := db.WithContext(ctx).Model(&domain.CartQuote{}).
		Where("tenant_id = ? AND id = ? AND (paid_by IS NULL OR paid_by = ?)", tenantID, cartID, payerID).
		Updates(map[string]any{
			"paid_by":       payerID,
			"settlement_id": settlementID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&domain.CartQuote{}).
			Where("tenant_id = ? AND id = ?", tenantID, cartID).
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
