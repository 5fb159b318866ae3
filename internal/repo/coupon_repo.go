// Package repo – coupons.
//
// Usage increments are atomic-and-conditional: the UPDATE only matches while
// the usage count is still under the limit, so concurrent settlements racing
// for a limited-use code can never over-redeem. There is no check-then-act
// window for a second writer to slip through.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// ListActiveCoupons returns the tenant's active coupons for engine input.
func ListActiveCoupons(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.Coupon, error) {
	var out []domain.Coupon
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("code ASC").
		Find(&out).Error
	return out, err
}

// GetCouponByCode fetches one coupon by its tenant-scoped code.
func GetCouponByCode(ctx context.Context, db *gorm.DB, tenantID, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCoupon inserts an admin-defined coupon; duplicate codes per tenant
// map to ErrDuplicate.
func CreateCoupon(ctx context.Context, db *gorm.DB, c *domain.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// IncrementCouponUsage advances the usage counter by one, but only while the
// counter is still under the limit (a zero limit means unlimited). When the
// conditional update matches no row the coupon is either gone or exhausted;
// the follow-up existence check disambiguates ErrNotFound from
// ErrLimitReached.
func IncrementCouponUsage(ctx context.Context, db *gorm.DB, tenantID, couponID string) error {
	res := db.WithContext(ctx).Model(&domain.Coupon{}).
		Where("tenant_id = ? AND id = ? AND (usage_limit = 0 OR usage_count < usage_limit)", tenantID, couponID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&domain.Coupon{}).
			Where("tenant_id = ? AND id = ?", tenantID, couponID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrLimitReached
	}
	return nil
}

// RecordRedemption persists one coupon application against a settlement.
// The unique (coupon_id, settlement_id) index makes retried settlements
// idempotent: a duplicate maps to ErrDuplicate and must not increment usage
// again.
func RecordRedemption(ctx context.Context, db *gorm.DB, tenantID, couponID, settlementID, customerID string) error {
	rec := &domain.CouponRedemption{
		ID:           uuid.NewString(),
		CouponID:     couponID,
		SettlementID: settlementID,
		TenantID:     tenantID,
		CustomerID:   customerID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CustomerRedemptionCounts returns coupon id → redemption count for one
// customer, the engine's per-customer limit input.
func CustomerRedemptionCounts(ctx context.Context, db *gorm.DB, tenantID, customerID string) (map[string]int64, error) {
	type row struct {
		CouponID string
		N        int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&domain.CouponRedemption{}).
		Select("coupon_id, COUNT(*) AS n").
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Group("coupon_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.CouponID] = r.N
	}
	return out, nil
}
