// Package domain – coupon model.
//
// Coupons are mutated only by admin write paths; the coupon engine
// (internal/coupon) is pure and returns decisions that the orchestrator
// applies as a single atomic usage increment at settlement time.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Discount types.
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Stages a coupon applies at. Catalog-stage coupons discount individual line
// items; checkout-stage coupons discount the cart total.
const (
	StageCatalog  = "catalog"
	StageCheckout = "checkout"
)

// Scope types restricting which products a coupon covers.
const (
	ScopeAll        = "all"
	ScopeProducts   = "products"
	ScopeCategories = "categories"
)

// Coupon is a discount definition. Percentage discounts carry PercentBps
// (basis points, 10000 = 100%); fixed discounts carry AmountOffAtomic in the
// asset's atomic units. A UsageLimit of zero means unlimited.
//
// The unique index on (tenant_id, code) makes codes addressable per tenant.
// UsageCount is only ever advanced through the conditional increment in the
// repo layer, which refuses to pass UsageLimit.
type Coupon struct {
	ID                string         `json:"id"       gorm:"type:char(36);primaryKey"`
	TenantID          string         `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_coupon_tenant_code,priority:1"`
	Code              string         `json:"code"     gorm:"type:varchar(64);not null;uniqueIndex:ux_coupon_tenant_code,priority:2"`
	DiscountType      string         `json:"discount_type" gorm:"type:varchar(16);not null;check:discount_type IN ('percentage','fixed')"`
	PercentBps        int64          `json:"percent_bps,omitempty"`
	AmountOffAtomic   int64          `json:"amount_off_atomic,omitempty"`
	Stage             string         `json:"stage"    gorm:"type:varchar(16);not null;default:'checkout';check:stage IN ('catalog','checkout')"`
	ScopeType         string         `json:"scope_type" gorm:"type:varchar(16);not null;default:'all';check:scope_type IN ('all','products','categories')"`
	ScopeJSON         string         `json:"scope_json,omitempty" gorm:"type:text"`
	PaymentMethod     string         `json:"payment_method,omitempty" gorm:"type:varchar(16)"` // empty = any
	MinAmountAtomic   int64          `json:"min_amount_atomic,omitempty"`
	FirstPurchaseOnly bool           `json:"first_purchase_only"`
	UsageLimit        int64          `json:"usage_limit"` // 0 = unlimited
	UsageCount        int64          `json:"usage_count"`
	PerCustomerLimit  int64          `json:"per_customer_limit"` // 0 = unlimited
	StartsAt          *time.Time     `json:"starts_at,omitempty"`
	EndsAt            *time.Time     `json:"ends_at,omitempty"`
	Active            bool           `json:"active" gorm:"not null;default:true"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Coupon.
func (Coupon) TableName() string { return "coupons" }

// CouponRedemption records one successful application of a coupon to a
// settlement. Per-customer limits are enforced by counting these rows; the
// unique index on (coupon_id, settlement_id) keeps a retried settlement from
// double-counting.
type CouponRedemption struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	CouponID     string    `json:"coupon_id"     gorm:"type:char(36);not null;uniqueIndex:ux_redemption_coupon_settlement,priority:1;index"`
	SettlementID string    `json:"settlement_id" gorm:"type:char(36);not null;uniqueIndex:ux_redemption_coupon_settlement,priority:2"`
	TenantID     string    `json:"tenant_id"     gorm:"type:varchar(64);not null;index"`
	CustomerID   string    `json:"customer_id"   gorm:"type:varchar(128);not null;index"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for CouponRedemption.
func (CouponRedemption) TableName() string { return "coupon_redemptions" }
