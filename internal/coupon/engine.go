// Package coupon implements the pure, stateless discount engine: coupon
// validity, applicability, stacking order and application formulas. The
// engine never mutates coupons; it returns decisions that the orchestrator
// applies as a single atomic usage increment at settlement time.
package coupon

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/money"
)

// StackPolicy selects how multiple eligible checkout-stage coupons combine.
// Catalog-stage coupons always apply per line item first; this policy only
// governs the checkout stage.
type StackPolicy string

const (
	// StackAll applies every eligible checkout coupon in deterministic order.
	StackAll StackPolicy = "all"
	// StackBest applies only the single checkout coupon with the largest
	// discount against the post-catalog subtotal.
	StackBest StackPolicy = "best"
)

// Configuration errors returned by CheckConfig.
var (
	ErrCatalogScopeRequired = errors.New("catalog coupons must restrict scope")
	ErrBadPercentage        = errors.New("percentage must be in (0, 100]")
	ErrBadFixedAmount       = errors.New("fixed discount must be positive")
	ErrBadDiscountType      = errors.New("unknown discount type")
)

// LineItem is one cart entry presented to the engine.
type LineItem struct {
	ProductID  string
	CategoryID string
	UnitPrice  money.Money
	Quantity   int64
}

// Subtotal returns quantity × unit price.
func (li LineItem) Subtotal() money.Money {
	return money.New(li.UnitPrice.Amount*li.Quantity, li.UnitPrice.Asset)
}

// Context carries everything the engine needs to decide eligibility for a
// single checkout. CustomerUsage maps coupon id → this customer's prior
// redemption count; FirstPurchase reports whether the customer has settled
// before.
type Context struct {
	Items         []LineItem
	PaymentMethod string
	CustomerID    string
	CustomerUsage map[string]int64
	FirstPurchase bool
	Now           time.Time
}

// Applied describes one coupon's contribution to the final total.
type Applied struct {
	Coupon         *domain.Coupon
	DiscountAtomic int64
}

// Result is the deterministic outcome of stacking.
type Result struct {
	Applied     []Applied
	Total       money.Money
	TotalBefore money.Money
}

// CheckConfig validates a coupon's internal consistency. Validity (active,
// window, limits) is a separate concern checked per request by Valid.
func CheckConfig(c *domain.Coupon) error {
	switch c.DiscountType {
	case domain.DiscountPercentage:
		if c.PercentBps <= 0 || c.PercentBps > 10_000 {
			return ErrBadPercentage
		}
	case domain.DiscountFixed:
		if c.AmountOffAtomic <= 0 {
			return ErrBadFixedAmount
		}
	default:
		return ErrBadDiscountType
	}
	if c.Stage == domain.StageCatalog && c.ScopeType == domain.ScopeAll {
		return ErrCatalogScopeRequired
	}
	return nil
}

// Valid reports whether the coupon may be redeemed at all right now: active,
// inside its activity window, and under both the global and the customer's
// usage limit.
func Valid(c *domain.Coupon, ctx Context) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && ctx.Now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && !ctx.Now.Before(*c.EndsAt) {
		return false
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return false
	}
	if c.PerCustomerLimit > 0 && ctx.CustomerUsage[c.ID] >= c.PerCustomerLimit {
		return false
	}
	return true
}

// Applicable reports whether a valid coupon applies to this checkout:
// payment-method restriction, minimum amount threshold, first-purchase
// constraint, and (for catalog coupons) at least one in-scope line item.
func Applicable(c *domain.Coupon, ctx Context) bool {
	if c.PaymentMethod != "" && c.PaymentMethod != ctx.PaymentMethod {
		return false
	}
	if c.FirstPurchaseOnly && !ctx.FirstPurchase {
		return false
	}
	if c.MinAmountAtomic > 0 && cartSubtotal(ctx.Items) < c.MinAmountAtomic {
		return false
	}
	if c.Stage == domain.StageCatalog {
		for _, li := range ctx.Items {
			if inScope(c, li) {
				return true
			}
		}
		return false
	}
	if c.ScopeType != domain.ScopeAll {
		for _, li := range ctx.Items {
			if inScope(c, li) {
				return true
			}
		}
		return false
	}
	return true
}

// Stack filters the given coupons to the valid and applicable set, orders
// them (catalog before checkout, then by descending discount, then by code
// for a stable tie-break) and applies them. The same inputs always produce
// the same application order and the same final total.
func Stack(coupons []domain.Coupon, ctx Context, asset money.Asset, policy StackPolicy) Result {
	before := money.New(cartSubtotal(ctx.Items), asset)

	var catalog, checkout []*domain.Coupon
	for i := range coupons {
		c := &coupons[i]
		if CheckConfig(c) != nil || !Valid(c, ctx) || !Applicable(c, ctx) {
			continue
		}
		if c.Stage == domain.StageCatalog {
			catalog = append(catalog, c)
		} else {
			checkout = append(checkout, c)
		}
	}

	res := Result{TotalBefore: before}

	// Catalog stage: discount each in-scope line item.
	lineTotals := make([]int64, len(ctx.Items))
	for i, li := range ctx.Items {
		lineTotals[i] = li.Subtotal().Amount
	}
	sortCoupons(catalog, func(c *domain.Coupon) int64 { return catalogDiscount(c, ctx.Items, asset) })
	for _, c := range catalog {
		var cut int64
		for i, li := range ctx.Items {
			if !inScope(c, li) {
				continue
			}
			d := discountOn(c, money.New(lineTotals[i], asset))
			lineTotals[i] -= d
			cut += d
		}
		if cut > 0 {
			res.Applied = append(res.Applied, Applied{Coupon: c, DiscountAtomic: cut})
		}
	}

	subtotal := int64(0)
	for _, lt := range lineTotals {
		subtotal += lt
	}

	// Checkout stage: apply to the running cart total per policy.
	sortCoupons(checkout, func(c *domain.Coupon) int64 {
		return discountOn(c, money.New(subtotal, asset))
	})
	if policy == StackBest && len(checkout) > 1 {
		checkout = checkout[:1]
	}
	for _, c := range checkout {
		d := discountOn(c, money.New(subtotal, asset))
		if d == 0 {
			continue
		}
		subtotal -= d
		res.Applied = append(res.Applied, Applied{Coupon: c, DiscountAtomic: d})
	}

	if subtotal < 0 {
		subtotal = 0
	}
	res.Total = money.New(subtotal, asset)
	return res
}

// discountOn computes the discount a coupon takes from amount: percentage
// via exact decimal math (half-up), fixed capped at the amount itself.
func discountOn(c *domain.Coupon, amount money.Money) int64 {
	if amount.Amount <= 0 {
		return 0
	}
	switch c.DiscountType {
	case domain.DiscountPercentage:
		pct := decimal.New(c.PercentBps, -2) // bps → percent
		return amount.ApplyPercentage(pct).Amount
	case domain.DiscountFixed:
		if c.AmountOffAtomic > amount.Amount {
			return amount.Amount
		}
		return c.AmountOffAtomic
	}
	return 0
}

// catalogDiscount is the total a catalog coupon would take across in-scope
// items, used only for ordering.
func catalogDiscount(c *domain.Coupon, items []LineItem, asset money.Asset) int64 {
	var total int64
	for _, li := range items {
		if inScope(c, li) {
			total += discountOn(c, money.New(li.Subtotal().Amount, asset))
		}
	}
	return total
}

// sortCoupons orders by descending discount value, then code, for a
// deterministic application order.
func sortCoupons(cs []*domain.Coupon, value func(*domain.Coupon) int64) {
	sort.SliceStable(cs, func(i, j int) bool {
		vi, vj := value(cs[i]), value(cs[j])
		if vi != vj {
			return vi > vj
		}
		return cs[i].Code < cs[j].Code
	})
}

// inScope reports whether a line item falls under the coupon's scope.
func inScope(c *domain.Coupon, li LineItem) bool {
	switch c.ScopeType {
	case domain.ScopeAll:
		return true
	case domain.ScopeProducts:
		return scopeContains(c.ScopeJSON, li.ProductID)
	case domain.ScopeCategories:
		return scopeContains(c.ScopeJSON, li.CategoryID)
	}
	return false
}

func scopeContains(scopeJSON, id string) bool {
	if id == "" || scopeJSON == "" {
		return false
	}
	var ids []string
	if err := json.Unmarshal([]byte(scopeJSON), &ids); err != nil {
		return false
	}
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}

func cartSubtotal(items []LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.Subtotal().Amount
	}
	return total
}
