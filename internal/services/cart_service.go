// Package services – CartService
//
// A cart groups multiple line items into one payable total. Pricing runs the
// full two-stage coupon engine (catalog lines first, then checkout), and
// settlement marks the cart paid exactly once: the first payer wins and a
// conflicting second payer is rejected without touching the stored marker.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/coupon"
	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/repo"
)

// CartItem is one line of a cart request.
type CartItem struct {
	ProductID       string `json:"product_id"`
	CategoryID      string `json:"category_id,omitempty"`
	UnitPriceAtomic int64  `json:"unit_price_atomic"`
	Quantity        int64  `json:"quantity"`
}

// CartInput describes one cart quote request.
type CartInput struct {
	OwnerID     string
	Items       []CartItem
	AssetCode   string
	CouponCodes []string
}

// CartService prices and settles multi-line carts. It reuses the
// PaymentService's rail wiring for verification.
type CartService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Assets is the allow-list of settleable assets.
	Assets *money.Registry
	// Payments supplies the rail configuration and verifier.
	Payments *PaymentService
	// CartTTL bounds how long a cart stays settleable.
	CartTTL time.Duration

	now func() time.Time
}

// NewCartService constructs a CartService sharing the payment service's
// database handle and rail wiring.
func NewCartService(payments *PaymentService) *CartService {
	return &CartService{
		DB:       payments.DB,
		Assets:   payments.Assets,
		Payments: payments,
		CartTTL:  30 * time.Minute,
		now:      time.Now,
	}
}

// BuildCart prices the items through the coupon engine and persists an
// expiring cart quote with one payable total.
func (s *CartService) BuildCart(ctx context.Context, tenantID string, in CartInput) (*domain.CartQuote, error) {
	asset, err := s.Assets.Get(in.AssetCode)
	if err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: cart has no items", ErrInvalidInput)
	}

	items := make([]coupon.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.UnitPriceAtomic < 0 || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: invalid line item %q", ErrInvalidInput, it.ProductID)
		}
		items = append(items, coupon.LineItem{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			UnitPrice:  money.New(it.UnitPriceAtomic, asset),
			Quantity:   it.Quantity,
		})
	}

	var coupons []domain.Coupon
	for _, code := range in.CouponCodes {
		c, err := repo.GetCouponByCode(ctx, s.DB, tenantID, code)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}

	now := s.clock().UTC()
	cctx := coupon.Context{Items: items, CustomerID: in.OwnerID, Now: now}
	if in.OwnerID != "" {
		usage, err := repo.CustomerRedemptionCounts(ctx, s.DB, tenantID, in.OwnerID)
		if err != nil {
			return nil, err
		}
		settled, err := repo.HasSettlementForPayer(ctx, s.DB, tenantID, in.OwnerID)
		if err != nil {
			return nil, err
		}
		cctx.CustomerUsage = usage
		cctx.FirstPurchase = !settled
	}
	res := coupon.Stack(coupons, cctx, asset, s.Payments.stackPolicy())

	rawItems, err := json.Marshal(in.Items)
	if err != nil {
		return nil, err
	}
	cart := &domain.CartQuote{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		OwnerID:     in.OwnerID,
		ItemsJSON:   string(rawItems),
		TotalAtomic: res.Total.Amount,
		AssetCode:   asset.Code,
		ExpiresAt:   now.Add(s.cartTTL()),
	}
	if err := repo.CreateCartQuote(ctx, s.DB, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetCart fetches a cart quote, tenant-scoped.
func (s *CartService) GetCart(ctx context.Context, tenantID, id string) (*domain.CartQuote, error) {
	cart, err := repo.GetCartQuote(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCartNotFound
	}
	return cart, err
}

// PayCart verifies the submission against the cart total and settles it. The
// paid_by marker is set exactly once: a retry by the winning payer returns
// the stored settlement, a different payer gets ErrCartConflict and nothing
// is committed.
func (s *CartService) PayCart(ctx context.Context, tenantID, cartID string, sub ProofSubmission) (*domain.PaymentTransaction, error) {
	cart, err := s.GetCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if !now.Before(cart.ExpiresAt) {
		return nil, ErrQuoteExpired
	}

	rec := &domain.PaymentTransaction{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		QuoteID:      cart.ID,
		ResourceID:   "cart:" + cart.ID,
		AmountAtomic: cart.TotalAtomic,
		AssetCode:    cart.AssetCode,
		Method:       sub.Method,
		CreatedAt:    now,
	}

	switch sub.Method {
	case domain.MethodOnChain:
		if sub.Proof == nil {
			return nil, ErrMissingProof
		}
		req, err := s.cartRequirement(cart)
		if err != nil {
			return nil, err
		}
		result, err := s.Payments.verify(ctx, req, *sub.Proof)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, &RailError{Code: result.Code, Detail: result.Detail, Retryable: result.Retryable}
		}
		rec.ProofID = sub.Proof.ID()
		rec.PayerID = result.Payer
		rec.TxRef = sub.Proof.TxRef
	case domain.MethodCard:
		if sub.ProcessorRef == "" {
			return nil, ErrMissingProof
		}
		rec.ProofID = sub.ProcessorRef
		rec.TxRef = sub.ProcessorRef
		rec.PayerID = sub.PayerID
	default:
		return nil, ErrUnknownMethod
	}

	var stored *domain.PaymentTransaction
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := repo.CreateSettlement(ctx, tx, rec)
		duplicate := errors.Is(err, repo.ErrDuplicate)
		if err != nil && !duplicate {
			return err
		}
		stored = created
		if err := repo.MarkCartPaid(ctx, tx, tenantID, cart.ID, stored.PayerID, stored.ID); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ErrCartConflict
			}
			return err
		}
		if !duplicate {
			return s.Payments.Events.Enqueue(ctx, tx, tenantID, domain.EventPaymentSucceeded, settlementEvent(domain.EventPaymentSucceeded, stored))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("cart_id", cart.ID).Str("settlement_id", stored.ID).Msg("cart settled")
	return stored, nil
}

// cartRequirement derives the on-chain requirement for a cart total, bound
// to the cart id as memo.
func (s *CartService) cartRequirement(cart *domain.CartQuote) (chain.Requirement, error) {
	net, ok := s.Payments.Networks[s.Payments.Network]
	if !ok {
		return chain.Requirement{}, errors.New("no settlement network configured")
	}
	contract, ok := net.AssetContracts[cart.AssetCode]
	if !ok {
		return chain.Requirement{}, fmt.Errorf("%s has no contract on %s", cart.AssetCode, net.Name)
	}
	return chain.Requirement{
		ResourceID:       "cart:" + cart.ID,
		Network:          net.Name,
		PayTo:            s.Payments.PayTo,
		AssetCode:        cart.AssetCode,
		AssetContract:    contract,
		AmountAtomic:     cart.TotalAtomic,
		Memo:             cart.ID,
		ExpiresAt:        cart.ExpiresAt,
		MinConfirmations: s.Payments.MinConfirmations,
	}, nil
}

func (s *CartService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *CartService) cartTTL() time.Duration {
	if s.CartTTL <= 0 {
		return 30 * time.Minute
	}
	return s.CartTTL
}
