// Package services – PaymentService
//
// This file implements the core payment flow: building priced, expiring
// quotes (coupon engine applied, per-method payment options attached) and
// settling submitted proofs exactly once. The settlement insert is the
// concurrency arbiter: the storage layer's unique (tenant_id, proof_id)
// index decides races, and the losing submission adopts the winner's record.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/breaker"
	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/coupon"
	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/repo"
)

// ProofVerifier is the rail-side contract PaymentService needs: verify one
// proof against one requirement. *chain.Verifier satisfies it.
type ProofVerifier interface {
	Verify(ctx context.Context, req chain.Requirement, proof chain.Proof) (*chain.VerificationResult, error)
}

// QuoteInput describes one quote request.
type QuoteInput struct {
	ResourceID   string
	AmountAtomic int64
	AssetCode    string
	CustomerID   string
	CouponCodes  []string
	Exact        bool
}

// CardOption is the card-rail variant embedded in a quote's options.
type CardOption struct {
	AmountAtomic      int64  `json:"amount_atomic"`
	AssetCode         string `json:"asset_code"`
	ProcessorPriceRef string `json:"processor_price_ref"`
}

// QuoteOptions is the serialized per-method payment menu stored on a quote.
type QuoteOptions struct {
	Card    *CardOption        `json:"card,omitempty"`
	OnChain *chain.Requirement `json:"onchain,omitempty"`
}

// ProofSubmission carries the payer's claim of payment for one quote.
// Method selects the rail; Proof is required for onchain, ProcessorRef for
// card.
type ProofSubmission struct {
	Method       string
	PayerID      string
	ProcessorRef string
	Proof        *chain.Proof
}

// PaymentService coordinates quoting and settlement.
type PaymentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Assets is the allow-list of settleable assets.
	Assets *money.Registry
	// Verifier checks on-chain proofs.
	Verifier ProofVerifier
	// RPCBreaker guards the verifier's RPC dependency. Nil disables the
	// guard.
	RPCBreaker *breaker.Breaker
	// Networks and Network select the settlement network offered in quotes.
	Networks map[string]chain.NetworkConfig
	Network  string
	// PayTo is the service's receiving address on the offered network.
	PayTo string
	// StackPolicy controls how checkout coupons combine.
	StackPolicy coupon.StackPolicy
	// QuoteTTL bounds how long a quote stays settleable.
	QuoteTTL time.Duration
	// MinConfirmations required before an on-chain proof settles.
	MinConfirmations uint64
	// PriceRef maps a resource to its processor price reference.
	PriceRef func(resourceID string) string
	// Events queues outbound webhooks. Nil disables them.
	Events *EventSink

	now func() time.Time
}

// NewPaymentService constructs a PaymentService with sane defaults.
func NewPaymentService(db *gorm.DB, assets *money.Registry, verifier ProofVerifier) *PaymentService {
	return &PaymentService{
		DB:               db,
		Assets:           assets,
		Verifier:         verifier,
		StackPolicy:      coupon.StackBest,
		QuoteTTL:         15 * time.Minute,
		MinConfirmations: 1,
		now:              time.Now,
	}
}

// BuildQuote prices the resource, applies the coupon engine and persists an
// immutable, expiring quote carrying the per-method payment options.
func (s *PaymentService) BuildQuote(ctx context.Context, tenantID string, in QuoteInput) (*domain.Quote, error) {
	asset, err := s.Assets.Get(in.AssetCode)
	if err != nil {
		return nil, err
	}
	if in.AmountAtomic <= 0 {
		return nil, money.ErrNegativeAmount
	}

	res, appliedCodes, err := s.price(ctx, tenantID, in, asset)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	q := &domain.Quote{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ResourceID:   in.ResourceID,
		AmountAtomic: res.Total.Amount,
		AssetCode:    asset.Code,
		CouponCodes:  strings.Join(appliedCodes, ","),
		Exact:        in.Exact,
		ExpiresAt:    now.Add(s.quoteTTL()),
		CreatedAt:    now,
	}

	opts, err := s.buildOptions(q, asset)
	if err != nil {
		return nil, err
	}
	q.OptionsJSON = opts

	if err := repo.CreateQuote(ctx, s.DB, q); err != nil {
		return nil, err
	}
	log.Debug().
		Str("quote_id", q.ID).
		Str("resource_id", q.ResourceID).
		Int64("amount_atomic", q.AmountAtomic).
		Str("coupons", q.CouponCodes).
		Msg("quote issued")
	return q, nil
}

// price runs the coupon engine over the single-resource cart and returns the
// stacking result plus the codes that actually applied.
func (s *PaymentService) price(ctx context.Context, tenantID string, in QuoteInput, asset money.Asset) (coupon.Result, []string, error) {
	items := []coupon.LineItem{{
		ProductID: in.ResourceID,
		UnitPrice: money.New(in.AmountAtomic, asset),
		Quantity:  1,
	}}

	var coupons []domain.Coupon
	for _, code := range in.CouponCodes {
		c, err := repo.GetCouponByCode(ctx, s.DB, tenantID, code)
		if errors.Is(err, repo.ErrNotFound) {
			return coupon.Result{}, nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		if err != nil {
			return coupon.Result{}, nil, err
		}
		coupons = append(coupons, *c)
	}

	cctx := coupon.Context{
		Items:      items,
		CustomerID: in.CustomerID,
		Now:        s.clock().UTC(),
	}
	if in.CustomerID != "" {
		usage, err := repo.CustomerRedemptionCounts(ctx, s.DB, tenantID, in.CustomerID)
		if err != nil {
			return coupon.Result{}, nil, err
		}
		settled, err := repo.HasSettlementForPayer(ctx, s.DB, tenantID, in.CustomerID)
		if err != nil {
			return coupon.Result{}, nil, err
		}
		cctx.CustomerUsage = usage
		cctx.FirstPurchase = !settled
	}

	res := coupon.Stack(coupons, cctx, asset, s.stackPolicy())
	codes := make([]string, 0, len(res.Applied))
	for _, a := range res.Applied {
		codes = append(codes, a.Coupon.Code)
	}
	return res, codes, nil
}

// buildOptions serializes the per-method payment menu. The card option is
// always offered; the on-chain option requires the asset to have a token
// contract on the configured network.
func (s *PaymentService) buildOptions(q *domain.Quote, asset money.Asset) (string, error) {
	opts := QuoteOptions{
		Card: &CardOption{
			AmountAtomic:      q.AmountAtomic,
			AssetCode:         asset.Code,
			ProcessorPriceRef: s.priceRef(q.ResourceID),
		},
	}
	if net, ok := s.Networks[s.Network]; ok {
		if contract, ok := net.AssetContracts[asset.Code]; ok {
			opts.OnChain = &chain.Requirement{
				ResourceID:       q.ResourceID,
				Network:          net.Name,
				PayTo:            s.PayTo,
				AssetCode:        asset.Code,
				AssetContract:    contract,
				AmountAtomic:     q.AmountAtomic,
				Memo:             q.ID,
				ExpiresAt:        q.ExpiresAt,
				Exact:            q.Exact,
				MinConfirmations: s.MinConfirmations,
			}
		}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SubmitProof verifies the submission against its quote and settles exactly
// once. A concurrent or repeated submission of the same proof returns the
// already-stored settlement with no further side effects.
func (s *PaymentService) SubmitProof(ctx context.Context, tenantID, quoteID string, sub ProofSubmission) (*domain.PaymentTransaction, error) {
	q, err := repo.GetQuote(ctx, s.DB, tenantID, quoteID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if q.Expired(now) {
		return nil, ErrQuoteExpired
	}

	var opts QuoteOptions
	if err := json.Unmarshal([]byte(q.OptionsJSON), &opts); err != nil {
		return nil, fmt.Errorf("decode quote options: %w", err)
	}

	rec := &domain.PaymentTransaction{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		QuoteID:      q.ID,
		ResourceID:   q.ResourceID,
		AmountAtomic: q.AmountAtomic,
		AssetCode:    q.AssetCode,
		Method:       sub.Method,
		CreatedAt:    now,
	}

	switch sub.Method {
	case domain.MethodOnChain:
		if opts.OnChain == nil || sub.Proof == nil {
			return nil, ErrMissingProof
		}
		result, err := s.verify(ctx, *opts.OnChain, *sub.Proof)
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

	return s.settle(ctx, q, rec)
}

// verify runs the rail verifier behind the RPC breaker. An open breaker
// fails fast without touching the verifier.
func (s *PaymentService) verify(ctx context.Context, req chain.Requirement, proof chain.Proof) (*chain.VerificationResult, error) {
	var result *chain.VerificationResult
	run := func(ctx context.Context) error {
		r, err := s.Verifier.Verify(ctx, req, proof)
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	var err error
	if s.RPCBreaker != nil {
		err = s.RPCBreaker.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, breaker.ErrOpen) {
		return nil, ErrDownstreamUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("verify proof: %w", err)
	}
	return result, nil
}

// settle inserts the settlement and, for a fresh insert, advances coupon
// usage and queues the success webhook in the same transaction. On the
// duplicate path nothing is written and the stored record is returned.
func (s *PaymentService) settle(ctx context.Context, q *domain.Quote, rec *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	var stored *domain.PaymentTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := repo.CreateSettlement(ctx, tx, rec)
		if errors.Is(err, repo.ErrDuplicate) {
			stored = created
			return nil
		}
		if err != nil {
			return err
		}
		stored = created
		if err := s.redeemCoupons(ctx, tx, q, created); err != nil {
			return err
		}
		return s.Events.Enqueue(ctx, tx, q.TenantID, domain.EventPaymentSucceeded, settlementEvent(domain.EventPaymentSucceeded, created))
	})
	if err != nil {
		return nil, err
	}
	if stored.ID != rec.ID {
		log.Info().
			Str("settlement_id", stored.ID).
			Str("proof_id", stored.ProofID).
			Msg("duplicate proof adopted existing settlement")
	}
	return stored, nil
}

// redeemCoupons advances usage for every code the quote applied. A coupon
// that reached its limit between quoting and settlement is logged and
// skipped; the settlement itself stands.
func (s *PaymentService) redeemCoupons(ctx context.Context, tx *gorm.DB, q *domain.Quote, rec *domain.PaymentTransaction) error {
	if q.CouponCodes == "" {
		return nil
	}
	for _, code := range strings.Split(q.CouponCodes, ",") {
		c, err := repo.GetCouponByCode(ctx, tx, q.TenantID, code)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := repo.IncrementCouponUsage(ctx, tx, q.TenantID, c.ID); err != nil {
			if errors.Is(err, repo.ErrLimitReached) {
				log.Warn().Str("coupon", code).Str("quote_id", q.ID).Msg("coupon exhausted between quote and settlement")
				continue
			}
			return err
		}
		if err := repo.RecordRedemption(ctx, tx, q.TenantID, c.ID, rec.ID, rec.PayerID); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
	}
	return nil
}

// GetPayment fetches a settlement record, tenant-scoped.
func (s *PaymentService) GetPayment(ctx context.Context, tenantID, id string) (*domain.PaymentTransaction, error) {
	rec, err := repo.GetSettlement(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSettlementNotFound
	}
	return rec, err
}

func (s *PaymentService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *PaymentService) quoteTTL() time.Duration {
	if s.QuoteTTL <= 0 {
		return 15 * time.Minute
	}
	return s.QuoteTTL
}

func (s *PaymentService) stackPolicy() coupon.StackPolicy {
	if s.StackPolicy == "" {
		return coupon.StackBest
	}
	return s.StackPolicy
}

func (s *PaymentService) priceRef(resourceID string) string {
	if s.PriceRef != nil {
		return s.PriceRef(resourceID)
	}
	return "price:" + resourceID
}

// settlementEvent is the webhook payload for settlement outcomes.
func settlementEvent(event string, rec *domain.PaymentTransaction) map[string]any {
	return map[string]any{
		"event":         event,
		"settlement_id": rec.ID,
		"quote_id":      rec.QuoteID,
		"resource_id":   rec.ResourceID,
		"payer_id":      rec.PayerID,
		"amount_atomic": rec.AmountAtomic,
		"asset_code":    rec.AssetCode,
		"method":        rec.Method,
		"tx_ref":        rec.TxRef,
		"created_at":    rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
