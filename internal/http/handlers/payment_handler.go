// Payment HTTP handlers.
//
// This file exposes REST endpoints for quoting and settling payments:
//   - POST /payments/quote        (price a resource, returns payment options)
//   - POST /payments/{id}/proof   (submit proof of payment for a quote)
//   - GET  /payments/{id}         (fetch a settlement record)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/http/middleware"
	"github.com/averix/go-payments-backend/internal/processor"
	"github.com/averix/go-payments-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// PaymentService defines the quoting and settlement operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PaymentService interface {
	// BuildQuote prices a resource and returns an expiring quote.
	BuildQuote(ctx context.Context, tenantID string, in services.QuoteInput) (*domain.Quote, error)
	// SubmitProof verifies a proof and settles its quote exactly once.
	SubmitProof(ctx context.Context, tenantID, quoteID string, sub services.ProofSubmission) (*domain.PaymentTransaction, error)
	// GetPayment fetches a settlement record.
	GetPayment(ctx context.Context, tenantID, id string) (*domain.PaymentTransaction, error)
	// HandleProcessorEvent applies one normalized card-rail event.
	HandleProcessorEvent(ctx context.Context, tenantID string, ev *processor.Event) (*domain.PaymentTransaction, error)
}

// CartService defines multi-line cart operations consumed by HTTP handlers.
type CartService interface {
	// BuildCart prices a cart and returns an expiring cart quote.
	BuildCart(ctx context.Context, tenantID string, in services.CartInput) (*domain.CartQuote, error)
	// GetCart fetches a cart quote.
	GetCart(ctx context.Context, tenantID, id string) (*domain.CartQuote, error)
	// PayCart settles a cart; the first payer wins.
	PayCart(ctx context.Context, tenantID, cartID string, sub services.ProofSubmission) (*domain.PaymentTransaction, error)
}

// CreditsService defines credit hold operations consumed by HTTP handlers.
type CreditsService interface {
	// Hold creates (or idempotently adopts) a credit hold.
	Hold(ctx context.Context, tenantID string, in services.HoldInput) (*domain.CreditsHold, error)
	// Get fetches a hold.
	Get(ctx context.Context, tenantID, id string) (*domain.CreditsHold, error)
	// Capture finalizes a hold as consumed.
	Capture(ctx context.Context, tenantID, id string) error
	// Release finalizes a hold as returned.
	Release(ctx context.Context, tenantID, id string) error
}

// RefundService defines refund lifecycle operations consumed by HTTP handlers.
type RefundService interface {
	// QuoteRefund computes a refund offer against a settlement.
	QuoteRefund(ctx context.Context, tenantID, settlementID string) (*domain.RefundQuote, error)
	// Get fetches a refund quote.
	Get(ctx context.Context, tenantID, id string) (*domain.RefundQuote, error)
	// Approve executes the refund and finalizes the quote.
	Approve(ctx context.Context, tenantID, id, approvedBy string) (*domain.RefundQuote, error)
	// Deny finalizes the quote without moving money.
	Deny(ctx context.Context, tenantID, id, deniedBy string) (*domain.RefundQuote, error)
}

// WalletMonitor exposes the latest service wallet snapshot.
type WalletMonitor interface {
	Snapshot() []chain.WalletStatus
	Healthy() bool
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the payment API. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	payments PaymentService
	carts    CartService
	credits  CreditsService
	refunds  RefundService
	wallets  WalletMonitor

	// processorSecret verifies inbound card-rail webhook signatures.
	processorSecret string
}

// New constructs a Handlers instance bound to the given services.
func New(payments PaymentService, carts CartService, credits CreditsService, refunds RefundService, wallets WalletMonitor, processorSecret string) *Handlers {
	return &Handlers{
		payments:        payments,
		carts:           carts,
		credits:         credits,
		refunds:         refunds,
		wallets:         wallets,
		processorSecret: processorSecret,
	}
}

// tenantID resolves the request's tenant scope.
func tenantID(c *gin.Context) string { return middleware.TenantID(c) }

//
// Requests / responses
//

// QuoteRequest is the body of POST /payments/quote.
type QuoteRequest struct {
	ResourceID   string   `json:"resource_id"  binding:"required"`
	AmountAtomic int64    `json:"amount_atomic" binding:"required"`
	AssetCode    string   `json:"asset_code"   binding:"required"`
	CustomerID   string   `json:"customer_id"`
	CouponCodes  []string `json:"coupon_codes"`
	Exact        bool     `json:"exact"`
}

// QuoteResponse echoes the stored quote with its decoded payment options.
type QuoteResponse struct {
	ID           string                `json:"id"`
	ResourceID   string                `json:"resource_id"`
	AmountAtomic int64                 `json:"amount_atomic"`
	AssetCode    string                `json:"asset_code"`
	CouponCodes  []string              `json:"coupon_codes,omitempty"`
	Options      services.QuoteOptions `json:"options"`
	ExpiresAt    string                `json:"expires_at"`
}

// ProofRequest is the body of POST /payments/{id}/proof.
type ProofRequest struct {
	Method       string       `json:"method" binding:"required"`
	PayerID      string       `json:"payer_id"`
	ProcessorRef string       `json:"processor_ref"`
	Proof        *chain.Proof `json:"proof"`
}

// SettlementResponse reports a settlement with the access grant.
type SettlementResponse struct {
	Granted      bool   `json:"granted"`
	SettlementID string `json:"settlement_id"`
	QuoteID      string `json:"quote_id"`
	ResourceID   string `json:"resource_id"`
	PayerID      string `json:"payer_id"`
	AmountAtomic int64  `json:"amount_atomic"`
	AssetCode    string `json:"asset_code"`
	Method       string `json:"method"`
	TxRef        string `json:"tx_ref,omitempty"`
}

func settlementResponse(rec *domain.PaymentTransaction) SettlementResponse {
	return SettlementResponse{
		Granted:      true,
		SettlementID: rec.ID,
		QuoteID:      rec.QuoteID,
		ResourceID:   rec.ResourceID,
		PayerID:      rec.PayerID,
		AmountAtomic: rec.AmountAtomic,
		AssetCode:    rec.AssetCode,
		Method:       rec.Method,
		TxRef:        rec.TxRef,
	}
}

//
// Endpoints
//

// CreateQuote handles POST /payments/quote.
func (h *Handlers) CreateQuote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	q, err := h.payments.BuildQuote(c.Request.Context(), tenantID(c), services.QuoteInput{
		ResourceID:   req.ResourceID,
		AmountAtomic: req.AmountAtomic,
		AssetCode:    req.AssetCode,
		CustomerID:   req.CustomerID,
		CouponCodes:  req.CouponCodes,
		Exact:        req.Exact,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, quoteResponse(q))
}

// SubmitProof handles POST /payments/{id}/proof.
func (h *Handlers) SubmitProof(c *gin.Context) {
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	rec, err := h.payments.SubmitProof(c.Request.Context(), tenantID(c), c.Param("id"), services.ProofSubmission{
		Method:       req.Method,
		PayerID:      req.PayerID,
		ProcessorRef: req.ProcessorRef,
		Proof:        req.Proof,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, settlementResponse(rec))
}

// GetPayment handles GET /payments/{id}.
func (h *Handlers) GetPayment(c *gin.Context) {
	rec, err := h.payments.GetPayment(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, settlementResponse(rec))
}

// quoteResponse converts a stored quote into its API form, decoding the
// serialized payment options.
func quoteResponse(q *domain.Quote) QuoteResponse {
	var opts services.QuoteOptions
	_ = json.Unmarshal([]byte(q.OptionsJSON), &opts)
	resp := QuoteResponse{
		ID:           q.ID,
		ResourceID:   q.ResourceID,
		AmountAtomic: q.AmountAtomic,
		AssetCode:    q.AssetCode,
		Options:      opts,
		ExpiresAt:    q.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if q.CouponCodes != "" {
		resp.CouponCodes = strings.Split(q.CouponCodes, ",")
	}
	return resp
}
