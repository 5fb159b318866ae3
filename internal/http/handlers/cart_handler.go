// Cart HTTP handlers.
//
//   - POST /carts/quote       (price a multi-line cart)
//   - GET  /carts/{id}        (fetch a cart quote)
//   - POST /carts/{id}/pay    (submit proof; first payer wins)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/services"
)

// CartQuoteRequest is the body of POST /carts/quote.
type CartQuoteRequest struct {
	OwnerID     string              `json:"owner_id"    binding:"required"`
	Items       []services.CartItem `json:"items"       binding:"required"`
	AssetCode   string              `json:"asset_code"  binding:"required"`
	CouponCodes []string            `json:"coupon_codes"`
}

// CartPayRequest is the body of POST /carts/{id}/pay.
type CartPayRequest struct {
	Method       string       `json:"method" binding:"required"`
	PayerID      string       `json:"payer_id"`
	ProcessorRef string       `json:"processor_ref"`
	Proof        *chain.Proof `json:"proof"`
}

// CreateCart handles POST /carts/quote.
func (h *Handlers) CreateCart(c *gin.Context) {
	var req CartQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	cart, err := h.carts.BuildCart(c.Request.Context(), tenantID(c), services.CartInput{
		OwnerID:     req.OwnerID,
		Items:       req.Items,
		AssetCode:   req.AssetCode,
		CouponCodes: req.CouponCodes,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, cart)
}

// GetCart handles GET /carts/{id}.
func (h *Handlers) GetCart(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, cart)
}

// PayCart handles POST /carts/{id}/pay.
func (h *Handlers) PayCart(c *gin.Context) {
	var req CartPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	rec, err := h.carts.PayCart(c.Request.Context(), tenantID(c), c.Param("id"), services.ProofSubmission{
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
