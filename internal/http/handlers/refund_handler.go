// Refund HTTP handlers.
//
//   - POST /refunds/quote          (offer a refund against a settlement)
//   - GET  /refunds/{id}           (fetch a refund quote)
//   - POST /refunds/{id}/approve   (execute the refund and finalize)
//   - POST /refunds/{id}/deny      (finalize without moving money)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/domain"
)

// RefundQuoteRequest is the body of POST /refunds/quote.
type RefundQuoteRequest struct {
	SettlementID string `json:"settlement_id" binding:"required"`
}

// RefundDecisionRequest identifies the operator finalizing a refund quote.
type RefundDecisionRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// RefundResponse reports a refund quote with its derived lifecycle state.
type RefundResponse struct {
	ID           string  `json:"id"`
	SettlementID string  `json:"settlement_id"`
	Recipient    string  `json:"recipient"`
	AmountAtomic int64   `json:"amount_atomic"`
	AssetCode    string  `json:"asset_code"`
	Status       string  `json:"status"`
	Signature    *string `json:"signature,omitempty"`
	ApprovedBy   *string `json:"approved_by,omitempty"`
	ExpiresAt    string  `json:"expires_at"`
}

func refundResponse(r *domain.RefundQuote) RefundResponse {
	return RefundResponse{
		ID:           r.ID,
		SettlementID: r.SettlementID,
		Recipient:    r.Recipient,
		AmountAtomic: r.AmountAtomic,
		AssetCode:    r.AssetCode,
		Status:       r.Status(),
		Signature:    r.Signature,
		ApprovedBy:   r.ApprovedBy,
		ExpiresAt:    r.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateRefundQuote handles POST /refunds/quote.
func (h *Handlers) CreateRefundQuote(c *gin.Context) {
	var req RefundQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	r, err := h.refunds.QuoteRefund(c.Request.Context(), tenantID(c), req.SettlementID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, refundResponse(r))
}

// GetRefund handles GET /refunds/{id}.
func (h *Handlers) GetRefund(c *gin.Context) {
	r, err := h.refunds.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, refundResponse(r))
}

// ApproveRefund handles POST /refunds/{id}/approve.
func (h *Handlers) ApproveRefund(c *gin.Context) {
	var req RefundDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	r, err := h.refunds.Approve(c.Request.Context(), tenantID(c), c.Param("id"), req.Operator)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, refundResponse(r))
}

// DenyRefund handles POST /refunds/{id}/deny.
func (h *Handlers) DenyRefund(c *gin.Context) {
	var req RefundDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	r, err := h.refunds.Deny(c.Request.Context(), tenantID(c), c.Param("id"), req.Operator)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, refundResponse(r))
}
