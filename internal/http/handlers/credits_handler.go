// Credit hold HTTP handlers.
//
//   - POST /holds                 (place a hold; idempotent on hold ID)
//   - GET  /holds/{id}            (fetch a hold)
//   - POST /holds/{id}/capture    (finalize as consumed)
//   - POST /holds/{id}/release    (finalize as returned)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/services"
)

// HoldRequest is the body of POST /holds. The caller supplies the hold ID so
// retries of the same request converge on one row.
type HoldRequest struct {
	ID           string `json:"id"            binding:"required"`
	OwnerID      string `json:"owner_id"      binding:"required"`
	ResourceID   string `json:"resource_id"   binding:"required"`
	AmountAtomic int64  `json:"amount_atomic" binding:"required"`
	AssetCode    string `json:"asset_code"    binding:"required"`
}

// CreateHold handles POST /holds.
func (h *Handlers) CreateHold(c *gin.Context) {
	var req HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	hold, err := h.credits.Hold(c.Request.Context(), tenantID(c), services.HoldInput{
		ID:           req.ID,
		OwnerID:      req.OwnerID,
		ResourceID:   req.ResourceID,
		AmountAtomic: req.AmountAtomic,
		AssetCode:    req.AssetCode,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, hold)
}

// GetHold handles GET /holds/{id}.
func (h *Handlers) GetHold(c *gin.Context) {
	hold, err := h.credits.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, hold)
}

// CaptureHold handles POST /holds/{id}/capture.
func (h *Handlers) CaptureHold(c *gin.Context) {
	if err := h.credits.Capture(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ReleaseHold handles POST /holds/{id}/release.
func (h *Handlers) ReleaseHold(c *gin.Context) {
	if err := h.credits.Release(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
