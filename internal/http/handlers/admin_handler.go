// Dead-letter queue admin endpoints.
//
//   - GET    /admin/dlq               (page through dead-lettered webhooks)
//   - POST   /admin/dlq/{id}/replay   (re-enqueue a dead letter for delivery)
//   - DELETE /admin/dlq/{id}          (discard a dead letter)
//   - GET    /admin/stats             (per-tenant settlement and queue stats)
//
// These operate on the repo layer directly. The dispatcher owns delivery;
// admin only moves rows between the DLQ and the pending queue.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/repo"
	"github.com/averix/go-payments-backend/internal/utils"
)

// AdminHandlers groups DLQ maintenance endpoints. Unlike the payment API it
// talks to the database directly; there is no business logic to isolate.
type AdminHandlers struct {
	DB *gorm.DB
	// MaxAttempts is the delivery budget granted to replayed webhooks.
	MaxAttempts int
}

// NewAdminHandlers constructs the admin endpoint group.
func NewAdminHandlers(db *gorm.DB, maxAttempts int) *AdminHandlers {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &AdminHandlers{DB: db, MaxAttempts: maxAttempts}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDlqResponse wraps a page of dead letters and pagination information.
type ListDlqResponse struct {
	Webhooks   []domain.DlqWebhook `json:"webhooks"`
	Pagination Pagination          `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// ListDlq handles GET /admin/dlq.
func (a *AdminHandlers) ListDlq(c *gin.Context) {
	tenant := tenantID(c)
	page, pageSize := clampPagination(c)

	total, err := repo.CountDlqWebhooks(c.Request.Context(), a.DB, tenant)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to count dead letters")
		return
	}
	rows, err := repo.ListDlqWebhooks(c.Request.Context(), a.DB, tenant, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list dead letters")
		return
	}

	totalPages := utils.PageCount(total, pageSize)
	ok(c, http.StatusOK, ListDlqResponse{
		Webhooks: rows,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ReplayDlq handles POST /admin/dlq/{id}/replay. The dead letter is moved
// back to the pending queue with a fresh attempt budget and its original
// payload bytes.
func (a *AdminHandlers) ReplayDlq(c *gin.Context) {
	w, err := repo.ReplayDlqWebhook(c.Request.Context(), a.DB, tenantID(c), c.Param("id"), a.MaxAttempts, time.Now().UTC())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "dead letter not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to replay dead letter")
	default:
		ok(c, http.StatusOK, w)
	}
}

// StatsResponse reports per-tenant operational aggregates.
type StatsResponse struct {
	Settlements      int64            `json:"settlements"`
	LastSettlementAt *time.Time       `json:"last_settlement_at,omitempty"`
	WebhookQueue     map[string]int64 `json:"webhook_queue"`
}

// Stats handles GET /admin/stats. It reports the settlement volume and the
// live webhook queue depth for the requesting tenant.
func (a *AdminHandlers) Stats(c *gin.Context) {
	tenant := tenantID(c)

	count, last, err := repo.SettlementsStats(c.Request.Context(), a.DB, tenant)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to read settlement stats")
		return
	}
	queue, err := repo.WebhookQueueStats(c.Request.Context(), a.DB, tenant)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to read queue stats")
		return
	}
	ok(c, http.StatusOK, StatsResponse{
		Settlements:      count,
		LastSettlementAt: last,
		WebhookQueue:     queue,
	})
}

// DeleteDlq handles DELETE /admin/dlq/{id}.
func (a *AdminHandlers) DeleteDlq(c *gin.Context) {
	err := repo.DeleteDlqWebhook(c.Request.Context(), a.DB, tenantID(c), c.Param("id"))
	switch {
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "dead letter not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to delete dead letter")
	default:
		noContent(c)
	}
}
