// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) and operator
// dashboards in the HTTP layer. Each function is context-aware and safe to
// call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// SettlementsStats returns aggregate metadata for a tenant's settlements:
// the total number of rows and the maximum CreatedAt timestamp among those
// rows. Settlement rows are immutable, so CreatedAt is the freshness bound.
//
// It executes two lightweight queries against the payment_transactions
// table scoped to the provided tenantID. When the tenant has no
// settlements, the returned count is 0 and maxCreatedAt is nil.
//
// Return values:
//   - count:        total settlements for tenantID
//   - maxCreatedAt: pointer to the greatest CreatedAt, or nil if no rows
//   - err:          database error, if any
func SettlementsStats(ctx context.Context, db *gorm.DB, tenantID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.PaymentTransaction{}).Where("tenant_id = ?", tenantID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// WebhookQueueStats returns the live queue depth per delivery state for a
// tenant. States with no rows are present in the map with a zero count so
// dashboards render a stable set of series.
func WebhookQueueStats(ctx context.Context, db *gorm.DB, tenantID string) (map[string]int64, error) {
	out := map[string]int64{
		domain.WebhookPending:    0,
		domain.WebhookRetrying:   0,
		domain.WebhookProcessing: 0,
		domain.WebhookDelivered:  0,
	}
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).Model(&domain.PendingWebhook{}).
		Select("status, COUNT(*) AS n").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
