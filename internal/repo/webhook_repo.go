// Package repo – outbound webhook queue and dead-letter queue.
//
// Queue rows move pending/retrying → processing → delivered, or into the
// DLQ once the retry budget is spent. Claiming is a conditional per-row
// update so multiple dispatch workers can drain the same queue without
// double-delivery; queue → DLQ and DLQ → queue moves are single
// transactions so an event can never exist in both places or in neither.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// EnqueueWebhook durably inserts one queue entry. Callers batching related
// events run several inserts inside one transaction via db.Transaction.
func EnqueueWebhook(ctx context.Context, db *gorm.DB, w *domain.PendingWebhook) error {
	return db.WithContext(ctx).Create(w).Error
}

// ClaimDueWebhooks atomically claims up to limit due entries for this
// worker. A row counts as claimed only when the conditional update from
// pending/retrying to processing touched it, so two workers scanning the
// same candidates split them instead of sharing them.
func ClaimDueWebhooks(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]domain.PendingWebhook, error) {
	var candidates []domain.PendingWebhook
	err := db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?", []string{domain.WebhookPending, domain.WebhookRetrying}, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.PendingWebhook, 0, len(candidates))
	for i := range candidates {
		res := db.WithContext(ctx).Model(&domain.PendingWebhook{}).
			Where("id = ? AND status IN ?", candidates[i].ID, []string{domain.WebhookPending, domain.WebhookRetrying}).
			Update("status", domain.WebhookProcessing)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			candidates[i].Status = domain.WebhookProcessing
			claimed = append(claimed, candidates[i])
		}
	}
	return claimed, nil
}

// MarkWebhookDelivered finalizes a successful delivery.
func MarkWebhookDelivered(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.PendingWebhook{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          domain.WebhookDelivered,
			"last_attempt_at": now,
		}).Error
}

// RecordWebhookFailure advances the attempt counter, stores the error, and
// schedules the next try. first_attempt_at is stamped once, on the first
// failure, so the DLQ audit trail spans the full retry history.
func RecordWebhookFailure(ctx context.Context, db *gorm.DB, w *domain.PendingWebhook, deliveryErr string, nextAttempt, now time.Time) error {
	updates := map[string]any{
		"status":          domain.WebhookRetrying,
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      deliveryErr,
		"next_attempt_at": nextAttempt,
		"last_attempt_at": now,
	}
	if w.FirstAttemptAt == nil {
		updates["first_attempt_at"] = now
	}
	return db.WithContext(ctx).Model(&domain.PendingWebhook{}).
		Where("id = ?", w.ID).
		Updates(updates).Error
}

// DeadLetterWebhook moves an exhausted entry into the DLQ: the DLQ insert
// and the queue delete commit in the same transaction, with the payload
// bytes and attempt timestamps preserved verbatim.
func DeadLetterWebhook(ctx context.Context, db *gorm.DB, w *domain.PendingWebhook, finalErr string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first := w.FirstAttemptAt
		if first == nil {
			first = &now
		}
		dead := &domain.DlqWebhook{
			ID:             w.ID,
			TenantID:       w.TenantID,
			Destination:    w.Destination,
			EventType:      w.EventType,
			Payload:        w.Payload,
			Attempts:       w.Attempts + 1,
			FinalError:     finalErr,
			FirstAttemptAt: first,
			LastAttemptAt:  &now,
			DeadAt:         now,
			CreatedAt:      now,
		}
		if err := tx.Create(dead).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.PendingWebhook{}, "id = ?", w.ID).Error
	})
}

// ReleaseWebhook returns an interrupted in-flight row to the retryable
// state. Called on shutdown so no entry is ever stuck in processing.
func ReleaseWebhook(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.PendingWebhook{}).
		Where("id = ? AND status = ?", id, domain.WebhookProcessing).
		Update("status", domain.WebhookRetrying).Error
}

// ListDlqWebhooks returns a page of dead-lettered entries for a tenant,
// newest first.
func ListDlqWebhooks(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.DlqWebhook, error) {
	var out []domain.DlqWebhook
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("dead_at DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDlqWebhooks returns the tenant's DLQ depth.
func CountDlqWebhooks(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.DlqWebhook{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

// ReplayDlqWebhook moves a dead-lettered entry back into the live queue
// with a fresh attempt counter. The payload travels back byte-for-byte; the
// insert and the DLQ delete commit together.
func ReplayDlqWebhook(ctx context.Context, db *gorm.DB, tenantID, id string, maxAttempts int, now time.Time) (*domain.PendingWebhook, error) {
	var replayed *domain.PendingWebhook
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dead domain.DlqWebhook
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, id).First(&dead).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		replayed = &domain.PendingWebhook{
			ID:            dead.ID,
			TenantID:      dead.TenantID,
			Destination:   dead.Destination,
			EventType:     dead.EventType,
			Payload:       dead.Payload,
			Status:        domain.WebhookPending,
			Attempts:      0,
			MaxAttempts:   maxAttempts,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(replayed).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.DlqWebhook{}, "id = ?", dead.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return replayed, nil
}

// DeleteDlqWebhook discards a dead-lettered entry permanently.
func DeleteDlqWebhook(ctx context.Context, db *gorm.DB, tenantID, id string) error {
	res := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.DlqWebhook{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
