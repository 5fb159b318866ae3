// Package repo – idempotency key store.
//
// Records cache the response of the first write attempt per (tenant, key)
// so a retried request replays the original outcome instead of re-running
// the side effect. The insert is the arbiter: under a concurrent retry the
// loser observes the unique violation and reads back the winner's row.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
)

// GetIdempotency returns a non-expired record for (tenant, key), or
// ErrNotFound. Expired rows are invisible to reads and reclaimed by the
// sweep.
func GetIdempotency(ctx context.Context, db *gorm.DB, tenantID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND key = ? AND expires_at > ?", tenantID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateIdempotency inserts a record caching the response for (tenant,
// key). On a unique violation it returns the already-stored record with
// ErrDuplicate so the caller can compare request hashes and replay or
// reject.
func CreateIdempotency(ctx context.Context, db *gorm.DB, tenantID, key, requestHash string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			var existing domain.Idempotency
			if ferr := db.WithContext(ctx).
				Where("tenant_id = ? AND key = ?", tenantID, key).
				First(&existing).Error; ferr == nil {
				return &existing, ErrDuplicate
			}
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose TTL has lapsed and returns
// the number removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
