// Package domain – inbound idempotency records.
//
// These types back the idempotency-key store used to de-duplicate retried
// inbound requests (payment submissions, processor callbacks).
package domain

import "time"

// Idempotency represents the recorded result of a previously processed
// request, keyed by (tenant_id, key). Creation is insert-if-absent: a
// duplicate request with the same key is served the cached response instead
// of re-executing side effects, and a second write with a different key can
// never overwrite an unrelated prior record.
//
// RequestHash fingerprints the original request body so that a caller
// reusing a key for a different payload is detected as a conflict rather
// than silently replayed.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	TenantID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_key,priority:1"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_key,priority:2"`
	RequestHash string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	Body        []byte    `gorm:"type:BLOB"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
