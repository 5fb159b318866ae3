// Package domain – outbound webhook queue models.
//
// PendingWebhook rows form the durable delivery queue drained by the
// dispatch worker; DlqWebhook rows hold entries that exhausted their retry
// budget and await manual replay or deletion. Payload bytes are preserved
// exactly through the queue → DLQ → replay cycle so a replayed event is
// byte-identical to the original.
package domain

import "time"

// Webhook queue states. A row is claimed (pending/retrying → processing)
// before dispatch so that concurrent workers never double-deliver; an
// interrupted attempt is reset to retrying, never left in processing.
const (
	WebhookPending    = "pending"
	WebhookRetrying   = "retrying"
	WebhookProcessing = "processing"
	WebhookDelivered  = "delivered"
)

// Outbound event types produced by the orchestrator.
const (
	EventPaymentSucceeded     = "payment.succeeded"
	EventRefundSucceeded      = "refund.succeeded"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
)

// PendingWebhook is one queued delivery of a domain event to a tenant
// endpoint.
//
// Fields:
//   - Payload: the exact JSON bytes to deliver; signed per tenant at
//     dispatch time, never rewritten.
//   - Attempts / MaxAttempts: bounded retry budget; reaching the bound moves
//     the row to the DLQ atomically.
//   - NextAttemptAt: due time computed with exponential backoff and jitter.
//   - FirstAttemptAt / LastAttemptAt: audit timestamps carried into the DLQ.
type PendingWebhook struct {
	ID             string     `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID       string     `json:"tenant_id"   gorm:"type:varchar(64);not null;index"`
	Destination    string     `json:"destination" gorm:"type:varchar(2048);not null"`
	EventType      string     `json:"event_type"  gorm:"type:varchar(64);not null"`
	Payload        []byte     `json:"payload"     gorm:"type:BLOB;not null"`
	Status         string     `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index:idx_webhook_due,priority:1;check:status IN ('pending','retrying','processing','delivered')"`
	Attempts       int        `json:"attempts"    gorm:"not null;default:0"`
	MaxAttempts    int        `json:"max_attempts" gorm:"not null"`
	LastError      string     `json:"last_error,omitempty" gorm:"type:text"`
	NextAttemptAt  time.Time  `json:"next_attempt_at" gorm:"not null;index:idx_webhook_due,priority:2"`
	FirstAttemptAt *time.Time `json:"first_attempt_at,omitempty"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PendingWebhook.
func (PendingWebhook) TableName() string { return "pending_webhooks" }

// DlqWebhook is a dead-lettered delivery. The row keeps the original queue
// id and payload bytes so an operator replay reproduces the original event
// exactly.
type DlqWebhook struct {
	ID             string     `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID       string     `json:"tenant_id"   gorm:"type:varchar(64);not null;index"`
	Destination    string     `json:"destination" gorm:"type:varchar(2048);not null"`
	EventType      string     `json:"event_type"  gorm:"type:varchar(64);not null"`
	Payload        []byte     `json:"payload"     gorm:"type:BLOB;not null"`
	Attempts       int        `json:"attempts"    gorm:"not null"`
	FinalError     string     `json:"final_error" gorm:"type:text;not null"`
	FirstAttemptAt *time.Time `json:"first_attempt_at,omitempty"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	DeadAt         time.Time  `json:"dead_at"     gorm:"not null;index"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName returns the database table name for DlqWebhook.
func (DlqWebhook) TableName() string { return "dlq_webhooks" }
