// Package services – outbound event sink.
//
// The sink translates orchestrator outcomes into queued webhook deliveries.
// Enqueue reports insert failures so callers running inside a transaction
// abort rather than commit with the event lost. Only delivery is decoupled
// from the caller; recording the event is not.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/repo"
)

// EventSink queues outbound domain events for the webhook dispatcher.
// Destinations resolves a tenant's endpoint; an empty return means the
// tenant has no webhook configured and the event is dropped silently.
type EventSink struct {
	Destinations func(tenantID string) string
	MaxAttempts  int
}

// Enqueue serializes payload and inserts a pending delivery due immediately.
// A nil sink or an unconfigured tenant is a no-op, so services stay usable
// without webhook wiring. A failed insert is returned to the caller.
func (e *EventSink) Enqueue(ctx context.Context, db *gorm.DB, tenantID, eventType string, payload any) error {
	if e == nil || e.Destinations == nil {
		return nil
	}
	dest := e.Destinations(tenantID)
	if dest == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	w := &domain.PendingWebhook{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Destination:   dest,
		EventType:     eventType,
		Payload:       body,
		Status:        domain.WebhookPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := repo.EnqueueWebhook(ctx, db, w); err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", eventType, err)
	}
	return nil
}
