// Package services – card-rail event handling.
//
// Normalized processor events drive the card side of the orchestrator: a
// succeeded payment settles its quote exactly once (the processor event id
// doubles as the proof id, so redeliveries adopt the stored settlement), and
// the remaining event types are forwarded to the tenant's webhook endpoint.
// Forwarded events are deduplicated on the processor event id so a
// redelivery cannot queue the same outbound webhook twice.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/processor"
	"github.com/averix/go-payments-backend/internal/repo"
)

// processorEventTTL bounds how long a processor event id is remembered for
// deduplication. Processors stop redelivering well inside this window.
const processorEventTTL = 72 * time.Hour

// HandleProcessorEvent applies one normalized processor event. For a
// succeeded payment it returns the settlement record; for forwarded event
// types it returns nil.
func (s *PaymentService) HandleProcessorEvent(ctx context.Context, tenantID string, ev *processor.Event) (*domain.PaymentTransaction, error) {
	switch ev.EventType {
	case domain.EventPaymentSucceeded:
		quoteID := ev.Metadata["quote_id"]
		if quoteID == "" {
			quoteID = ev.ResourceID
		}
		if quoteID == "" {
			return nil, fmt.Errorf("processor event %s carries no quote reference", ev.ID)
		}
		rec, err := s.SubmitProof(ctx, tenantID, quoteID, ProofSubmission{
			Method:       domain.MethodCard,
			PayerID:      ev.Metadata["customer_id"],
			ProcessorRef: ev.ProcessorRef,
		})
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("event_id", ev.ID).
			Str("settlement_id", rec.ID).
			Msg("card payment settled")
		return rec, nil

	case domain.EventRefundSucceeded,
		domain.EventSubscriptionCreated,
		domain.EventSubscriptionRenewed,
		domain.EventSubscriptionCanceled:
		// Processor-originated lifecycle events are forwarded as-is, guarded
		// by the event id so the insert and the dedup record commit together.
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.CreateIdempotency(ctx, tx, tenantID, "processor:"+ev.ID, ev.EventType, 200, nil, processorEventTTL); err != nil {
				return err
			}
			return s.Events.Enqueue(ctx, tx, tenantID, ev.EventType, map[string]any{
				"event":         ev.EventType,
				"processor_ref": ev.ProcessorRef,
				"resource_id":   ev.ResourceID,
				"amount_atomic": ev.AmountAtomic,
				"currency":      ev.Currency,
				"metadata":      ev.Metadata,
			})
		})
		if errors.Is(err, repo.ErrDuplicate) {
			log.Debug().Str("event_id", ev.ID).Str("event", ev.EventType).Msg("processor event redelivered, already forwarded")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s", processor.ErrUnhandledEvent, ev.EventType)
	}
}
