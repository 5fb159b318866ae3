// Card processor webhook endpoint.
//
// POST /processor/webhook receives signed events from the card rail, verifies
// the HMAC signature over the raw body, normalizes the provider envelope and
// hands the event to the payment service. Unhandled event types are
// acknowledged with 200 so the processor stops redelivering them.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/averix/go-payments-backend/internal/processor"
)

// maxProcessorPayload bounds the webhook body read.
const maxProcessorPayload = 1 << 20

// ProcessorWebhook handles POST /processor/webhook.
func (h *Handlers) ProcessorWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProcessorPayload))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable payload")
		return
	}

	sig := c.GetHeader(processor.SignatureHeader)
	if err := processor.VerifySignature(sig, payload, h.processorSecret, time.Now()); err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeBadSignature, "invalid signature")
		return
	}

	ev, err := processor.Normalize(payload)
	if err != nil {
		if errors.Is(err, processor.ErrUnhandledEvent) {
			// Acknowledged but ignored.
			ok(c, http.StatusOK, gin.H{"received": true})
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed payload")
		return
	}

	rec, err := h.payments.HandleProcessorEvent(c.Request.Context(), tenantID(c), ev)
	if err != nil {
		if errors.Is(err, processor.ErrUnhandledEvent) {
			ok(c, http.StatusOK, gin.H{"received": true})
			return
		}
		log.Warn().Err(err).Str("event_id", ev.ID).Str("event_type", ev.EventType).
			Msg("processor event failed")
		failService(c, err)
		return
	}

	resp := gin.H{"received": true}
	if rec != nil {
		resp["settlement_id"] = rec.ID
	}
	ok(c, http.StatusOK, resp)
}
