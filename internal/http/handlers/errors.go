// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., payment_rejected, quote_expired) are reserved for
//     business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Usage:
//   - Handlers select the most specific matching code and pass it to `fail()` along
//     with the corresponding HTTP status and message.
//   - Clients are expected to branch on these codes for programmatic error handling.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "quote_expired",
//     "message": "quote expired"
//   }

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeQuoteExpired     = "quote_expired"
	ErrCodePaymentRejected  = "payment_rejected"
	ErrCodeDownstream       = "downstream_unavailable"
	ErrCodeBadSignature     = "bad_signature"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// RejectionResponse is returned for typed verification failures. Retryable
// tells the client whether resubmitting the same proof can ever succeed.
type RejectionResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// isValidationError reports whether err stems from malformed client input
// rather than server state.
func isValidationError(err error) bool {
	return errors.Is(err, money.ErrUnknownAsset) ||
		errors.Is(err, money.ErrNegativeAmount) ||
		errors.Is(err, money.ErrAssetMismatch) ||
		errors.Is(err, services.ErrInvalidInput)
}

// failService translates a service-layer error into the matching HTTP
// response. Unrecognized errors become 500s.
func failService(c *gin.Context, err error) {
	var railErr *services.RailError
	switch {
	case errors.As(err, &railErr):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, RejectionResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      ErrCodePaymentRejected,
			Reason:    railErr.Code,
			Message:   railErr.Detail,
			Retryable: railErr.Retryable,
		})
	case errors.Is(err, services.ErrQuoteExpired):
		fail(c, http.StatusGone, ErrCodeQuoteExpired, err.Error())
	case errors.Is(err, services.ErrQuoteNotFound),
		errors.Is(err, services.ErrSettlementNotFound),
		errors.Is(err, services.ErrCartNotFound),
		errors.Is(err, services.ErrHoldNotFound),
		errors.Is(err, services.ErrRefundNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrCartConflict),
		errors.Is(err, services.ErrHoldConflict),
		errors.Is(err, services.ErrRefundFinalized),
		errors.Is(err, services.ErrRefundInFlight):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrDownstreamUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeDownstream, err.Error())
	case errors.Is(err, services.ErrUnknownMethod),
		errors.Is(err, services.ErrMissingProof),
		errors.Is(err, services.ErrCouponNotFound),
		isValidationError(err):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
