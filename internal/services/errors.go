// Package services implements the payment orchestrator: quoting, proof
// verification and exactly-once settlement, carts, credit holds and refunds.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Quote and settlement errors.
var (
	// ErrQuoteNotFound indicates that the requested quote does not exist or
	// belongs to another tenant.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrQuoteExpired is returned when a proof is submitted against a quote
	// past its expiry; the caller must request a new quote.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrSettlementNotFound indicates that the requested settlement record
	// does not exist or belongs to another tenant.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrUnknownMethod is returned for a payment method outside the
	// supported set.
	ErrUnknownMethod = errors.New("unknown payment method")

	// ErrMissingProof is returned when a submission lacks the proof material
	// its declared method requires.
	ErrMissingProof = errors.New("missing proof material")

	// ErrDownstreamUnavailable is returned when the circuit breaker guarding
	// a verification or execution dependency is open. The request was not
	// attempted; the caller may retry after the cooldown.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")

	// ErrInvalidInput wraps request-shape validation failures so transport
	// layers can map them to client errors.
	ErrInvalidInput = errors.New("invalid input")
)

// Cart, hold and refund errors.
var (
	// ErrCartNotFound indicates that the cart quote does not exist or
	// belongs to another tenant.
	ErrCartNotFound = errors.New("cart not found")

	// ErrCartConflict is returned when a second payer attempts to settle a
	// cart already paid by someone else.
	ErrCartConflict = errors.New("cart already paid by another payer")

	// ErrHoldNotFound indicates that the credit hold does not exist or
	// belongs to another tenant.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrHoldConflict is returned when a hold id is re-created with
	// different parameters, or a capture/release is attempted from a state
	// that does not permit it.
	ErrHoldConflict = errors.New("hold conflict")

	// ErrRefundNotFound indicates that the refund quote does not exist or
	// belongs to another tenant.
	ErrRefundNotFound = errors.New("refund quote not found")

	// ErrRefundInFlight is returned when approval or denial is attempted
	// while another approver's transfer for the same quote is executing.
	ErrRefundInFlight = errors.New("refund execution in progress")

	// ErrRefundFinalized is returned when approval or denial is attempted on
	// a refund quote that already reached a terminal state.
	ErrRefundFinalized = errors.New("refund quote already finalized")

	// ErrCouponNotFound is returned when a requested coupon code does not
	// exist for the tenant.
	ErrCouponNotFound = errors.New("coupon not found")
)

// RailError is a typed verification rejection surfaced to the caller. Code
// and Retryable come straight from the rail's verifier, so clients can
// distinguish "resubmit the same proof later" from "this proof will never
// settle".
type RailError struct {
	Code      string
	Detail    string
	Retryable bool
}

// Error implements the error interface.
func (e *RailError) Error() string {
	return fmt.Sprintf("payment rejected: %s (%s)", e.Code, e.Detail)
}
