// Package services – RefundService
//
// Refunds are quoted automatically against an existing settlement but never
// executed automatically: money moves only on explicit admin approval.
// Approval claims the quote, runs the rail-side executor behind a breaker,
// then finalizes with the transfer signature and approver identity. Denial
// claims and finalizes with neither. Both outcomes are terminal, and the
// claim keeps concurrent approvals from executing the transfer twice.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/breaker"
	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/repo"
)

// RefundExecutor moves the money for an approved refund and returns the rail
// reference (transfer signature or processor refund id). The settlement
// carries the rail method and the original transaction reference.
type RefundExecutor interface {
	ExecuteRefund(ctx context.Context, r *domain.RefundQuote, settlement *domain.PaymentTransaction) (string, error)
}

// RefundService quotes and finalizes refunds.
type RefundService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Executor performs the actual transfer on approval.
	Executor RefundExecutor
	// ExecBreaker guards the executor's downstream. Nil disables the guard.
	ExecBreaker *breaker.Breaker
	// QuoteTTL bounds how long an unapproved refund quote stays actionable.
	QuoteTTL time.Duration
	// Events queues outbound webhooks. Nil disables them.
	Events *EventSink

	now func() time.Time
}

// NewRefundService constructs a RefundService with sane defaults.
func NewRefundService(db *gorm.DB, executor RefundExecutor) *RefundService {
	return &RefundService{
		DB:       db,
		Executor: executor,
		QuoteTTL: 24 * time.Hour,
		now:      time.Now,
	}
}

// QuoteRefund computes a full-amount refund offer against the settlement.
// The quote is pending until an admin approves or denies it.
func (s *RefundService) QuoteRefund(ctx context.Context, tenantID, settlementID string) (*domain.RefundQuote, error) {
	rec, err := repo.GetSettlement(ctx, s.DB, tenantID, settlementID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	r := &domain.RefundQuote{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		SettlementID: rec.ID,
		Recipient:    rec.PayerID,
		AmountAtomic: rec.AmountAtomic,
		AssetCode:    rec.AssetCode,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.quoteTTL()),
	}
	if err := repo.CreateRefundQuote(ctx, s.DB, r); err != nil {
		return nil, err
	}
	log.Info().
		Str("refund_id", r.ID).
		Str("settlement_id", rec.ID).
		Int64("amount_atomic", r.AmountAtomic).
		Msg("refund quoted, awaiting approval")
	return r, nil
}

// Get fetches a refund quote, tenant-scoped.
func (s *RefundService) Get(ctx context.Context, tenantID, id string) (*domain.RefundQuote, error) {
	r, err := repo.GetRefundQuote(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRefundNotFound
	}
	return r, err
}

// refundClaimTTL bounds how long a claim blocks other approvers. A claim
// older than this belongs to a holder that died mid-transfer and is taken
// over.
const refundClaimTTL = 5 * time.Minute

// Approve executes the refund transfer and finalizes the quote with the
// transfer reference and approver identity. The quote is claimed before the
// executor runs, so concurrent approvals cannot both reach the transfer: the
// loser sees ErrRefundInFlight while the claim is live and ErrRefundFinalized
// afterwards. An executor failure releases the claim so approval can be
// retried.
func (s *RefundService) Approve(ctx context.Context, tenantID, id, approvedBy string) (*domain.RefundQuote, error) {
	r, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if r.Status() != domain.RefundPending {
		return nil, ErrRefundFinalized
	}
	now := s.clock().UTC()
	if !now.Before(r.ExpiresAt) {
		return nil, ErrQuoteExpired
	}

	settlement, err := repo.GetSettlement(ctx, s.DB, tenantID, r.SettlementID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.claim(ctx, tenantID, id, now); err != nil {
		return nil, err
	}

	ref, err := s.execute(ctx, r, settlement)
	if err != nil {
		if relErr := repo.ReleaseRefundClaim(ctx, s.DB, tenantID, id); relErr != nil {
			log.Error().Err(relErr).Str("refund_id", id).Msg("release refund claim")
		}
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.FinalizeRefundQuote(ctx, tx, tenantID, id, &ref, &approvedBy, now); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ErrRefundFinalized
			}
			return err
		}
		return s.Events.Enqueue(ctx, tx, tenantID, domain.EventRefundSucceeded, map[string]any{
			"event":         domain.EventRefundSucceeded,
			"refund_id":     r.ID,
			"settlement_id": r.SettlementID,
			"recipient":     r.Recipient,
			"amount_atomic": r.AmountAtomic,
			"asset_code":    r.AssetCode,
			"reference":     ref,
			"approved_by":   approvedBy,
			"processed_at":  now.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, id)
}

// Deny finalizes the quote without moving money. Denial claims the quote
// first so it cannot land while another admin's approval transfer is in
// flight.
func (s *RefundService) Deny(ctx context.Context, tenantID, id, deniedBy string) (*domain.RefundQuote, error) {
	now := s.clock().UTC()
	if err := s.claim(ctx, tenantID, id, now); err != nil {
		return nil, err
	}
	err := repo.FinalizeRefundQuote(ctx, s.DB, tenantID, id, nil, &deniedBy, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrRefundNotFound
	case errors.Is(err, repo.ErrConflict):
		return nil, ErrRefundFinalized
	case err != nil:
		return nil, err
	}
	return s.Get(ctx, tenantID, id)
}

// claim acquires the execution claim on a pending quote, mapping repo
// sentinels to service errors.
func (s *RefundService) claim(ctx context.Context, tenantID, id string, now time.Time) error {
	err := repo.ClaimRefundQuote(ctx, s.DB, tenantID, id, now, now.Add(-refundClaimTTL))
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrRefundNotFound
	case errors.Is(err, repo.ErrConflict):
		return ErrRefundFinalized
	case errors.Is(err, repo.ErrClaimed):
		return ErrRefundInFlight
	}
	return err
}

// execute runs the transfer behind the breaker. An open breaker fails fast
// and leaves the quote pending for a later retry.
func (s *RefundService) execute(ctx context.Context, r *domain.RefundQuote, settlement *domain.PaymentTransaction) (string, error) {
	if s.Executor == nil {
		return "", errors.New("no refund executor configured")
	}
	var ref string
	run := func(ctx context.Context) error {
		out, err := s.Executor.ExecuteRefund(ctx, r, settlement)
		if err != nil {
			return err
		}
		ref = out
		return nil
	}
	var err error
	if s.ExecBreaker != nil {
		err = s.ExecBreaker.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, breaker.ErrOpen) {
		return "", ErrDownstreamUnavailable
	}
	if err != nil {
		return "", fmt.Errorf("execute refund: %w", err)
	}
	return ref, nil
}

func (s *RefundService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *RefundService) quoteTTL() time.Duration {
	if s.QuoteTTL <= 0 {
		return 24 * time.Hour
	}
	return s.QuoteTTL
}
