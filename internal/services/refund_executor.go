package services

import (
	"context"
	"fmt"

	"github.com/averix/go-payments-backend/internal/domain"
)

// OnChainRefunder sends a token transfer from the service wallet.
type OnChainRefunder interface {
	Refund(ctx context.Context, refundID, recipient string, amountAtomic int64, assetCode string) (string, error)
}

// CardRefunder reverses a card charge through the processor.
type CardRefunder interface {
	Refund(ctx context.Context, processorRef string, amountAtomic int64, currency string) (string, error)
}

// RailRefundExecutor routes refund execution to the rail the settlement was
// paid on.
type RailRefundExecutor struct {
	OnChain OnChainRefunder
	Card    CardRefunder
}

// ExecuteRefund implements RefundExecutor.
func (e *RailRefundExecutor) ExecuteRefund(ctx context.Context, r *domain.RefundQuote, settlement *domain.PaymentTransaction) (string, error) {
	switch settlement.Method {
	case domain.MethodOnChain:
		if e.OnChain == nil {
			return "", fmt.Errorf("no on-chain refunder configured")
		}
		return e.OnChain.Refund(ctx, r.ID, r.Recipient, r.AmountAtomic, r.AssetCode)
	case domain.MethodCard:
		if e.Card == nil {
			return "", fmt.Errorf("no card refunder configured")
		}
		return e.Card.Refund(ctx, settlement.TxRef, r.AmountAtomic, r.AssetCode)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, settlement.Method)
	}
}
